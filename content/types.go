// Package content canonicalizes the externally produced feed documents.
//
// Raw documents have optional and alternately spelled fields. Everything is
// defaulted once here, at the normalization boundary, so consumers of
// Episode, SiteConfig and Stats never need nil checks.
package content

// Message kinds.
const (
	KindSystem   = "system"
	KindDialogue = "dialogue"
)

// Episode is the canonical form of one feed entry. It is built once per raw
// item and replaced wholesale on reload, never mutated in place.
type Episode struct {
	SequenceNumber int                `json:"sequenceNumber"`
	Date           *string            `json:"date"`
	Title          string             `json:"title"`
	Phase          string             `json:"phase,omitempty"`
	Messages       []Message          `json:"messages"`
	TerminalBlocks []TerminalBlock    `json:"terminalBlocks"`
	ScoreDelta     map[string]float64 `json:"scoreDelta"`
	MetricsUpdate  map[string]float64 `json:"metricsUpdate"`
	StateSnapshot  map[string]any     `json:"stateSnapshot"`
	AnalystNotes   []Note             `json:"analystNotes"`
}

// Message is one line of an episode transcript. Timestamp is never empty.
type Message struct {
	Kind      string  `json:"kind"`
	Author    *string `json:"author"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	Synthetic bool    `json:"syntheticTimestamp,omitempty"`
}

// TerminalBlock is a pre-formatted console excerpt attached to an episode.
type TerminalBlock struct {
	Title string   `json:"title,omitempty"`
	Lines []string `json:"lines"`
}

// Note is an analyst annotation.
type Note struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}
