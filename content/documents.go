package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SiteConfig is the slow-changing project configuration document.
type SiteConfig struct {
	Version     string      `json:"version"`
	Project     Project     `json:"project"`
	Characters  []Character `json:"characters"`
	Scoring     Scoring     `json:"scoring"`
	Metrics     []MetricDef `json:"metrics"`
	StoryArc    StoryArc    `json:"storyArc"`
	Maintenance Maintenance `json:"maintenance"`
}

// Project holds display metadata.
type Project struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Language string `json:"language,omitempty"`
}

// Character is a member of the cast.
type Character struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
	Color string `json:"color,omitempty"`
}

// Scoring lists the score categories episodes contribute to.
type Scoring struct {
	Categories []Category `json:"categories"`
}

// Category is one scoring axis.
type Category struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Max   float64 `json:"max,omitempty"`
}

// MetricDef describes a tracked metric.
type MetricDef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Unit  string `json:"unit,omitempty"`
}

// StoryArc is the ordered list of phases.
type StoryArc struct {
	Phases []Phase `json:"phases"`
}

// Phase is a contiguous range of episodes. A zero bound is open.
type Phase struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	From  int    `json:"fromEpisode,omitempty"`
	To    int    `json:"toEpisode,omitempty"`
}

// Contains reports whether sequence number seq falls inside the phase range.
func (p Phase) Contains(seq int) bool {
	if p.From == 0 && p.To == 0 {
		return false
	}
	return (p.From == 0 || seq >= p.From) && (p.To == 0 || seq <= p.To)
}

// Maintenance carries the access gate settings.
type Maintenance struct {
	Enabled        bool   `json:"enabled"`
	PassphraseHash string `json:"passphraseHash"`
	Hint           string `json:"hint,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Phase returns the phase with the given id.
func (c *SiteConfig) Phase(id string) (Phase, bool) {
	for _, p := range c.StoryArc.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return Phase{}, false
}

// Stats is the frequently updated scoreboard document.
type Stats struct {
	Scores       map[string]float64 `json:"scores"`
	Metrics      map[string]float64 `json:"metrics"`
	CurrentPhase string             `json:"currentPhase"`
	NextUpdate   *time.Time         `json:"nextUpdate,omitempty"`
}

// ValidateEpisodesDocument accepts a JSON array or an object holding one
// under "episodes".
func ValidateEpisodesDocument(raw json.RawMessage) error {
	_, err := decodeEpisodeItems(raw)
	return err
}

// ValidateConfigDocument accepts any JSON object.
func ValidateConfigDocument(raw json.RawMessage) error {
	_, err := decodeObject(raw, "config")
	return err
}

// ValidateStatsDocument accepts a JSON object whose scores and metrics, when
// present, are objects.
func ValidateStatsDocument(raw json.RawMessage) error {
	obj, err := decodeObject(raw, "stats")
	if err != nil {
		return err
	}
	for _, k := range []string{"scores", "metrics"} {
		if v, ok := obj[k]; ok && v != nil {
			if _, ok := v.(map[string]any); !ok {
				return fmt.Errorf("%w: stats.%s must be an object", ErrInvalidDocument, k)
			}
		}
	}
	return nil
}

// NormalizeConfig decodes a config document and fills empty collections.
// Legacy snake_case spellings of the story arc and gate hash are accepted.
func NormalizeConfig(raw json.RawMessage) (json.RawMessage, error) {
	obj, err := decodeObject(raw, "config")
	if err != nil {
		return nil, err
	}
	if _, ok := obj["storyArc"]; !ok {
		if v, ok := obj["story_arc"]; ok {
			obj["storyArc"] = v
		}
	}
	if m, ok := obj["maintenance"].(map[string]any); ok {
		if _, ok := m["passphraseHash"]; !ok {
			if v, ok := m["passphrase_hash"]; ok {
				m["passphraseHash"] = v
			}
		}
	}

	buf, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var cfg SiteConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("%w: config: %v", ErrInvalidDocument, err)
	}
	if cfg.Characters == nil {
		cfg.Characters = []Character{}
	}
	if cfg.Scoring.Categories == nil {
		cfg.Scoring.Categories = []Category{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = []MetricDef{}
	}
	if cfg.StoryArc.Phases == nil {
		cfg.StoryArc.Phases = []Phase{}
	}
	cfg.Maintenance.PassphraseHash = strings.TrimSpace(cfg.Maintenance.PassphraseHash)
	return json.Marshal(cfg)
}

// NormalizeStats decodes a stats document, keeps numeric scores and metrics
// only and parses nextUpdate (RFC 3339). An unparseable nextUpdate is dropped.
func NormalizeStats(raw json.RawMessage) (json.RawMessage, error) {
	obj, err := decodeObject(raw, "stats")
	if err != nil {
		return nil, err
	}
	st := Stats{
		Scores:       numberMap(obj["scores"]),
		Metrics:      numberMap(obj["metrics"]),
		CurrentPhase: stringField(obj, "currentPhase", "current_phase"),
	}
	if s := stringField(obj, "nextUpdate", "next_update"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			t = t.UTC()
			st.NextUpdate = &t
		}
	}
	return json.Marshal(st)
}

func decodeObject(raw []byte, doc string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, doc, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s document must be an object", ErrInvalidDocument, doc)
	}
	return obj, nil
}
