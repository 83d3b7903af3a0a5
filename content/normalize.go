// CLAUDE:SUMMARY Normalizer turning raw episode documents into canonical Episodes (aliases, sequence numbers, synthetic timestamps, sanitized text).
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// TimestampLayout is the format of synthetic message timestamps.
const TimestampLayout = "2006-01-02T15:04:05Z"

// SyntheticStep separates consecutive synthetic message timestamps.
const SyntheticStep = 3 * time.Minute

// syntheticBase is the time of day applied to an episode date when a
// message carries no timestamp.
const (
	syntheticHour   = 3
	syntheticMinute = 14
)

// Report summarizes one normalization pass.
type Report struct {
	Input   int `json:"input"`
	Output  int `json:"output"`
	Dropped int `json:"dropped"`
}

// Normalizer turns raw episode documents into Episodes.
type Normalizer struct {
	now    func() time.Time
	logger *slog.Logger
	policy *bluemonday.Policy
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the clock used when an episode has no usable date.
func WithClock(fn func() time.Time) Option { return func(n *Normalizer) { n.now = fn } }

// WithLogger sets the logger for dropped-item reports.
func WithLogger(l *slog.Logger) Option { return func(n *Normalizer) { n.logger = l } }

// NewNormalizer creates a Normalizer. Message markup is restricted to the
// bluemonday UGC policy.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:    time.Now,
		logger: slog.Default(),
		policy: bluemonday.UGCPolicy(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize decodes an episodes document and normalizes its items. The
// document is a JSON array, or an object holding the array under "episodes".
func (n *Normalizer) Normalize(raw []byte) ([]Episode, Report, error) {
	items, err := decodeEpisodeItems(raw)
	if err != nil {
		return nil, Report{}, err
	}
	eps, rep := n.NormalizeItems(items)
	return eps, rep, nil
}

// Transform adapts Normalize to a cache transform: raw document in,
// canonical JSON array out.
func (n *Normalizer) Transform(raw json.RawMessage) (json.RawMessage, error) {
	eps, rep, err := n.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if rep.Dropped > 0 {
		n.logger.Warn("content: dropped malformed episodes", "dropped", rep.Dropped, "kept", rep.Output)
	}
	return json.Marshal(eps)
}

// NormalizeItems normalizes already-decoded items. Items that are not
// objects are dropped; the rest keep their input order.
func (n *Normalizer) NormalizeItems(items []any) ([]Episode, Report) {
	rep := Report{Input: len(items)}
	out := make([]Episode, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			rep.Dropped++
			continue
		}
		out = append(out, n.episode(obj, i+1))
	}
	rep.Output = len(out)
	return out, rep
}

func (n *Normalizer) episode(obj map[string]any, position int) Episode {
	ep := Episode{
		SequenceNumber: position,
		Title:          plainText(stringField(obj, "title")),
		Phase:          stringField(obj, "phase", "phaseId", "phase_id"),
		TerminalBlocks: terminalBlocks(pick(obj, "terminalBlocks", "terminal_blocks", "terminal")),
		ScoreDelta:     numberMap(pick(obj, "scoreDelta", "score_delta")),
		MetricsUpdate:  numberMap(pick(obj, "metricsUpdate", "metrics_update")),
		AnalystNotes:   n.notes(pick(obj, "analystNotes", "analyst_notes")),
	}
	if seq, ok := positiveInt(pick(obj, "sequenceNumber", "sequence_number", "episode")); ok {
		ep.SequenceNumber = seq
	}
	if d := strings.TrimSpace(stringField(obj, "date")); d != "" {
		ep.Date = &d
	}
	if snap, ok := pick(obj, "stateSnapshot", "state_snapshot").(map[string]any); ok {
		ep.StateSnapshot = snap
	}
	ep.Messages = n.messages(pick(obj, "messages"), n.syntheticBase(ep.Date))
	return ep
}

// syntheticBase returns date at 03:14:00 UTC, or the clock's now when the
// episode has no parseable date.
func (n *Normalizer) syntheticBase(date *string) time.Time {
	if date != nil && len(*date) >= 10 {
		if d, err := time.Parse("2006-01-02", (*date)[:10]); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), syntheticHour, syntheticMinute, 0, 0, time.UTC)
		}
	}
	return n.now().UTC().Truncate(time.Second)
}

func (n *Normalizer) messages(v any, base time.Time) []Message {
	list, _ := v.([]any)
	out := make([]Message, 0, len(list))
	for i, item := range list {
		var m Message
		switch raw := item.(type) {
		case map[string]any:
			m = n.message(raw)
		case string:
			m = Message{Kind: KindSystem, Text: n.richText(raw)}
		default:
			continue
		}
		if m.Timestamp == "" {
			m.Timestamp = base.Add(time.Duration(i) * SyntheticStep).Format(TimestampLayout)
			m.Synthetic = true
		}
		out = append(out, m)
	}
	return out
}

func (n *Normalizer) message(obj map[string]any) Message {
	m := Message{
		Text:      n.richText(stringField(obj, "text", "content")),
		Timestamp: strings.TrimSpace(stringField(obj, "timestamp", "time")),
	}
	if a := plainText(stringField(obj, "author", "from")); a != "" {
		m.Author = &a
	}
	kind := strings.ToLower(stringField(obj, "kind", "type"))
	if kind == KindSystem || m.Author == nil {
		m.Kind = KindSystem
	} else {
		m.Kind = KindDialogue
	}
	return m
}

func (n *Normalizer) notes(v any) []Note {
	list, _ := v.([]any)
	out := make([]Note, 0, len(list))
	for _, item := range list {
		switch raw := item.(type) {
		case string:
			out = append(out, Note{Text: n.richText(raw)})
		case map[string]any:
			out = append(out, Note{
				Author: plainText(stringField(raw, "author", "analyst")),
				Text:   n.richText(stringField(raw, "text", "note")),
			})
		}
	}
	return out
}

func terminalBlocks(v any) []TerminalBlock {
	list, ok := v.([]any)
	if !ok {
		// A single block given as a bare string or object.
		if v == nil {
			return []TerminalBlock{}
		}
		list = []any{v}
	}
	out := make([]TerminalBlock, 0, len(list))
	for _, item := range list {
		switch raw := item.(type) {
		case string:
			out = append(out, TerminalBlock{Lines: splitLines(raw)})
		case map[string]any:
			b := TerminalBlock{Title: stringField(raw, "title", "label")}
			if lines, ok := raw["lines"].([]any); ok {
				b.Lines = make([]string, 0, len(lines))
				for _, l := range lines {
					if s, ok := l.(string); ok {
						b.Lines = append(b.Lines, s)
					}
				}
			} else {
				b.Lines = splitLines(stringField(raw, "content", "text"))
			}
			out = append(out, b)
		}
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// pick returns the first present key, primary spelling first.
func pick(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(obj map[string]any, keys ...string) string {
	s, _ := pick(obj, keys...).(string)
	return s
}

func numberMap(v any) map[string]float64 {
	out := map[string]float64{}
	obj, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, raw := range obj {
		if f, ok := toFloat(raw); ok {
			out[k] = f
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case int:
		return float64(x), true
	}
	return 0, false
}

func positiveInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func decodeEpisodeItems(raw []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: episodes: %v", ErrInvalidDocument, err)
	}
	switch d := doc.(type) {
	case []any:
		return d, nil
	case map[string]any:
		if items, ok := d["episodes"].([]any); ok {
			return items, nil
		}
	}
	return nil, fmt.Errorf("%w: episodes document must be an array", ErrInvalidDocument)
}
