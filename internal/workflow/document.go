// Package workflow models the SDLC workflow board document and the
// phase-level merge used by every sync path.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxChangeHistory bounds metadata.changeHistory.
const MaxChangeHistory = 50

// DefaultVersion is the version stamped on documents created from scratch.
const DefaultVersion = "1.0"

// TimestampLayout is the millisecond UTC form the board page writes.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrMissingMetadata means the base document has no metadata object.
	ErrMissingMetadata = errors.New("workflow document has no metadata")
)

// Document is the canonical board: metadata plus phases keyed by name.
// Top-level fields the board does not model are kept in Extra.
type Document struct {
	Metadata *Metadata
	Phases   map[string]Phase
	Extra    map[string]json.RawMessage
}

// Metadata fields the board does not model are kept in Extra.
type Metadata struct {
	Version            string                     `json:"version,omitempty"`
	LastAutoSave       time.Time                  `json:"lastAutoSave,omitzero"`
	LastModified       time.Time                  `json:"lastModified,omitzero"`
	TotalPhases        int                        `json:"totalPhases"`
	TotalCategories    int                        `json:"totalCategories"`
	TotalItems         int                        `json:"totalItems"`
	LastModifiedBy     string                     `json:"lastModifiedBy,omitempty"`
	LastModifiedByName string                     `json:"lastModifiedByName,omitempty"`
	ChangeHistory      []ChangeRecord             `json:"changeHistory,omitempty"`
	Extra              map[string]json.RawMessage `json:"-"`
}

var metadataKeys = []string{
	"version", "lastAutoSave", "lastModified",
	"totalPhases", "totalCategories", "totalItems",
	"lastModifiedBy", "lastModifiedByName", "changeHistory",
}

// metadataFields has Metadata's fields without its JSON methods.
type metadataFields Metadata

// ChangeRecord is one entry of the bounded change history.
type ChangeRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	User        string    `json:"user"`
	UserName    string    `json:"userName,omitempty"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
}

func (c ChangeRecord) MarshalJSON() ([]byte, error) {
	type fields ChangeRecord
	return json.Marshal(struct {
		fields
		Timestamp string `json:"timestamp"`
	}{fields(c), FormatTimestamp(c.Timestamp)})
}

// FormatTimestamp renders t in TimestampLayout; the zero time renders empty.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// Totals are the aggregate counts carried in metadata.
type Totals struct {
	Phases     int `json:"phases"`
	Categories int `json:"categories"`
	Items      int `json:"items"`
}

// Mergeable reports whether d carries a phases mapping. Payloads without
// one merge as a no-op.
func (d *Document) Mergeable() bool {
	return d != nil && d.Phases != nil
}

// Totals counts every phase of the document.
func (d *Document) Totals() Totals {
	if d == nil {
		return Totals{}
	}
	return CountTotals(d.Phases)
}

// CountTotals walks phases: categories per phase, items per category, and
// ownership entries counted as items.
func CountTotals(phases map[string]Phase) Totals {
	totals := Totals{Phases: len(phases)}
	for _, phase := range phases {
		totals.Categories += len(phase.Categories)
		for _, category := range phase.Categories {
			totals.Items += len(category.Items)
		}
		totals.Items += len(phase.Ownership)
	}
	return totals
}

func (m *Metadata) setTotals(totals Totals) {
	m.TotalPhases = totals.Phases
	m.TotalCategories = totals.Categories
	m.TotalItems = totals.Items
}

func (m *Metadata) totals() Totals {
	return Totals{Phases: m.TotalPhases, Categories: m.TotalCategories, Items: m.TotalItems}
}

// InvariantError lists metadata counters that disagree with the phases.
type InvariantError struct {
	Violations []string
}

func (e *InvariantError) Error() string {
	if e == nil {
		return ""
	}
	return "workflow invariants violated: " + strings.Join(e.Violations, "; ")
}

// Validate checks metadata totals against every phase in the document.
func (d *Document) Validate() error {
	if d == nil || d.Metadata == nil {
		return ErrMissingMetadata
	}
	want := d.Totals()
	got := d.Metadata.totals()
	var violations []string
	if got.Phases != want.Phases {
		violations = append(violations, fmt.Sprintf("totalPhases=%d, phases=%d", got.Phases, want.Phases))
	}
	if got.Categories != want.Categories {
		violations = append(violations, fmt.Sprintf("totalCategories=%d, categories=%d", got.Categories, want.Categories))
	}
	if got.Items != want.Items {
		violations = append(violations, fmt.Sprintf("totalItems=%d, items=%d", got.Items, want.Items))
	}
	if len(violations) > 0 {
		return &InvariantError{Violations: violations}
	}
	return nil
}

// New builds a consistent document from phases: phase numbers follow
// KnownPhases and the totals cover every phase.
func New(version string, phases map[string]Phase, now time.Time) *Document {
	if strings.TrimSpace(version) == "" {
		version = DefaultVersion
	}
	now = now.UTC()
	doc := &Document{
		Metadata: &Metadata{
			Version:      version,
			LastAutoSave: now,
			LastModified: now,
		},
		Phases: make(map[string]Phase, len(phases)),
	}
	for name, phase := range phases {
		doc.Phases[name] = phase.Clone()
	}
	NumberPhases(doc.Phases)
	doc.Metadata.setTotals(doc.Totals())
	return doc
}

// Recount returns a copy of d whose totals cover every phase.
func Recount(d *Document) (*Document, error) {
	if d == nil || d.Metadata == nil {
		return nil, ErrMissingMetadata
	}
	out := d.Clone()
	out.Metadata.setTotals(out.Totals())
	return out, nil
}

// WithChange returns a copy of d with record appended to the change
// history, keeping the most recent MaxChangeHistory entries.
func WithChange(d *Document, record ChangeRecord) (*Document, error) {
	if d == nil || d.Metadata == nil {
		return nil, ErrMissingMetadata
	}
	out := d.Clone()
	history := append(out.Metadata.ChangeHistory, record)
	if len(history) > MaxChangeHistory {
		history = history[len(history)-MaxChangeHistory:]
	}
	out.Metadata.ChangeHistory = history
	return out, nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{Extra: cloneRawMap(d.Extra)}
	if d.Metadata != nil {
		meta := *d.Metadata
		if d.Metadata.ChangeHistory != nil {
			meta.ChangeHistory = append([]ChangeRecord(nil), d.Metadata.ChangeHistory...)
		}
		meta.Extra = cloneRawMap(d.Metadata.Extra)
		out.Metadata = &meta
	}
	if d.Phases != nil {
		out.Phases = make(map[string]Phase, len(d.Phases))
		for name, phase := range d.Phases {
			out.Phases[name] = phase.Clone()
		}
	}
	return out
}

// PhaseNames returns the phase keys ordered by phase number, then name.
func (d *Document) PhaseNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Phases))
	for name := range d.Phases {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := d.Phases[names[i]].Number(), d.Phases[names[j]].Number()
		if a != b {
			if a == 0 {
				return false
			}
			if b == 0 {
				return true
			}
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+2)
	for key, value := range d.Extra {
		out[key] = value
	}
	if d.Metadata != nil {
		out["metadata"] = d.Metadata
	}
	if d.Phases != nil {
		out["phases"] = d.Phases
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document{}
	for key, value := range raw {
		switch key {
		case "metadata":
			if isNull(value) {
				continue
			}
			var meta Metadata
			if err := json.Unmarshal(value, &meta); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
			d.Metadata = &meta
		case "phases":
			if isNull(value) {
				continue
			}
			var phases map[string]Phase
			if err := json.Unmarshal(value, &phases); err != nil {
				return fmt.Errorf("decode phases: %w", err)
			}
			if phases == nil {
				phases = map[string]Phase{}
			}
			d.Phases = phases
		default:
			if d.Extra == nil {
				d.Extra = make(map[string]json.RawMessage)
			}
			d.Extra[key] = cloneRaw(value)
		}
	}
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(struct {
		metadataFields
		LastAutoSave string `json:"lastAutoSave,omitempty"`
		LastModified string `json:"lastModified,omitempty"`
	}{metadataFields(m), FormatTimestamp(m.LastAutoSave), FormatTimestamp(m.LastModified)})
	if err != nil || len(m.Extra) == 0 {
		return known, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for key, value := range m.Extra {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var fields metadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range metadataKeys {
		delete(raw, key)
	}
	*m = Metadata(fields)
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// Decode parses a board document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode workflow document: %w", err)
	}
	return &doc, nil
}

// Encode renders d with 2-space indentation and a trailing newline.
func Encode(d *Document) ([]byte, error) {
	if d == nil {
		return nil, errors.New("encode workflow document: nil document")
	}
	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode workflow document: %w", err)
	}
	return append(payload, '\n'), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneRawMap(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for key, value := range in {
		out[key] = cloneRaw(value)
	}
	return out
}
