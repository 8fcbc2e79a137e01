package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Merger merges incoming partial documents into a canonical one using its
// clock for metadata.lastModified.
type Merger struct {
	now func() time.Time
}

// NewMerger returns a Merger reading time from now; nil means time.Now.
func NewMerger(now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{now: now}
}

func (m *Merger) Merge(existing, incoming *Document) (*Document, error) {
	return Merge(existing, incoming, m.now())
}

// Merge folds incoming.phases into a copy of existing.
//
// A payload without phases is a no-op and existing is returned as is. The
// metadata totals are recomputed from the incoming phases only; phases
// that exist solely in existing are kept but not counted. Each incoming
// phase is shallow-merged over the existing phase of the same name, or
// inserted when the name is new. Neither argument is modified.
func Merge(existing, incoming *Document, now time.Time) (*Document, error) {
	if !incoming.Mergeable() {
		return existing, nil
	}
	if existing == nil || existing.Metadata == nil {
		return nil, ErrMissingMetadata
	}

	merged := existing.Clone()
	if merged.Phases == nil {
		merged.Phases = make(map[string]Phase, len(incoming.Phases))
	}

	now = now.UTC()
	if previous := merged.Metadata.LastModified; now.Before(previous) {
		now = previous
	}
	merged.Metadata.LastModified = now
	merged.Metadata.setTotals(CountTotals(incoming.Phases))

	for name, phase := range incoming.Phases {
		if current, ok := merged.Phases[name]; ok {
			merged.Phases[name] = current.overlay(phase)
			continue
		}
		merged.Phases[name] = phase.Clone()
	}
	return merged, nil
}

// BumpVersion adds 0.1 to a "major.minor" version string. Unparseable or
// empty versions are treated as DefaultVersion.
func BumpVersion(version string) string {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(version), 64)
	if err != nil {
		parsed, _ = strconv.ParseFloat(DefaultVersion, 64)
	}
	return fmt.Sprintf("%.1f", parsed+0.1)
}
