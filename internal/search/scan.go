package search

import (
	"context"
	"strings"
)

// Scan searches the current board in process. It needs no index and is
// always available.
type Scan struct {
	source Source
}

// NewScan creates a searcher reading the board from source.
func NewScan(source Source) *Scan {
	return &Scan{source: source}
}

func (s *Scan) Healthy() bool {
	return s != nil && s.source != nil
}

// Search matches the query text case-insensitively against item, category
// and phase names.
func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, 0, nil
	}

	doc, err := s.source.Load(ctx)
	if err != nil {
		return nil, 0, err
	}

	limit := limitOf(q)
	var results []Result
	total := 0
	for _, record := range Records(doc) {
		if q.Phase != "" && !strings.EqualFold(record.Phase, q.Phase) {
			continue
		}
		if !strings.Contains(strings.ToLower(record.Item), text) &&
			!strings.Contains(strings.ToLower(record.Category), text) &&
			!strings.Contains(strings.ToLower(record.Phase), text) {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, Result{Record: record, Snippet: highlight(record.Item, text)})
		}
	}
	return results, total, nil
}

// highlight wraps the first case-insensitive occurrence of needle in
// <mark> tags, the same markers the Meilisearch searcher requests.
func highlight(value, needle string) string {
	lower := strings.ToLower(value)
	if len(lower) != len(value) {
		return value
	}
	idx := strings.Index(lower, needle)
	if idx < 0 || needle == "" {
		return value
	}
	end := idx + len(needle)
	return value[:idx] + "<mark>" + value[idx:end] + "</mark>" + value[end:]
}
