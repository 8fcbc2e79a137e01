// Package search indexes and queries the items on the workflow board.
package search

import (
	"context"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"sdlcboard/api/internal/workflow"
)

// Record is one board item as it is indexed.
type Record struct {
	ID          string `json:"id"`
	Phase       string `json:"phase"`
	PhaseNumber int    `json:"phaseNumber"`
	Category    string `json:"category"`
	Item        string `json:"item"`
	Position    int    `json:"position"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	Record
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Phase string // empty = all phases
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a board item search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer replaces the indexed items with the records of the current board.
type Indexer interface {
	ReplaceBoard(records []Record) error
}

// Source supplies the current board document.
type Source interface {
	Load(ctx context.Context) (*workflow.Document, error)
}

var recordNamespace = uuid.MustParse("6f1f5e0c-9d3b-4c55-8a55-3b2f8f0f2a11")

// Records flattens doc into one record per item, ordered by phase number,
// category name and item position.
func Records(doc *workflow.Document) []Record {
	if doc == nil {
		return []Record{}
	}
	records := make([]Record, 0)
	for _, phaseName := range doc.PhaseNames() {
		phase := doc.Phases[phaseName]
		categories := make([]string, 0, len(phase.Categories))
		for name := range phase.Categories {
			categories = append(categories, name)
		}
		sort.Strings(categories)
		for _, categoryName := range categories {
			for i, item := range phase.Categories[categoryName].Items {
				records = append(records, Record{
					ID:          recordID(phaseName, categoryName, i),
					Phase:       phaseName,
					PhaseNumber: phase.Number(),
					Category:    categoryName,
					Item:        item,
					Position:    i,
				})
			}
		}
	}
	return records
}

// recordID is stable for a phase, category and position so reindexing the
// same board yields the same identifiers.
func recordID(phase, category string, position int) string {
	key := phase + "\x00" + category + "\x00" + strconv.Itoa(position)
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

const defaultLimit = 20

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}
