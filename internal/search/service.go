package search

import (
	"context"

	"go.uber.org/zap"

	"sdlcboard/api/internal/workflow"
)

// Service tries Meilisearch first, then the Postgres searcher when the board
// lives in Postgres, then an in-process scan of the board.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	scan   *Scan
	logger *zap.Logger
}

// NewService creates a search service. meili and pgfts may be nil.
func NewService(meili *Meili, pgfts *PgFTS, scan *Scan, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, scan: scan, logger: logger.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	for _, searcher := range s.searchers() {
		results, total, err := searcher.Search(ctx, q)
		if err != nil {
			s.logger.Warn("searcher failed, falling back", zap.Error(err))
			continue
		}
		return Response{Results: nonNil(results), Total: total, Query: q.Text}
	}
	return Response{Results: []Result{}, Total: 0, Query: q.Text}
}

func (s *Service) searchers() []Searcher {
	var out []Searcher
	if s.meili != nil && s.meili.Healthy() {
		out = append(out, s.meili)
	}
	if s.pgfts != nil && s.pgfts.Healthy() {
		out = append(out, s.pgfts)
	}
	if s.scan != nil && s.scan.Healthy() {
		out = append(out, s.scan)
	}
	return out
}

// Index replaces the indexed items with those of doc in the background.
// The returned channel yields at most one error and is closed when the
// task finishes; it is closed at once when no index is configured.
func (s *Service) Index(doc *workflow.Document) <-chan error {
	errs := make(chan error, 1)
	if s.meili == nil || !s.meili.Healthy() {
		close(errs)
		return errs
	}

	records := Records(doc)
	go func() {
		defer close(errs)
		if err := s.meili.ReplaceBoard(records); err != nil {
			errs <- err
		}
	}()
	return errs
}

// Close stops background work owned by the service.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
