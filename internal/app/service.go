package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdlcboard/api/internal/config"
	"sdlcboard/api/internal/export"
	"sdlcboard/api/internal/search"
	"sdlcboard/api/internal/store"
	"sdlcboard/api/internal/workflow"
)

const anonymousUserName = "Anonymous User"

// MergeOptions identify who is saving and which revision they started from.
// A zero BaseLastModified falls back to the incoming metadata.lastModified.
type MergeOptions struct {
	User             string
	UserName         string
	BaseLastModified time.Time
}

// Result describes a merge or replace.
type Result struct {
	Document  *workflow.Document
	Totals    workflow.Totals
	Changed   bool
	Timestamp time.Time
}

type boardSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(doc *workflow.Document) <-chan error
}

type boardExport interface {
	Export(ctx context.Context, doc *workflow.Document, req export.Request) (*export.Result, error)
}

type Service struct {
	store         store.Store
	merger        *workflow.Merger
	now           func() time.Time
	search        boardSearch
	export        boardExport
	logger        *zap.Logger
	conflictCheck bool
	defaultUser   string
	title         string

	// mu serializes load-merge-save cycles within this process.
	mu      sync.Mutex
	pending sync.WaitGroup

	// indexMu guards the index queue; a single worker drains it in order.
	indexMu    sync.Mutex
	indexQueue []indexJob
	indexing   bool
}

type indexJob struct {
	doc  *workflow.Document
	done chan error
}

// New wires the board service. searchService and exportService may be nil;
// search then scans the stored board and export uses headless Chrome.
func New(cfg config.Config, boardStore store.Store, searchService *search.Service, exportService *export.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:         boardStore,
		now:           time.Now,
		logger:        logger.Named("board"),
		conflictCheck: cfg.ConflictCheck,
		defaultUser:   cfg.DefaultUser,
		title:         cfg.BoardName,
	}
	s.merger = workflow.NewMerger(s.clock)
	if searchService != nil {
		s.search = searchService
	} else {
		s.search = search.NewService(nil, nil, search.NewScan(boardStore), logger)
	}
	if exportService != nil {
		s.export = exportService
	} else {
		s.export = export.NewService()
	}
	return s
}

// Current returns the stored board, or store.ErrNotFound.
func (s *Service) Current(ctx context.Context) (*workflow.Document, error) {
	return s.store.Load(ctx)
}

// Merge folds incoming phases into the stored board and saves the result.
// A payload without phases changes nothing and is not saved.
func (s *Service) Merge(ctx context.Context, incoming *workflow.Document, opts MergeOptions) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadOrNew(ctx)
	if err != nil {
		return Result{}, err
	}

	if !incoming.Mergeable() {
		s.logger.Debug("merge payload has no phases, nothing to do")
		return Result{
			Document:  existing,
			Totals:    metadataTotals(existing),
			Timestamp: s.clock(),
		}, nil
	}

	if err := s.checkConflict(existing, baseOf(incoming, opts)); err != nil {
		return Result{}, err
	}

	merged, err := s.merger.Merge(existing, incoming)
	if err != nil {
		return Result{}, err
	}
	merged.Metadata.LastAutoSave = merged.Metadata.LastModified

	user, userName := s.resolveUser(opts.User, opts.UserName)
	merged, err = workflow.WithChange(merged, workflow.ChangeRecord{
		Timestamp:   merged.Metadata.LastModified,
		User:        user,
		UserName:    userName,
		Action:      "merge",
		Description: fmt.Sprintf("Merged by %s (%s)", userName, user),
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.store.Save(ctx, merged); err != nil {
		return Result{}, err
	}
	s.logger.Info("board merged",
		zap.String("user", user),
		zap.Int("incoming_phases", len(incoming.Phases)),
		zap.Int("total_items", merged.Metadata.TotalItems),
	)
	s.index(merged)

	return Result{
		Document:  merged,
		Totals:    metadataTotals(merged),
		Changed:   true,
		Timestamp: merged.Metadata.LastModified,
	}, nil
}

// Replace saves doc as the whole board: the version is bumped, the author
// stamped and a change record appended.
func (s *Service) Replace(ctx context.Context, doc *workflow.Document, opts MergeOptions) (Result, error) {
	if doc == nil {
		return Result{}, invalidBody("Board document is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		current = nil
	case err != nil:
		return Result{}, err
	}
	if err := s.checkConflict(current, baseOf(doc, opts)); err != nil {
		return Result{}, err
	}

	now := s.clock()
	user, userName := s.resolveUser(opts.User, opts.UserName)

	next := doc.Clone()
	if next.Metadata == nil {
		next.Metadata = &workflow.Metadata{}
	}
	next.Metadata.Version = workflow.BumpVersion(next.Metadata.Version)
	next.Metadata.LastModified = now
	next.Metadata.LastAutoSave = now
	next.Metadata.LastModifiedBy = user
	next.Metadata.LastModifiedByName = userName

	next, err = workflow.WithChange(next, workflow.ChangeRecord{
		Timestamp:   now,
		User:        user,
		UserName:    userName,
		Action:      "data_update",
		Description: fmt.Sprintf("Updated by %s (%s)", userName, user),
	})
	if err != nil {
		return Result{}, err
	}
	if next, err = workflow.Recount(next); err != nil {
		return Result{}, err
	}
	if err := next.Validate(); err != nil {
		return Result{}, err
	}

	if err := s.store.Save(ctx, next); err != nil {
		return Result{}, err
	}
	s.logger.Info("board replaced",
		zap.String("user", user),
		zap.String("version", next.Metadata.Version),
	)
	s.index(next)

	return Result{
		Document:  next,
		Totals:    metadataTotals(next),
		Changed:   true,
		Timestamp: now,
	}, nil
}

// History lists saved revisions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]store.CommitInfo, error) {
	historian, ok := s.store.(store.Historian)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	return historian.History(ctx, limit)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// Export renders the stored board.
func (s *Service) Export(ctx context.Context, format export.Format) (*export.Result, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, doc, export.Request{Format: format, Title: s.exportTitle()})
}

// Reindex replaces the search index with the stored board and waits for
// the result. A store without a board yet is not an error.
func (s *Service) Reindex(ctx context.Context) error {
	s.mu.Lock()
	doc, err := s.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	done := s.index(doc)
	s.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if pinger, ok := s.store.(store.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Wait blocks until background indexing started by earlier saves is done.
func (s *Service) Wait() {
	s.pending.Wait()
}

// clock is the service time at the millisecond precision boards are stored with.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) loadOrNew(ctx context.Context) (*workflow.Document, error) {
	doc, err := s.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("no stored board yet, starting from an empty one")
		return workflow.New(workflow.DefaultVersion, nil, s.clock()), nil
	}
	return doc, err
}

// checkConflict fails when the stored board was modified after base. It
// is a best-effort check; no lock is held across requests.
func (s *Service) checkConflict(current *workflow.Document, base time.Time) error {
	if !s.conflictCheck || current == nil || current.Metadata == nil || base.IsZero() {
		return nil
	}
	if current.Metadata.LastModified.After(base) {
		s.logger.Warn("conflict detected",
			zap.Time("stored_last_modified", current.Metadata.LastModified),
			zap.Time("base_last_modified", base),
		)
		return &ConflictError{
			LastModified:   current.Metadata.LastModified,
			LastModifiedBy: current.Metadata.LastModifiedBy,
		}
	}
	return nil
}

func (s *Service) resolveUser(user, userName string) (string, string) {
	user = strings.TrimSpace(user)
	userName = strings.TrimSpace(userName)
	if user == "" {
		user = s.defaultUser
		if user == "" {
			user = "anonymous@team.com"
		}
		if userName == "" {
			userName = anonymousUserName
		}
	}
	if userName == "" {
		userName, _, _ = strings.Cut(user, "@")
	}
	if userName == "" {
		userName = anonymousUserName
	}
	return user, userName
}

// index queues doc for the search index. Jobs run one at a time in the
// order they were queued, so an older board never replaces a newer one.
// The returned channel receives the first indexing error, or nil.
func (s *Service) index(doc *workflow.Document) <-chan error {
	job := indexJob{doc: doc, done: make(chan error, 1)}
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	s.indexQueue = append(s.indexQueue, job)
	if !s.indexing {
		s.indexing = true
		s.pending.Add(1)
		go s.drainIndex()
	}
	return job.done
}

func (s *Service) drainIndex() {
	defer s.pending.Done()
	for {
		s.indexMu.Lock()
		if len(s.indexQueue) == 0 {
			s.indexing = false
			s.indexMu.Unlock()
			return
		}
		job := s.indexQueue[0]
		s.indexQueue = s.indexQueue[1:]
		s.indexMu.Unlock()

		var first error
		for err := range s.search.Index(job.doc) {
			s.logger.Warn("index board failed", zap.Error(err))
			if first == nil {
				first = err
			}
		}
		job.done <- first
	}
}

func (s *Service) exportTitle() string {
	if strings.TrimSpace(s.title) == "" {
		return ""
	}
	return strings.ReplaceAll(s.title, "-", " ")
}

func baseOf(doc *workflow.Document, opts MergeOptions) time.Time {
	if !opts.BaseLastModified.IsZero() {
		return opts.BaseLastModified
	}
	if doc != nil && doc.Metadata != nil {
		return doc.Metadata.LastModified
	}
	return time.Time{}
}

func metadataTotals(doc *workflow.Document) workflow.Totals {
	if doc == nil || doc.Metadata == nil {
		return workflow.Totals{}
	}
	return workflow.Totals{
		Phases:     doc.Metadata.TotalPhases,
		Categories: doc.Metadata.TotalCategories,
		Items:      doc.Metadata.TotalItems,
	}
}
