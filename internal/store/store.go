// Package store persists the workflow board document.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sdlcboard/api/internal/workflow"
)

// ErrNotFound means the store holds no board document yet.
var ErrNotFound = errors.New("workflow document not found")

// Store loads and saves the single board document.
type Store interface {
	Load(ctx context.Context) (*workflow.Document, error)
	Save(ctx context.Context, doc *workflow.Document) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Historian is implemented by stores that keep every saved revision.
type Historian interface {
	History(ctx context.Context, limit int) ([]CommitInfo, error)
}

// CommitInfo describes one saved revision of the board.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// PersistenceError wraps a backend read or write failure.
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func persistenceError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Backend: backend, Op: op, Err: err}
}
