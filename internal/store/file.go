package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"sdlcboard/api/internal/workflow"
)

// FileStore keeps the board in a single JSON file. The location may be a
// plain path or any URL the afs service understands.
type FileStore struct {
	location string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store for location.
func NewFileStore(location string) (*FileStore, error) {
	if location == "" {
		return nil, fmt.Errorf("file store location cannot be empty")
	}
	return &FileStore{
		location: url.Normalize(location, file.Scheme),
		fs:       afs.New(),
	}, nil
}

func (s *FileStore) Load(ctx context.Context) (*workflow.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.fs.Exists(ctx, s.location)
	if err != nil {
		return nil, persistenceError("file", "stat", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, s.location)
	if err != nil {
		return nil, persistenceError("file", "read", err)
	}
	doc, err := workflow.Decode(data)
	if err != nil {
		return nil, persistenceError("file", "decode", err)
	}
	return doc, nil
}

func (s *FileStore) Save(ctx context.Context, doc *workflow.Document) error {
	payload, err := workflow.Encode(doc)
	if err != nil {
		return persistenceError("file", "encode", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, _ := url.Split(s.location, file.Scheme)
	if exists, _ := s.fs.Exists(ctx, parent); !exists {
		if err := s.fs.Create(ctx, parent, file.DefaultDirOsMode, true); err != nil {
			return persistenceError("file", "mkdir", err)
		}
	}
	if err := s.fs.Upload(ctx, s.location, file.DefaultFileOsMode, bytes.NewReader(payload)); err != nil {
		return persistenceError("file", "write", err)
	}
	return nil
}
