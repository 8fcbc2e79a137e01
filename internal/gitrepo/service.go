package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"sdlcboard/api/internal/store"
	"sdlcboard/api/internal/workflow"
)

const (
	defaultBranch   = "main"
	defaultFileName = "sdlc-workflow.json"
	remoteName      = "origin"
)

// Options configure where the board lives inside the repository and the
// optional remote it is mirrored to.
type Options struct {
	Branch    string
	FileName  string
	RemoteURL string
	// Token authenticates pushes to an HTTPS remote such as GitHub.
	Token string
}

// Service stores the board as a JSON file in a git repository, one commit
// per save. With a remote configured, loads pull first and saves push.
type Service struct {
	dir  string
	opts Options
	mu   sync.Mutex
}

var (
	_ store.Store     = (*Service)(nil)
	_ store.Historian = (*Service)(nil)
)

func New(dir string, opts Options) *Service {
	if strings.TrimSpace(opts.Branch) == "" {
		opts.Branch = defaultBranch
	}
	if strings.TrimSpace(opts.FileName) == "" {
		opts.FileName = defaultFileName
	}
	return &Service{dir: dir, opts: opts}
}

func (s *Service) Load(ctx context.Context) (*workflow.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openRepo(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := s.pull(ctx, repo); err != nil {
		return nil, err
	}

	commitObj, err := s.headCommit(repo)
	if err != nil {
		return nil, err
	}
	return s.readDocument(commitObj)
}

func (s *Service) Save(ctx context.Context, doc *workflow.Document) error {
	payload, err := workflow.Encode(doc)
	if err != nil {
		return persistenceError("encode", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openRepo(ctx, true)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return persistenceError("open worktree", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), s.opts.FileName), payload, 0o644); err != nil {
		return persistenceError("write "+s.opts.FileName, err)
	}
	if _, err := worktree.Add(s.opts.FileName); err != nil {
		return persistenceError("git add", err)
	}

	_, err = worktree.Commit(store.CommitMessage(doc), &git.CommitOptions{
		Author: &object.Signature{
			Name:  store.AuthorOf(doc),
			Email: store.AuthorEmail(doc),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return nil
	}
	if err != nil {
		return persistenceError("commit", err)
	}
	return s.push(ctx, repo)
}

func (s *Service) History(ctx context.Context, limit int) ([]store.CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openRepo(ctx, false)
	if errors.Is(err, store.ErrNotFound) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(s.branchRef(), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, persistenceError("resolve branch "+s.opts.Branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &s.opts.FileName})
	if err != nil {
		return nil, persistenceError("read log", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, persistenceError("iterate log", err)
	}
	return items, nil
}

// openRepo opens the working copy, cloning from the remote when one is
// configured. Without create, a missing repository is store.ErrNotFound.
func (s *Service) openRepo(ctx context.Context, create bool) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, persistenceError("open repo", err)
	}

	if s.opts.RemoteURL != "" {
		repo, err := s.clone(ctx)
		if err == nil {
			return repo, nil
		}
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, persistenceError("clone "+s.opts.RemoteURL, err)
		}
		// empty remote: fall through to a fresh repository
	}
	if !create {
		return nil, store.ErrNotFound
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, persistenceError("create repo dir", err)
	}
	repo, err = git.PlainInitWithOptions(s.dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: s.branchRef()},
	})
	if err != nil {
		return nil, persistenceError("init repo", err)
	}
	if s.opts.RemoteURL != "" {
		if _, err := repo.CreateRemote(&config.RemoteConfig{Name: remoteName, URLs: []string{s.opts.RemoteURL}}); err != nil {
			return nil, persistenceError("add remote", err)
		}
	}
	return repo, nil
}

func (s *Service) clone(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, s.dir, false, &git.CloneOptions{
		URL:           s.opts.RemoteURL,
		Auth:          s.auth(),
		RemoteName:    remoteName,
		ReferenceName: s.branchRef(),
		SingleBranch:  true,
	})
	if err != nil {
		_ = os.RemoveAll(s.dir)
		return nil, err
	}
	return repo, nil
}

func (s *Service) pull(ctx context.Context, repo *git.Repository) error {
	if s.opts.RemoteURL == "" {
		return nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return persistenceError("open worktree", err)
	}
	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: s.branchRef(),
		SingleBranch:  true,
		Auth:          s.auth(),
	})
	switch {
	case err == nil,
		errors.Is(err, git.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	default:
		return persistenceError("pull", err)
	}
}

func (s *Service) push(ctx context.Context, repo *git.Repository) error {
	if s.opts.RemoteURL == "" {
		return nil
	}
	refSpec := config.RefSpec(fmt.Sprintf("%s:%s", s.branchRef(), s.branchRef()))
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       s.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return persistenceError("push", err)
	}
	return nil
}

func (s *Service) auth() transport.AuthMethod {
	if strings.TrimSpace(s.opts.Token) == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: s.opts.Token}
}

func (s *Service) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(s.opts.Branch)
}

func (s *Service) headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(s.branchRef(), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("resolve branch "+s.opts.Branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, persistenceError("load commit object", err)
	}
	return commitObj, nil
}

func (s *Service) readDocument(commitObj *object.Commit) (*workflow.Document, error) {
	file, err := commitObj.File(s.opts.FileName)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("load "+s.opts.FileName+" from commit", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, persistenceError("open content reader", err)
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, persistenceError("read content bytes", err)
	}
	doc, err := workflow.Decode(payload)
	if err != nil {
		return nil, persistenceError("decode commit content", err)
	}
	return doc, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func persistenceError(op string, err error) error {
	return &store.PersistenceError{Backend: "git", Op: op, Err: err}
}
