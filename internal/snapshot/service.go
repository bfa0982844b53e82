// Package snapshot keeps a git archive of every saved map revision.
// Each mind map gets its own repository holding a single map.json, and
// every accepted save becomes a commit, so the full edit history stays
// recoverable outside the database.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const docFile = "map.json"

var emailUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._@+-]`)

// Commit describes one archived revision.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Service serializes snapshot writes per map.
type Service struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(baseDir string) (*Service, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshots dir: %w", err)
	}
	return &Service{baseDir: baseDir, locks: map[string]*sync.Mutex{}}, nil
}

func (s *Service) lock(mapID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[mapID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[mapID] = l
	}
	return l
}

func (s *Service) repoPath(mapID string) string {
	return filepath.Join(s.baseDir, mapID)
}

// Record writes doc as the map's current revision and commits it. A
// save whose bytes match the previous revision is skipped and returns
// no commit.
func (s *Service) Record(ctx context.Context, mapID string, doc []byte, author, message string) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.lock(mapID)
	l.Lock()
	defer l.Unlock()

	path := s.repoPath(mapID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(path, false)
		if err != nil {
			return nil, fmt.Errorf("init repo: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	target := filepath.Join(path, docFile)
	if prev, err := os.ReadFile(target); err == nil && string(prev) == string(doc) {
		return nil, nil
	}
	if err := os.WriteFile(target, doc, 0o644); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	if _, err := wt.Add(docFile); err != nil {
		return nil, fmt.Errorf("stage snapshot: %w", err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author),
			When:  time.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return &Commit{Hash: hash.String(), Message: message, Author: author, When: time.Now()}, nil
}

// History returns up to limit commits for a map, newest first. A map
// with no archive yet yields an empty history, not an error.
func (s *Service) History(ctx context.Context, mapID string, limit int) ([]Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.lock(mapID)
	l.Lock()
	defer l.Unlock()

	repo, err := git.PlainOpen(s.repoPath(mapID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Commit{}, nil
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	commits := []Commit{}
	for limit <= 0 || len(commits) < limit {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk log: %w", err)
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

// Revision returns the archived document at a given commit.
func (s *Service) Revision(ctx context.Context, mapID, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.lock(mapID)
	l.Lock()
	defer l.Unlock()

	repo, err := git.PlainOpen(s.repoPath(mapID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	commit, err := object.GetCommit(repo.Storer, plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("resolve commit: %w", err)
	}
	f, err := commit.File(docFile)
	if err != nil {
		return nil, fmt.Errorf("file at revision: %w", err)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("read revision: %w", err)
	}
	return []byte(contents), nil
}

func sanitizeEmail(author string) string {
	cleaned := emailUnsafe.ReplaceAllString(author, "")
	if cleaned == "" {
		cleaned = "unknown"
	}
	return cleaned + "@mindloom.local"
}
