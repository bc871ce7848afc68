// Package revisions keeps a git history of document saves, one repository per document.
package revisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

var (
	ErrNotFound      = errors.New("revision not found")
	ErrInvalidDocID  = errors.New("invalid document id")
	errHeadNotExists = errors.New("no commits yet")
)

// Snapshot is the versioned part of a document.
type Snapshot struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*docLock),
	}
}

// Record commits snap as author unless it equals the current head. The bool reports
// whether a new commit was written.
func (s *Service) Record(documentID string, snap Snapshot, author, message string) (Revision, bool, error) {
	path, err := s.repoPath(documentID)
	if err != nil {
		return Revision{}, false, err
	}
	defer s.lockDocument(documentID)()

	repo, created, err := openOrInit(path)
	if err != nil {
		return Revision{}, false, err
	}

	if !created {
		head, current, err := headSnapshot(repo)
		if err != nil && !errors.Is(err, errHeadNotExists) {
			return Revision{}, false, err
		}
		if err == nil && current == snap {
			return toRevision(head), false, nil
		}
	}

	hash, err := commitSnapshot(repo, snap, author, message)
	if err != nil {
		return Revision{}, false, err
	}
	if created {
		if err := pointHeadAtMain(repo, hash); err != nil {
			return Revision{}, false, err
		}
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// History lists revisions newest first; a document without saves has none.
func (s *Service) History(documentID string, limit int) ([]Revision, error) {
	path, err := s.repoPath(documentID)
	if err != nil {
		return nil, err
	}
	defer s.lockDocument(documentID)()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get returns the snapshot stored at a full or abbreviated commit hash.
func (s *Service) Get(documentID, hash string) (Snapshot, Revision, error) {
	path, err := s.repoPath(documentID)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	defer s.lockDocument(documentID)()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, Revision{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, Revision{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Revision{}, ErrNotFound
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, Revision{}, ErrNotFound
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	return snap, toRevision(commitObj), nil
}

// Remove deletes a document's history.
func (s *Service) Remove(documentID string) error {
	path, err := s.repoPath(documentID)
	if err != nil {
		return err
	}
	defer s.lockDocument(documentID)()

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(documentID string) (string, error) {
	if documentID == "" || documentID != filepath.Base(documentID) || strings.HasPrefix(documentID, ".") {
		return "", ErrInvalidDocID
	}
	return filepath.Join(s.baseDir, documentID), nil
}

// lockDocument serializes work on one repository and returns the unlock func.
// An entry lives only while some caller holds or waits on it.
func (s *Service) lockDocument(documentID string) func() {
	s.lockMu.Lock()
	l, ok := s.locks[documentID]
	if !ok {
		l = &docLock{}
		s.locks[documentID] = l
	}
	l.refs++
	s.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, documentID)
		}
		s.lockMu.Unlock()
	}
}

func openOrInit(path string) (*git.Repository, bool, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func pointHeadAtMain(repo *git.Repository, hash plumbing.Hash) error {
	main := plumbing.NewBranchReferenceName(mainBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(main, hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, main)); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

func headSnapshot(repo *git.Repository) (*object.Commit, Snapshot, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, Snapshot{}, errHeadNotExists
	}
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("load head commit: %w", err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return nil, Snapshot{}, err
	}
	return commitObj, snap, nil
}

func commitSnapshot(repo *git.Repository, snap Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	if strings.TrimSpace(message) == "" {
		message = "Save document"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: signatureEmail(author),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String(),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signatureEmail(author string) string {
	if strings.Contains(author, "@") {
		return author
	}
	return "unknown@inkwell.local"
}
