// Package revlog keeps an audit trail of annotation edits. Every document
// URI gets its own git repository; each annotation is one JSON file, and
// every create, update and delete becomes a commit touching that file.
package revlog

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marginalia/api/internal/annotation"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Revision is one entry of an annotation's edit history.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordCreate commits the annotation's initial snapshot.
func (s *Service) RecordCreate(ann *annotation.Annotation) (Revision, error) {
	return s.recordSnapshot(ann, fmt.Sprintf("Create annotation %s", ann.ID))
}

// RecordUpdate commits an edited snapshot.
func (s *Service) RecordUpdate(ann *annotation.Annotation) (Revision, error) {
	return s.recordSnapshot(ann, fmt.Sprintf("Update annotation %s", ann.ID))
}

// RecordDelete removes the annotation's file and commits the removal.
func (s *Service) RecordDelete(uri, annotationID, author string) (Revision, error) {
	lock := s.uriLock(uri)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(uri)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	fileName := annotationFile(annotationID)
	if err := os.Remove(filepath.Join(worktree.Filesystem.Root(), fileName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Revision{}, fmt.Errorf("annotation %s has no revision log", annotationID)
		}
		return Revision{}, fmt.Errorf("remove snapshot: %w", err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return Revision{}, fmt.Errorf("git add removal: %w", err)
	}

	return s.commit(repo, fmt.Sprintf("Delete annotation %s", annotationID), author)
}

// History lists an annotation's revisions, newest first.
func (s *Service) History(uri, annotationID string, limit int) ([]Revision, error) {
	lock := s.uriLock(uri)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(uri))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Revision{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	fileName := annotationFile(annotationID)
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &fileName})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	revisions := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		revisions = append(revisions, toRevision(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return revisions, nil
}

// Snapshot reads the annotation's content at a given revision.
func (s *Service) Snapshot(uri, annotationID, hash string) (*annotation.Annotation, error) {
	lock := s.uriLock(uri)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(uri))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(annotationFile(annotationID))
	if err != nil {
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var ann annotation.Annotation
	if err := json.Unmarshal(raw, &ann); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &ann, nil
}

func (s *Service) recordSnapshot(ann *annotation.Annotation, message string) (Revision, error) {
	lock := s.uriLock(ann.URI)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(ann.URI)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(ann, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	fileName := annotationFile(ann.ID)
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), fileName), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return Revision{}, fmt.Errorf("git add snapshot: %w", err)
	}

	return s.commit(repo, message, ann.User)
}

func (s *Service) commit(repo *git.Repository, message, author string) (Revision, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.marginalia.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// ensureRepo opens the URI's repository, initializing it on first use with
// main as the default branch. Callers must hold the URI lock.
func (s *Service) ensureRepo(uri string) (*git.Repository, error) {
	path := s.repoPath(uri)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// repoPath derives a stable directory from the URI so arbitrary URIs never
// leak path separators into the filesystem layout.
func (s *Service) repoPath(uri string) string {
	sum := sha1.Sum([]byte(uri))
	return filepath.Join(s.baseDir, hex.EncodeToString(sum[:]))
}

func (s *Service) uriLock(uri string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[uri]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[uri] = lock
	return lock
}

func annotationFile(annotationID string) string {
	return annotationID + ".json"
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
