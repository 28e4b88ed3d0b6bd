// Package gitrepo keeps a git history of every observed note revision, one
// repository per backend user.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var ErrNoteNotFound = errors.New("gitrepo: note not in vault")

// Note is the snapshot written to notes/<id>.json.
type Note struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	SourceDocument string   `json:"source_document,omitempty"`
	SourceType     string   `json:"source_type,omitempty"`
	SourceID       string   `json:"source_id,omitempty"`
	Starred        bool     `json:"starred"`
	Color          string   `json:"color"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
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
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// RecordNote commits the note when it differs from the vault copy. changed
// is false when the note was already recorded as-is.
func (s *Service) RecordNote(owner string, note Note) (rev Revision, changed bool, err error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureVault(owner)
	if err != nil {
		return Revision{}, false, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(note, "", "  ")
	if err != nil {
		return Revision{}, false, fmt.Errorf("marshal note: %w", err)
	}
	payload = append(payload, '\n')

	rel := notePath(note.ID)
	abs := filepath.Join(worktree.Filesystem.Root(), rel)
	existing, err := os.ReadFile(abs)
	if err == nil && bytes.Equal(existing, payload) {
		return Revision{}, false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Revision{}, false, fmt.Errorf("read vault note: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Revision{}, false, fmt.Errorf("create notes dir: %w", err)
	}
	if err := os.WriteFile(abs, payload, 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write vault note: %w", err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return Revision{}, false, fmt.Errorf("git add note: %w", err)
	}

	verb := "Update"
	if existing == nil {
		verb = "Add"
	}
	hash, err := worktree.Commit(fmt.Sprintf("%s note %s: %s", verb, note.ID, note.Title), &git.CommitOptions{
		Author: s.signature(owner),
	})
	if err != nil {
		return Revision{}, false, fmt.Errorf("commit note: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// RemoveNote commits the deletion of a note. Removing a note the vault
// never saw is not an error.
func (s *Service) RemoveNote(owner, noteID string) error {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureVault(owner)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	rel := notePath(noteID)
	if _, err := os.Stat(filepath.Join(worktree.Filesystem.Root(), rel)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := worktree.Remove(rel); err != nil {
		return fmt.Errorf("git rm note: %w", err)
	}
	if _, err := worktree.Commit(fmt.Sprintf("Delete note %s", noteID), &git.CommitOptions{
		Author: s.signature(owner),
	}); err != nil {
		return fmt.Errorf("commit note removal: %w", err)
	}
	return nil
}

// NoteIDs lists the notes currently present in the owner's vault.
func (s *Service) NoteIDs(owner string) ([]string, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.repoPath(owner), "notes"))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read notes dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if name := entry.Name(); !entry.IsDir() && strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// History returns the revisions touching one note, newest first.
func (s *Service) History(owner, noteID string, limit int) ([]Revision, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(owner))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	rel := notePath(noteID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
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

// NoteAt reads the note as it was at the given revision.
func (s *Service) NoteAt(owner, noteID, hash string) (Note, error) {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(owner))
	if err != nil {
		return Note{}, fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Note{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Note{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(notePath(noteID))
	if errors.Is(err, object.ErrFileNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("load note from commit: %w", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Note{}, fmt.Errorf("read note contents: %w", err)
	}
	var note Note
	if err := json.Unmarshal([]byte(contents), &note); err != nil {
		return Note{}, fmt.Errorf("decode vault note: %w", err)
	}
	return note, nil
}

// ensureVault opens the owner's repository, creating it with a baseline
// commit on main the first time. Callers hold the owner lock.
func (s *Service) ensureVault(owner string) (*git.Repository, error) {
	path := s.repoPath(owner)
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
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("Saved notes for %s\n", owner)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return nil, fmt.Errorf("write readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return nil, fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Create notes vault", &git.CommitOptions{Author: s.signature(owner)})
	if err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(owner string) string {
	return filepath.Join(s.baseDir, sanitizeName(owner))
}

func (s *Service) ownerLock(owner string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[owner]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[owner] = lock
	return lock
}

func (s *Service) signature(owner string) *object.Signature {
	return &object.Signature{
		Name:  owner,
		Email: fmt.Sprintf("%s@notes.thinkthank.local", sanitizeName(owner)),
		When:  s.now(),
	}
}

func notePath(noteID string) string {
	return "notes/" + FileID(noteID) + ".json"
}

// FileID is the name a note id is stored under; NoteIDs returns these.
func FileID(noteID string) string {
	return sanitizeName(noteID)
}

// DiffFields lists the note fields that differ between two revisions.
func DiffFields(from, to Note) []map[string]string {
	type pair struct {
		field  string
		before string
		after  string
	}
	pairs := []pair{
		{field: "title", before: from.Title, after: to.Title},
		{field: "content", before: from.Content, after: to.Content},
		{field: "tags", before: strings.Join(from.Tags, ", "), after: strings.Join(to.Tags, ", ")},
		{field: "starred", before: fmt.Sprint(from.Starred), after: fmt.Sprint(to.Starred)},
		{field: "color", before: from.Color, after: to.Color},
	}
	result := make([]map[string]string, 0)
	for _, item := range pairs {
		if item.before == item.after {
			continue
		}
		result = append(result, map[string]string{
			"field":  item.field,
			"before": item.before,
			"after":  item.after,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i]["field"] < result[j]["field"]
	})
	return result
}

func HasChanges(from, to Note) bool {
	return from.Title != to.Title ||
		from.Content != to.Content ||
		from.Starred != to.Starred ||
		from.Color != to.Color ||
		!slices.Equal(from.Tags, to.Tags)
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' || r == '@' {
			out = append(out, '.')
		}
	}
	name := strings.Trim(string(out), ".")
	if name == "" {
		return "user"
	}
	return name
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
