// Package backend maps the internal commit and tree model onto a Git
// repository's object database. Information Git commits cannot carry (change
// ids, conflicted root trees, rewrite predecessors) lives in synthetic
// commit headers and in a locked metadata side table, and every locally
// known commit is pinned against garbage collection with a private ref.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/tideline/core/config"
	"github.com/adalundhe/tideline/core/model"
)

const (
	// NoGCRefPrefix is the private namespace of garbage-collection pins,
	// one ref per locally known commit.
	NoGCRefPrefix = "refs/jj/keep/"

	commitCacheSize = 1024
)

var (
	ErrObjectNotFound = errors.New("object not found")
)

// Signer signs the pre-signature serialization of a commit and returns the
// signature block embedded in the object.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Backend is the object-store backend. The repository handle is guarded by
// a mutex so the backend can be shared across goroutines; object reads and
// writes run one at a time.
type Backend struct {
	mu         sync.Mutex
	repo       *gogit.Repository
	gitDir     string
	executable string
	table      *TableStore
	commits    *lru.Cache[model.CommitID, *Commit]

	writeChangeIDHeader bool

	logger *slog.Logger
}

// Open opens the backend on an existing Git directory. The metadata table
// lives under <gitDir>/jj/extras with its lock alongside.
func Open(gitDir string, settings *config.Settings) (*Backend, error) {
	repo, err := gogit.PlainOpen(gitDir)
	if err != nil {
		return nil, fmt.Errorf("open git repository %s: %w", gitDir, err)
	}
	lock, err := NewAdvisoryLock(filepath.Join(gitDir, "jj"), "extras")
	if err != nil {
		return nil, fmt.Errorf("create table lock: %w", err)
	}
	tableFS := osfs.New(filepath.Join(gitDir, "jj", "extras"))
	return New(repo, gitDir, tableFS, lock, settings)
}

// New wires a backend from its parts. gitDir may be empty for repositories
// without an on-disk Git directory; subprocess GC and the pin mtime check
// are skipped in that case.
func New(repo *gogit.Repository, gitDir string, tableFS billy.Filesystem, locker Locker, settings *config.Settings) (*Backend, error) {
	table, err := NewTableStore(tableFS, locker)
	if err != nil {
		return nil, err
	}
	commits, err := lru.New[model.CommitID, *Commit](commitCacheSize)
	if err != nil {
		return nil, err
	}
	return &Backend{
		repo:                repo,
		gitDir:              gitDir,
		executable:          settings.Git.Executable,
		table:               table,
		commits:             commits,
		writeChangeIDHeader: settings.Git.WriteChangeIDHeader,
		logger:              slog.Default().With("component", "backend"),
	}, nil
}

// Repository exposes the underlying handle for the ref-level layers. All
// callers share the backend's serialization through their own use of it.
func (b *Backend) Repository() *gogit.Repository {
	return b.repo
}

// GitDir returns the on-disk Git directory, or "" for in-memory
// repositories.
func (b *Backend) GitDir() string {
	return b.gitDir
}

// ReadCommit reads a commit and merges in its metadata table entry. The
// root sentinel id synthesizes the virtual root commit. A missing table
// entry is recoverable: the commit is re-imported on the fly.
func (b *Backend) ReadCommit(ctx context.Context, id model.CommitID) (*Commit, error) {
	if id.IsRoot() {
		return rootCommit(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.commits.Get(id); ok {
		return c, nil
	}

	commit, err := b.readCommitObject(id)
	if err != nil {
		return nil, err
	}

	extras, ok, err := b.table.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Self-heal: derive and persist the entry from the object itself.
		if err := b.importHeadCommitsLocked(ctx, []model.CommitID{id}); err != nil {
			return nil, fmt.Errorf("recover metadata for %s: %w", id.Hex(), err)
		}
		extras, _, err = b.table.Get(id)
		if err != nil {
			return nil, err
		}
	}
	applyExtras(commit, extras)

	b.commits.Add(id, commit)
	return commit, nil
}

// readCommitObject parses the native object without consulting the table.
func (b *Backend) readCommitObject(id model.CommitID) (*Commit, error) {
	data, err := readRawObject(b.repo.Storer, plumbing.CommitObject, id.Hash())
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: commit %s", ErrObjectNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", id.Hex(), err)
	}
	raw, err := decodeCommit(data)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", id.Hex(), err)
	}
	return rawToCommit(id, raw)
}

func rawToCommit(id model.CommitID, raw *rawCommit) (*Commit, error) {
	commit := &Commit{
		Parents:   raw.parents,
		RootTrees: []model.TreeID{raw.tree},
		Author:    raw.author,
		Committer: raw.committer,
		Message:   raw.message,
	}
	if len(commit.Parents) == 0 {
		// Git has no root sentinel; a parentless commit is a child of the
		// virtual root.
		commit.Parents = []model.CommitID{model.RootCommitID()}
	}
	if value, ok := raw.header(conflictTreesHeader); ok {
		terms, err := parseConflictTreesHeader(value)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", id.Hex(), err)
		}
		commit.RootTrees = terms
	}
	commit.ChangeID = changeIDFromRaw(id, raw)
	return commit, nil
}

// changeIDFromRaw reads the change-id header, falling back to the synthetic
// derivation when the header is missing or malformed.
func changeIDFromRaw(id model.CommitID, raw *rawCommit) model.ChangeID {
	if value, ok := raw.header(changeIDHeader); ok {
		if parsed, err := model.ChangeIDFromReverseHex(value); err == nil {
			return parsed
		}
	}
	return model.SyntheticChangeID(id)
}

func applyExtras(commit *Commit, extras CommitExtras) {
	if extras.ChangeID != "" {
		commit.ChangeID = extras.ChangeID
	}
	if len(extras.RootTreeConflict) > 0 {
		commit.RootTrees = extras.RootTreeConflict
	}
	commit.Predecessors = extras.Predecessors
}

func rootCommit() *Commit {
	return &Commit{
		Parents:   nil,
		RootTrees: []model.TreeID{model.EmptyTreeID()},
		ChangeID:  model.RootChangeID(),
		Message:   "",
	}
}

// WriteCommit writes the commit as a native object, pins it against GC, and
// records its extras. A conflicted root tree is materialized as a synthetic
// conflict tree first. If signer is non-nil the pre-signature buffer is
// signed and the signature embedded as a header.
//
// Identity is content-derived, so a hash collision with a commit whose
// recorded extras differ means the two serializations were identical; the
// committer timestamp is stepped back one second and the object rewritten
// until the id no longer clashes.
func (b *Backend) WriteCommit(ctx context.Context, commit *Commit, signer Signer) (model.CommitID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(commit.RootTrees) == 0 {
		return "", fmt.Errorf("commit has no root tree")
	}

	raw := &rawCommit{
		author:    commit.Author,
		committer: commit.Committer,
		message:   commit.Message,
	}
	for _, p := range commit.Parents {
		if !p.IsRoot() {
			raw.parents = append(raw.parents, p)
		}
	}

	extras := CommitExtras{
		ChangeID:     commit.ChangeID,
		Predecessors: commit.Predecessors,
	}
	if commit.HasTreeConflict() {
		treeID, err := writeConflictTree(b.repo.Storer, commit.RootTrees)
		if err != nil {
			return "", err
		}
		raw.tree = treeID
		raw.setHeader(conflictTreesHeader, formatConflictTreesHeader(commit.RootTrees))
		extras.RootTreeConflict = slices.Clone(commit.RootTrees)
	} else {
		raw.tree = commit.RootTrees[0]
	}
	if b.writeChangeIDHeader {
		raw.setHeader(changeIDHeader, commit.ChangeID.ToReverseHex())
	}
	baseHeaders := slices.Clone(raw.extras)

	var id model.CommitID
	err := b.table.Mutate(ctx, func(tx *TableTx) error {
		for {
			raw.extras = slices.Clone(baseHeaders)
			if signer != nil {
				sig, err := signer.Sign(encodeCommit(raw))
				if err != nil {
					return fmt.Errorf("sign commit: %w", err)
				}
				raw.setHeader(gpgsigHeader, string(sig))
			}
			data := encodeCommit(raw)
			candidate := model.CommitIDFromHash(computeHash(plumbing.CommitObject, data))

			existing, ok, err := tx.Get(candidate)
			if err != nil {
				return err
			}
			if ok && !existing.Equal(extras) {
				raw.committer.When = raw.committer.When.Add(-time.Second)
				continue
			}

			if _, err := writeRawObject(b.repo.Storer, plumbing.CommitObject, data); err != nil {
				return fmt.Errorf("write commit object: %w", err)
			}
			if err := b.createNoGCPin(candidate); err != nil {
				return err
			}
			tx.Put(candidate, extras)
			id = candidate
			return nil
		}
	})
	if err != nil {
		return "", err
	}

	commit.Committer = raw.committer
	b.commits.Add(id, commit)
	return id, nil
}

func computeHash(t plumbing.ObjectType, data []byte) plumbing.Hash {
	hasher := plumbing.NewHasher(t, int64(len(data)))
	hasher.Write(data)
	return hasher.Sum()
}

// ImportHeadCommits records extras for the given commits and their full
// ancestry, stopping at ancestors already on file. The head set itself is
// pinned against GC before the table walk so a concurrent GC cannot reclaim
// the commits mid-import.
func (b *Backend) ImportHeadCommits(ctx context.Context, ids []model.CommitID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.importHeadCommitsLocked(ctx, ids)
}

func (b *Backend) importHeadCommitsLocked(ctx context.Context, ids []model.CommitID) error {
	heads := make([]model.CommitID, 0, len(ids))
	seen := make(map[model.CommitID]struct{})
	for _, id := range ids {
		if id.IsRoot() {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		heads = append(heads, id)
	}
	if len(heads) == 0 {
		return nil
	}

	for _, id := range heads {
		if err := b.createNoGCPin(id); err != nil {
			return err
		}
	}

	return b.table.Mutate(ctx, func(tx *TableTx) error {
		stack := slices.Clone(heads)
		visited := make(map[model.CommitID]struct{})
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := visited[id]; done {
				continue
			}
			visited[id] = struct{}{}

			has, err := tx.Has(id)
			if err != nil {
				return err
			}
			if has {
				continue
			}

			data, err := readRawObject(b.repo.Storer, plumbing.CommitObject, id.Hash())
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				return fmt.Errorf("%w: commit %s", ErrObjectNotFound, id.Hex())
			}
			if err != nil {
				return err
			}
			raw, err := decodeCommit(data)
			if err != nil {
				return fmt.Errorf("commit %s: %w", id.Hex(), err)
			}

			extras := CommitExtras{ChangeID: changeIDFromRaw(id, raw)}
			if value, ok := raw.header(conflictTreesHeader); ok {
				terms, err := parseConflictTreesHeader(value)
				if err != nil {
					return fmt.Errorf("commit %s: %w", id.Hex(), err)
				}
				extras.RootTreeConflict = terms
			}
			tx.Put(id, extras)

			stack = append(stack, raw.parents...)
		}
		return nil
	})
}

func (b *Backend) createNoGCPin(id model.CommitID) error {
	name := plumbing.ReferenceName(NoGCRefPrefix + id.Hex())
	ref := plumbing.NewHashReference(name, id.Hash())
	if err := b.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create gc pin for %s: %w", id.Hex(), err)
	}
	return nil
}

// ReadTreeConflict decodes a tree id back into its merge terms. A plain
// tree reads as a single resolved term.
func (b *Backend) ReadTreeConflict(ctx context.Context, id model.TreeID) ([]model.TreeID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	terms, err := readConflictTree(b.repo.Storer, id)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: tree %s", ErrObjectNotFound, id.Hex())
	}
	return terms, err
}

// WriteTreeConflict materializes merge terms as a synthetic conflict tree.
func (b *Backend) WriteTreeConflict(ctx context.Context, terms []model.TreeID) (model.TreeID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeConflictTree(b.repo.Storer, terms)
}

// WriteTree writes a plain tree object.
func (b *Backend) WriteTree(ctx context.Context, entries []TreeEntry) (model.TreeID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hash, err := writeRawObject(b.repo.Storer, plumbing.TreeObject, encodeTree(entries))
	if err != nil {
		return "", fmt.Errorf("write tree: %w", err)
	}
	return model.TreeIDFromHash(hash), nil
}

// ReadTree reads a plain tree object's entries.
func (b *Backend) ReadTree(ctx context.Context, id model.TreeID) ([]TreeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := readRawObject(b.repo.Storer, plumbing.TreeObject, id.Hash())
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: tree %s", ErrObjectNotFound, id.Hex())
	}
	if err != nil {
		return nil, err
	}
	return decodeTree(data)
}

// WriteBlob stores file or symlink content.
func (b *Backend) WriteBlob(ctx context.Context, data []byte) (plumbing.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeRawObject(b.repo.Storer, plumbing.BlobObject, data)
}

// ReadBlob reads file or symlink content.
func (b *Backend) ReadBlob(ctx context.Context, hash plumbing.Hash) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := readRawObject(b.repo.Storer, plumbing.BlobObject, hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: blob %s", ErrObjectNotFound, hash.String())
	}
	return data, err
}
