package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/tideline/core/backend"
	"github.com/adalundhe/tideline/core/config"
	"github.com/adalundhe/tideline/core/model"
	"github.com/adalundhe/tideline/core/refspec"
	tidesync "github.com/adalundhe/tideline/core/sync"
)

// stubRunner replays canned outputs and records the argument lists it saw.
type stubRunner struct {
	calls     [][]string
	responses []*Output
}

func (r *stubRunner) Run(_ context.Context, _ *Callbacks, args ...string) (*Output, error) {
	r.calls = append(r.calls, args)
	if len(r.responses) == 0 {
		return &Output{}, nil
	}
	out := r.responses[0]
	r.responses = r.responses[1:]
	return out, nil
}

func newRemoteRepo(t *testing.T) *gogit.Repository {
	t.Helper()
	repo, err := gogit.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{"https://example.com/repo.git"},
	})
	require.NoError(t, err)
	return repo
}

func exactBranches(names ...string) refspec.Expression {
	operands := make([]refspec.Expression, 0, len(names))
	for _, name := range names {
		operands = append(operands, refspec.Pattern(refspec.ExactPattern(name)))
	}
	return refspec.Union(operands...)
}

func TestFetchBuildsRefspecs(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{}
	fetcher := NewFetcher(repo, runner)

	err := fetcher.Fetch(context.Background(), "origin", exactBranches("main"), 0, nil)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"fetch", "--prune", "--no-write-fetch-head",
		"--", "origin",
		"+refs/heads/main:refs/remotes/origin/main",
	}, runner.calls[0])
}

func TestFetchDepthAndProgress(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{}
	fetcher := NewFetcher(repo, runner)
	callbacks := &Callbacks{Progress: func(Progress) {}}

	err := fetcher.Fetch(context.Background(), "origin", exactBranches("main"), 7, callbacks)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "--progress")
	assert.Contains(t, runner.calls[0], "--depth=7")
}

func TestFetchRetriesWithoutMissingRefs(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{responses: []*Output{
		{ExitCode: 128, Stderr: []byte("fatal: couldn't find remote ref refs/heads/gone")},
		{ExitCode: 0},
		{ExitCode: 0},
	}}
	fetcher := NewFetcher(repo, runner)

	err := fetcher.Fetch(context.Background(), "origin", exactBranches("main", "gone"), 0, nil)
	require.NoError(t, err)

	require.Len(t, runner.calls, 3)
	assert.Contains(t, runner.calls[0], "+refs/heads/gone:refs/remotes/origin/gone")
	assert.NotContains(t, runner.calls[1], "+refs/heads/gone:refs/remotes/origin/gone")
	assert.Contains(t, runner.calls[1], "+refs/heads/main:refs/remotes/origin/main")
	assert.Equal(t, []string{"branch", "--remotes", "--delete", "--", "origin/gone"}, runner.calls[2])
}

func TestFetchAllRefsMissing(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{responses: []*Output{
		{ExitCode: 128, Stderr: []byte("fatal: couldn't find remote ref refs/heads/gone")},
		{ExitCode: 0},
	}}
	fetcher := NewFetcher(repo, runner)

	err := fetcher.Fetch(context.Background(), "origin", exactBranches("gone"), 0, nil)
	require.NoError(t, err)

	// Only the failed fetch and the prune ran.
	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"branch", "--remotes", "--delete", "--", "origin/gone"}, runner.calls[1])
}

func TestFetchGlobWithExclusion(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{}
	fetcher := NewFetcher(repo, runner)

	glob, err := refspec.GlobPattern("*")
	require.NoError(t, err)
	expr := refspec.Intersection(
		refspec.Pattern(glob),
		refspec.Not(refspec.Pattern(refspec.ExactPattern("secret"))),
	)
	require.NoError(t, fetcher.Fetch(context.Background(), "origin", expr, 0, nil))

	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "+refs/heads/*:refs/remotes/origin/*")
	assert.Contains(t, runner.calls[0], "^refs/heads/secret")
}

func TestFetchUnknownRemote(t *testing.T) {
	repo := newRemoteRepo(t)
	fetcher := NewFetcher(repo, &stubRunner{})

	err := fetcher.Fetch(context.Background(), "upstream", exactBranches("main"), 0, nil)
	assert.ErrorIs(t, err, ErrNoSuchRemote)
}

func TestFetchReservedRemote(t *testing.T) {
	repo := newRemoteRepo(t)
	fetcher := NewFetcher(repo, &stubRunner{})

	err := fetcher.Fetch(context.Background(), "git", exactBranches("main"), 0, nil)
	assert.ErrorIs(t, err, model.ErrReservedRemoteName)
}

func TestGetDefaultBranch(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{responses: []*Output{
		{Stdout: []byte("* remote origin\n  HEAD branch: main\n")},
	}}
	fetcher := NewFetcher(repo, runner)

	branch, err := fetcher.GetDefaultBranch(context.Background(), "origin")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"remote", "show", "--", "origin"}, runner.calls[0])
}

func TestGetDefaultBranchUnknown(t *testing.T) {
	repo := newRemoteRepo(t)
	runner := &stubRunner{responses: []*Output{
		{Stdout: []byte("  HEAD branch: (unknown)\n")},
	}}
	fetcher := NewFetcher(repo, runner)

	branch, err := fetcher.GetDefaultBranch(context.Background(), "origin")
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func writeCommitObject(t *testing.T, repo *gogit.Repository, message string) plumbing.Hash {
	t.Helper()
	sig := object.Signature{
		Name: "Test User", Email: "test@example.com",
		When: time.Unix(1700000000, 0).UTC(),
	}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904"),
	}
	obj := repo.Storer.NewEncodedObject()
	require.NoError(t, commit.Encode(obj))
	hash, err := repo.Storer.SetEncodedObject(obj)
	require.NoError(t, err)
	return hash
}

func TestImportLimitedToFetchedBranches(t *testing.T) {
	repo := newRemoteRepo(t)
	settings := config.DefaultSettings()
	b, err := backend.New(repo, "", memfs.New(), &backend.MutexLock{}, settings)
	require.NoError(t, err)
	view := model.NewView()
	importer, err := tidesync.NewImporter(b, view, &settings.Git, nil)
	require.NoError(t, err)

	main := writeCommitObject(t, repo, "main")
	other := writeCommitObject(t, repo, "other")
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference("refs/remotes/origin/main", main)))
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference("refs/remotes/origin/other", other)))

	runner := &stubRunner{}
	fetcher := NewFetcher(repo, runner)
	require.NoError(t, fetcher.Fetch(context.Background(), "origin", exactBranches("main"), 0, nil))

	stats, err := fetcher.Import(context.Background(), importer)
	require.NoError(t, err)

	require.Len(t, stats.ChangedBookmarks, 1)
	assert.Equal(t, "main", stats.ChangedBookmarks[0].Sym.Name)
	assert.True(t, view.GetRemoteBookmark(model.RemoteSymbol{Name: "other", Remote: "origin"}).IsAbsent())

	// The fetch record is consumed; importing again brings in nothing new.
	stats, err = fetcher.Import(context.Background(), importer)
	require.NoError(t, err)
	assert.Empty(t, stats.ChangedBookmarks)
}
