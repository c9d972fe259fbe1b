package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/tideline/core/model"
)

func (e *syncEnv) exporter() *Exporter {
	return NewExporter(e.backend, e.view)
}

func (e *syncEnv) refHash(name string) (plumbing.Hash, bool) {
	e.t.Helper()
	ref, err := e.repo.Storer.Reference(plumbing.ReferenceName(name))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, false
	}
	require.NoError(e.t, err)
	return ref.Hash(), true
}

func TestExportCreatesBranch(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(a)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)

	hash, ok := env.refHash("refs/heads/main")
	require.True(t, ok)
	assert.Equal(t, a, hash)
	assert.True(t, env.view.GetGitRef("refs/heads/main").Equal(model.NormalRefTarget(cid(a))))
	rec := env.view.GetRemoteBookmark(sym("main", "git"))
	assert.True(t, rec.IsTracked())
	assert.True(t, rec.Target.Equal(model.NormalRefTarget(cid(a))))
}

func TestExportMovesBranch(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.setRef("refs/heads/main", a)
	env.view.SetGitRef("refs/heads/main", model.NormalRefTarget(cid(a)))
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)

	hash, ok := env.refHash("refs/heads/main")
	require.True(t, ok)
	assert.Equal(t, b, hash)
	assert.True(t, env.view.GetGitRef("refs/heads/main").Equal(model.NormalRefTarget(cid(b))))
}

func TestExportDeletesBranch(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.setRef("refs/heads/gone", a)
	env.view.SetGitRef("refs/heads/gone", model.NormalRefTarget(cid(a)))
	env.view.SetRemoteBookmark(sym("gone", "git"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateTracked,
	})

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)

	_, ok := env.refHash("refs/heads/gone")
	assert.False(t, ok)
	assert.True(t, env.view.GetGitRef("refs/heads/gone").IsAbsent())
	assert.True(t, env.view.GetRemoteBookmark(sym("gone", "git")).IsAbsent())
}

func TestExportRemoteTrackingRef(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.view.SetRemoteBookmark(sym("feature", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateTracked,
	})

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)

	hash, ok := env.refHash("refs/remotes/origin/feature")
	require.True(t, ok)
	assert.Equal(t, a, hash)
}

func TestExportSkipsConflictedTarget(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	c := env.writeCommit("c", a)
	conflicted := model.RefTargetFromMerge(
		[]model.CommitID{cid(a)},
		[]model.CommitID{cid(b), cid(c)},
	)
	env.view.SetLocalBookmark("main", conflicted)

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)

	_, ok := env.refHash("refs/heads/main")
	assert.False(t, ok)
}

func TestExportFailsOnRootCommit(t *testing.T) {
	env := newSyncEnv(t)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(model.RootCommitID()))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	assert.Equal(t, ExportFailOnRootCommit, stats.FailedBookmarks[0].Reason)
	_, ok := env.refHash("refs/heads/main")
	assert.False(t, ok)
}

func TestExportFailsOnInvalidGitName(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.view.SetLocalBookmark("HEAD", model.NormalRefTarget(cid(a)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	fail := stats.FailedBookmarks[0]
	assert.Equal(t, ExportFailInvalidGitName, fail.Reason)
	assert.Equal(t, sym("HEAD", "git"), fail.Sym)
}

func TestExportCreateRacesExternalCreate(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.setRef("refs/heads/main", b)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(a)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	assert.Equal(t, ExportFailAddedInJjAddedInGit, stats.FailedBookmarks[0].Reason)
	hash, _ := env.refHash("refs/heads/main")
	assert.Equal(t, b, hash)
	assert.True(t, env.view.GetGitRef("refs/heads/main").IsAbsent())
}

func TestExportMoveRacesExternalDelete(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.view.SetGitRef("refs/heads/main", model.NormalRefTarget(cid(a)))
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	assert.Equal(t, ExportFailModifiedInJjDeletedInGit, stats.FailedBookmarks[0].Reason)
	_, ok := env.refHash("refs/heads/main")
	assert.False(t, ok)
}

func TestExportDeleteRacesExternalMove(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.setRef("refs/heads/main", b)
	env.view.SetGitRef("refs/heads/main", model.NormalRefTarget(cid(a)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	assert.Equal(t, ExportFailDeletedInJjModifiedInGit, stats.FailedBookmarks[0].Reason)
	hash, _ := env.refHash("refs/heads/main")
	assert.Equal(t, b, hash)
}

func TestExportMoveRacesExternalMove(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	c := env.writeCommit("c", a)
	env.setRef("refs/heads/main", c)
	env.view.SetGitRef("refs/heads/main", model.NormalRefTarget(cid(a)))
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	assert.Equal(t, ExportFailFailedToSet, stats.FailedBookmarks[0].Reason)
	hash, _ := env.refHash("refs/heads/main")
	assert.Equal(t, c, hash)
}

func TestExportExternalMoveToSameTargetSucceeds(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.setRef("refs/heads/main", b)
	env.view.SetGitRef("refs/heads/main", model.NormalRefTarget(cid(a)))
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)
	assert.True(t, env.view.GetGitRef("refs/heads/main").Equal(model.NormalRefTarget(cid(b))))
}

func TestExportFailsOnConflictedOldState(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	c := env.writeCommit("c", a)
	conflicted := model.RefTargetFromMerge(
		[]model.CommitID{cid(a)},
		[]model.CommitID{cid(b), cid(c)},
	)
	env.view.SetGitRef("refs/heads/main", conflicted)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 1)
	assert.Equal(t, ExportFailConflictedOldState, stats.FailedBookmarks[0].Reason)
}

func TestExportDetachesHeadBeforeMovingItsBranch(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.setRef("refs/heads/main", a)
	head := plumbing.NewSymbolicReference(plumbing.HEAD, "refs/heads/main")
	require.NoError(t, env.repo.Storer.SetReference(head))
	env.view.SetGitRef("refs/heads/main", model.NormalRefTarget(cid(a)))
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.FailedBookmarks)

	headRef, err := env.repo.Storer.Reference(plumbing.HEAD)
	require.NoError(t, err)
	assert.Equal(t, plumbing.HashReference, headRef.Type())
	assert.Equal(t, a, headRef.Hash())
	hash, _ := env.refHash("refs/heads/main")
	assert.Equal(t, b, hash)
}

func TestExportFailuresSortedBySymbol(t *testing.T) {
	env := newSyncEnv(t)
	env.view.SetLocalBookmark("zeta", model.NormalRefTarget(model.RootCommitID()))
	env.view.SetLocalBookmark("alpha", model.NormalRefTarget(model.RootCommitID()))

	stats, err := env.exporter().ExportRefs(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.FailedBookmarks, 2)
	assert.Equal(t, "alpha", stats.FailedBookmarks[0].Sym.Name)
	assert.Equal(t, "zeta", stats.FailedBookmarks[1].Sym.Name)
}
