package sync

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/tideline/core/model"
)

func (e *syncEnv) importer() *Importer {
	e.t.Helper()
	imp, err := NewImporter(e.backend, e.view, &e.settings.Git, NewGraphReachability(e.repo))
	require.NoError(e.t, err)
	return imp
}

func TestImportRefsTracksOwnBranches(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.setRef("refs/heads/main", a)

	stats, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, stats.ChangedBookmarks, 1)
	assert.True(t, env.view.GetLocalBookmark("main").Equal(model.NormalRefTarget(cid(a))))
	rec := env.view.GetRemoteBookmark(sym("main", "git"))
	assert.True(t, rec.IsTracked())
	assert.True(t, rec.Target.Equal(model.NormalRefTarget(cid(a))))
	assert.Contains(t, env.view.HeadIDs, cid(a))
}

func TestImportRefsNewRemoteBookmarkStartsUntracked(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.setRef("refs/remotes/origin/feature", a)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	rec := env.view.GetRemoteBookmark(sym("feature", "origin"))
	assert.False(t, rec.IsTracked())
	assert.True(t, rec.Target.Equal(model.NormalRefTarget(cid(a))))
	// Untracked refs still make their commits visible.
	assert.Contains(t, env.view.HeadIDs, cid(a))
	assert.True(t, env.view.GetLocalBookmark("feature").IsAbsent())
}

func TestImportRefsAutoLocalBookmark(t *testing.T) {
	env := newSyncEnv(t)
	env.settings.Git.AutoLocalBookmark = true
	a := env.writeCommit("a")
	env.setRef("refs/remotes/origin/feature", a)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, env.view.GetRemoteBookmark(sym("feature", "origin")).IsTracked())
	assert.True(t, env.view.GetLocalBookmark("feature").Equal(model.NormalRefTarget(cid(a))))
}

func TestImportRefsAutoTrackPatterns(t *testing.T) {
	env := newSyncEnv(t)
	env.settings.Git.AutoTrackBookmarks = []string{"glob:release-*"}
	a := env.writeCommit("a")
	env.setRef("refs/remotes/origin/release-1", a)
	env.setRef("refs/remotes/origin/scratch", a)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, env.view.GetRemoteBookmark(sym("release-1", "origin")).IsTracked())
	assert.False(t, env.view.GetRemoteBookmark(sym("scratch", "origin")).IsTracked())
	assert.True(t, env.view.GetLocalBookmark("release-1").Equal(model.NormalRefTarget(cid(a))))
}

func TestImportRefsFastForwardsTrackedBookmark(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(a)))
	env.view.SetRemoteBookmark(sym("main", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateTracked,
	})
	env.view.SetGitRef("refs/remotes/origin/main", model.NormalRefTarget(cid(a)))
	env.setRef("refs/remotes/origin/main", b)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, env.view.GetLocalBookmark("main").Equal(model.NormalRefTarget(cid(b))))
	assert.True(t, env.view.GetRemoteBookmark(sym("main", "origin")).Target.Equal(model.NormalRefTarget(cid(b))))
}

func TestImportRefsDivergenceBecomesConflict(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	c := env.writeCommit("c", a)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(b)))
	env.view.SetRemoteBookmark(sym("main", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateTracked,
	})
	env.view.SetGitRef("refs/remotes/origin/main", model.NormalRefTarget(cid(a)))
	env.setRef("refs/remotes/origin/main", c)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	merged := env.view.GetLocalBookmark("main")
	assert.True(t, merged.HasConflict())
	assert.ElementsMatch(t, []model.CommitID{cid(b), cid(c)}, merged.AddedIDs())
	assert.Equal(t, []model.CommitID{cid(a)}, merged.RemovedIDs())
}

func TestImportRefsUntrackedChangeLeavesLocalAlone(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(a)))
	env.view.SetRemoteBookmark(sym("main", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateNew,
	})
	env.view.SetGitRef("refs/remotes/origin/main", model.NormalRefTarget(cid(a)))
	env.setRef("refs/remotes/origin/main", b)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, env.view.GetLocalBookmark("main").Equal(model.NormalRefTarget(cid(a))))
	rec := env.view.GetRemoteBookmark(sym("main", "origin"))
	assert.False(t, rec.IsTracked())
	assert.True(t, rec.Target.Equal(model.NormalRefTarget(cid(b))))
}

func TestImportRefsAbandonsUnreachableCommits(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.view.SetLocalBookmark("main", model.NormalRefTarget(cid(a)))
	env.view.SetLocalBookmark("feature", model.NormalRefTarget(cid(b)))
	env.view.SetRemoteBookmark(sym("main", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateTracked,
	})
	env.view.SetRemoteBookmark(sym("feature", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(b)), State: model.RemoteRefStateTracked,
	})
	env.view.SetGitRef("refs/remotes/origin/main", model.NormalRefTarget(cid(a)))
	env.view.SetGitRef("refs/remotes/origin/feature", model.NormalRefTarget(cid(b)))
	env.setRef("refs/remotes/origin/main", a)

	stats, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	// The tracked deletion propagates, and the commit only the deleted ref
	// reached is abandoned. Its parent stays pinned by main.
	assert.True(t, env.view.GetLocalBookmark("feature").IsAbsent())
	assert.Equal(t, []model.CommitID{cid(b)}, stats.AbandonedCommits)
}

func TestImportRefsAbandonmentDisabled(t *testing.T) {
	env := newSyncEnv(t)
	env.settings.Git.AbandonUnreachableCommits = false
	a := env.writeCommit("a")
	env.view.SetLocalBookmark("feature", model.NormalRefTarget(cid(a)))
	env.view.SetRemoteBookmark(sym("feature", "origin"), model.RemoteRef{
		Target: model.NormalRefTarget(cid(a)), State: model.RemoteRefStateTracked,
	})
	env.view.SetGitRef("refs/remotes/origin/feature", model.NormalRefTarget(cid(a)))

	stats, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, stats.AbandonedCommits)
}

func TestImportRefsReportsFailedNames(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.setRef("refs/remotes/git/shadow", a)

	stats, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"refs/remotes/git/shadow"}, stats.FailedRefNames)
}

func TestImportRefsRecordsExtrasForAncestry(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	b := env.writeCommit("b", a)
	env.setRef("refs/heads/main", b)

	_, err := env.importer().ImportRefs(context.Background(), nil)
	require.NoError(t, err)

	// Both the head and its parent gained metadata entries.
	commit, err := env.backend.ReadCommit(context.Background(), cid(a))
	require.NoError(t, err)
	assert.Equal(t, model.SyntheticChangeID(cid(a)), commit.ChangeID)
}

func TestImportHead(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.setRef("refs/heads/main", a)
	head := plumbing.NewSymbolicReference(plumbing.HEAD, "refs/heads/main")
	require.NoError(t, env.repo.Storer.SetReference(head))

	imp := env.importer()
	require.NoError(t, imp.ImportHead(context.Background()))

	assert.True(t, env.view.GitHead.Equal(model.NormalRefTarget(cid(a))))
	assert.Contains(t, env.view.HeadIDs, cid(a))

	// Unchanged HEAD is a no-op.
	require.NoError(t, imp.ImportHead(context.Background()))
	assert.True(t, env.view.GitHead.Equal(model.NormalRefTarget(cid(a))))
}

func TestImportHeadUnborn(t *testing.T) {
	env := newSyncEnv(t)
	a := env.writeCommit("a")
	env.view.GitHead = model.NormalRefTarget(cid(a))
	env.deleteRef("HEAD")

	require.NoError(t, env.importer().ImportHead(context.Background()))
	assert.True(t, env.view.GitHead.IsAbsent())
}
