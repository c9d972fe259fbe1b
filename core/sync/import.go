package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/adalundhe/tideline/core/backend"
	"github.com/adalundhe/tideline/core/config"
	"github.com/adalundhe/tideline/core/model"
	"github.com/adalundhe/tideline/core/refspec"
)

// Importer applies live Git ref state to the view.
type Importer struct {
	backend   *backend.Backend
	view      *model.View
	settings  *config.GitSettings
	autoTrack refspec.Expression
	reach     Reachability
	logger    *slog.Logger
}

func NewImporter(b *backend.Backend, view *model.View, settings *config.GitSettings, reach Reachability) (*Importer, error) {
	autoTrack, err := settings.AutoTrackExpression()
	if err != nil {
		return nil, err
	}
	return &Importer{
		backend:   b,
		view:      view,
		settings:  settings,
		autoTrack: autoTrack,
		reach:     reach,
		logger:    slog.Default().With("component", "git-import"),
	}, nil
}

// ImportRefs diffs the live refs against the view and applies the changes:
// new commits are imported into the metadata table and become heads,
// tracked remote refs are three-way merged into their local counterparts,
// and the remote-tracking records are overwritten to the observed truth.
// With abandonment enabled, commits only the old remote targets reached are
// reported abandoned.
func (i *Importer) ImportRefs(ctx context.Context, filter RefFilter) (ImportStats, error) {
	repo := i.backend.Repository()
	diff, err := diffRefsToImport(repo, i.view, filter)
	if err != nil {
		return ImportStats{}, err
	}

	if err := i.importNewHeads(ctx, diff); err != nil {
		return ImportStats{}, err
	}

	for _, ch := range diff.changedGitRefs {
		i.view.SetGitRef(ch.name, ch.new)
	}

	for _, ch := range diff.changedBookmarks {
		state := i.bookmarkState(ch)
		if state == model.RemoteRefStateTracked {
			base := ch.Old.TrackingTarget()
			ours := i.view.GetLocalBookmark(ch.Sym.Name)
			merged := model.MergeRefTargets(ours, base, ch.New)
			i.view.SetLocalBookmark(ch.Sym.Name, merged)
		}
		// The remote-tracking record always reflects the remote's last
		// observed truth, tracked or not.
		i.view.SetRemoteBookmark(ch.Sym, model.RemoteRef{Target: ch.New, State: state})
	}

	for _, ch := range diff.changedTags {
		base := ch.Old.TrackingTarget()
		ours := i.view.GetTag(ch.Sym.Name)
		merged := model.MergeRefTargets(ours, base, ch.New)
		i.view.SetTag(ch.Sym.Name, merged)
	}

	stats := ImportStats{
		ChangedBookmarks: diff.changedBookmarks,
		ChangedTags:      diff.changedTags,
		FailedRefNames:   diff.failedRefNames,
	}

	if i.settings.AbandonUnreachableCommits && i.reach != nil {
		abandoned, err := i.abandonUnreachable(ctx, diff)
		if err != nil {
			return ImportStats{}, err
		}
		stats.AbandonedCommits = abandoned
	}

	if len(diff.changedBookmarks)+len(diff.changedTags) > 0 {
		i.logger.Debug("imported refs",
			"bookmarks", len(diff.changedBookmarks),
			"tags", len(diff.changedTags),
			"failed", len(diff.failedRefNames),
			"abandoned", len(stats.AbandonedCommits))
	}
	return stats, nil
}

// importNewHeads records metadata for every newly observed target and makes
// the commits visible heads.
func (i *Importer) importNewHeads(ctx context.Context, diff *importDiff) error {
	var heads []model.CommitID
	for _, ch := range diff.changedBookmarks {
		heads = append(heads, ch.New.AddedIDs()...)
	}
	for _, ch := range diff.changedTags {
		heads = append(heads, ch.New.AddedIDs()...)
	}
	if len(heads) == 0 {
		return nil
	}
	if err := i.backend.ImportHeadCommits(ctx, heads); err != nil {
		return fmt.Errorf("import head commits: %w", err)
	}
	for _, id := range heads {
		i.view.AddHead(id)
	}
	return nil
}

// bookmarkState keeps the previous tracking state, or decides the initial
// one: refs of the repository's own branch namespace and auto-tracked names
// start tracked, everything else starts independent.
func (i *Importer) bookmarkState(ch RefChange) model.RemoteRefState {
	if ch.Old.IsPresent() {
		return ch.Old.State
	}
	if ch.Sym.Remote == model.GitRemoteName || i.settings.AutoLocalBookmark {
		return model.RemoteRefStateTracked
	}
	if i.autoTrack.Matches(ch.Sym.Name) {
		return model.RemoteRefStateTracked
	}
	return model.RemoteRefStateNew
}

// abandonUnreachable finds commits that only the old values of the changed
// remote refs reached. Local bookmarks and tags, independent remote refs,
// and the root pin everything they reach.
func (i *Importer) abandonUnreachable(ctx context.Context, diff *importDiff) ([]model.CommitID, error) {
	var hidable []model.CommitID
	for _, ch := range diff.changedBookmarks {
		hidable = append(hidable, ch.Old.Target.AddedIDs()...)
	}
	for _, ch := range diff.changedTags {
		hidable = append(hidable, ch.Old.Target.AddedIDs()...)
	}
	if len(hidable) == 0 {
		return nil, nil
	}

	pinned := []model.CommitID{model.RootCommitID()}
	for _, target := range i.view.LocalBookmarks {
		pinned = append(pinned, target.AddedIDs()...)
	}
	for _, target := range i.view.Tags {
		pinned = append(pinned, target.AddedIDs()...)
	}
	for _, refs := range i.view.RemoteViews {
		for _, ref := range refs {
			if !ref.IsTracked() {
				pinned = append(pinned, ref.Target.AddedIDs()...)
			}
		}
	}

	abandoned, err := i.reach.Range(ctx, pinned, hidable)
	if err != nil {
		return nil, fmt.Errorf("compute unreachable commits: %w", err)
	}
	slices.Sort(abandoned)
	return abandoned, nil
}

// ImportHead syncs the view's record of Git's HEAD. New commits it points
// at are imported, but nothing is abandoned.
func (i *Importer) ImportHead(ctx context.Context) error {
	repo := i.backend.Repository()

	target := model.AbsentRefTarget()
	head, err := repo.Reference(plumbing.HEAD, true)
	switch {
	case err == nil:
		target = model.NormalRefTarget(model.CommitIDFromHash(head.Hash()))
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn HEAD.
	default:
		return fmt.Errorf("resolve HEAD: %w", err)
	}

	if target.Equal(i.view.GitHead) {
		return nil
	}
	if id, ok := target.AsNormal(); ok {
		if err := i.backend.ImportHeadCommits(ctx, []model.CommitID{id}); err != nil {
			return err
		}
		i.view.AddHead(id)
	}
	i.view.GitHead = target
	return nil
}
