package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/adalundhe/tideline/core/backend"
	"github.com/adalundhe/tideline/core/model"
)

// Exporter writes the view's bookmarks back into the Git ref namespace.
type Exporter struct {
	backend *backend.Backend
	view    *model.View
	logger  *slog.Logger
}

func NewExporter(b *backend.Backend, view *model.View) *Exporter {
	return &Exporter{
		backend: b,
		view:    view,
		logger:  slog.Default().With("component", "git-export"),
	}
}

// refExport is one classified export operation. A nil oldOid means the ref
// must not exist yet; a nil newOid means deletion.
type refExport struct {
	sym     model.RemoteSymbol
	refName string
	new     model.RefTarget
	oldOid  *plumbing.Hash
	newOid  *plumbing.Hash
}

// ExportRefs diffs the view's bookmarks against the Git-side mirror and
// applies creates, moves, and deletes. Local bookmarks map to branches;
// remote-tracking records map to their remote-tracking refs. Every applied
// change is copied into the mirror so the next export diffs against what
// was actually achieved. Refs changed externally in the meantime fail
// individually; the export continues.
func (e *Exporter) ExportRefs(ctx context.Context) (ExportStats, error) {
	var stats ExportStats
	var deletions, updates []refExport

	for _, sym := range e.exportSymbols() {
		newTarget := e.newTargetFor(sym)

		refName, err := model.ToGitRefName(model.RefKindBookmark, sym)
		if err != nil {
			if newTarget.IsPresent() {
				stats.FailedBookmarks = append(stats.FailedBookmarks, FailedRefExport{
					Sym: sym, Reason: ExportFailInvalidGitName, Err: err,
				})
			}
			continue
		}
		old := e.view.GetGitRef(refName)
		if newTarget.Equal(old) {
			continue
		}
		if newTarget.HasConflict() {
			// Exported once an import or explicit resolution settles it.
			continue
		}
		if old.HasConflict() {
			stats.FailedBookmarks = append(stats.FailedBookmarks, FailedRefExport{
				Sym: sym, Reason: ExportFailConflictedOldState,
			})
			continue
		}

		op := refExport{sym: sym, refName: refName, new: newTarget}
		if oldID, ok := old.AsNormal(); ok {
			h := oldID.Hash()
			op.oldOid = &h
		}
		if newID, ok := newTarget.AsNormal(); ok {
			if newID.IsRoot() {
				stats.FailedBookmarks = append(stats.FailedBookmarks, FailedRefExport{
					Sym: sym, Reason: ExportFailOnRootCommit,
				})
				continue
			}
			h := newID.Hash()
			op.newOid = &h
			updates = append(updates, op)
		} else {
			deletions = append(deletions, op)
		}
	}

	e.detachHeadIfNeeded(deletions, updates)

	// Deletions first so a rename never collides with its own old name.
	for _, op := range deletions {
		if reason, err := e.deleteGitRef(op); reason != nil {
			stats.FailedBookmarks = append(stats.FailedBookmarks, FailedRefExport{Sym: op.sym, Reason: *reason, Err: err})
		} else {
			e.recordExported(op, model.AbsentRefTarget())
		}
	}
	for _, op := range updates {
		if reason, err := e.updateGitRef(op); reason != nil {
			stats.FailedBookmarks = append(stats.FailedBookmarks, FailedRefExport{Sym: op.sym, Reason: *reason, Err: err})
		} else {
			e.recordExported(op, op.new)
		}
	}

	slices.SortFunc(stats.FailedBookmarks, func(a, b FailedRefExport) int {
		return model.CompareSymbols(a.Sym, b.Sym)
	})
	if len(deletions)+len(updates) > 0 {
		e.logger.Debug("exported refs",
			"updated", len(updates), "deleted", len(deletions),
			"failed", len(stats.FailedBookmarks))
	}
	return stats, nil
}

// exportSymbols lists every bookmark symbol that may need exporting: local
// bookmarks, non-pseudo remote-tracking records, and mirror entries whose
// source is gone.
func (e *Exporter) exportSymbols() []model.RemoteSymbol {
	seen := make(map[model.RemoteSymbol]struct{})
	var syms []model.RemoteSymbol
	add := func(sym model.RemoteSymbol) {
		if _, dup := seen[sym]; !dup {
			seen[sym] = struct{}{}
			syms = append(syms, sym)
		}
	}

	for name := range e.view.LocalBookmarks {
		add(model.RemoteSymbol{Name: name, Remote: model.GitRemoteName})
	}
	for remote, refs := range e.view.RemoteViews {
		if remote == model.GitRemoteName {
			continue
		}
		for name := range refs {
			add(model.RemoteSymbol{Name: name, Remote: remote})
		}
	}
	for refName := range e.view.GitRefs {
		kind, sym, ok := model.ParseGitRef(refName)
		if ok && kind == model.RefKindBookmark {
			add(sym)
		}
	}

	slices.SortFunc(syms, model.CompareSymbols)
	return syms
}

// newTargetFor reads the authoritative target for a symbol: the local
// bookmark for the pseudo-remote, the tracking record otherwise.
func (e *Exporter) newTargetFor(sym model.RemoteSymbol) model.RefTarget {
	if sym.Remote == model.GitRemoteName {
		return e.view.GetLocalBookmark(sym.Name)
	}
	return e.view.GetRemoteBookmark(sym).Target
}

// detachHeadIfNeeded pins HEAD to its current commit before the branch it
// points at is moved or deleted, so the branch update cannot drag the
// checkout along.
func (e *Exporter) detachHeadIfNeeded(deletions, updates []refExport) {
	storer := e.backend.Repository().Storer
	head, err := storer.Reference(plumbing.HEAD)
	if err != nil || head.Type() != plumbing.SymbolicReference {
		return
	}
	target := string(head.Target())
	touched := false
	for _, op := range deletions {
		if op.refName == target {
			touched = true
		}
	}
	for _, op := range updates {
		if op.refName == target {
			touched = true
		}
	}
	if !touched {
		return
	}

	resolved, err := e.backend.Repository().Reference(plumbing.HEAD, true)
	if err != nil {
		return
	}
	if err := storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, resolved.Hash())); err != nil {
		e.logger.Debug("failed to detach HEAD", "error", err)
	}
}

func (e *Exporter) deleteGitRef(op refExport) (*FailedRefExportReason, error) {
	storer := e.backend.Repository().Storer
	name := plumbing.ReferenceName(op.refName)

	live, err := storer.Reference(name)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return failReason(ExportFailFailedToDelete), err
	}
	if op.oldOid == nil || live.Hash() != *op.oldOid {
		return failReason(ExportFailDeletedInJjModifiedInGit), nil
	}
	if err := storer.RemoveReference(name); err != nil {
		return failReason(ExportFailFailedToDelete), err
	}
	return nil, nil
}

func (e *Exporter) updateGitRef(op refExport) (*FailedRefExportReason, error) {
	storer := e.backend.Repository().Storer
	name := plumbing.ReferenceName(op.refName)
	newRef := plumbing.NewHashReference(name, *op.newOid)

	live, err := storer.Reference(name)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if op.oldOid != nil {
			return failReason(ExportFailModifiedInJjDeletedInGit), nil
		}
		if err := storer.SetReference(newRef); err != nil {
			return failReason(ExportFailFailedToSet), err
		}
		return nil, nil
	case err != nil:
		return failReason(ExportFailFailedToSet), err
	}

	if live.Hash() == *op.newOid {
		// Someone else already moved it where we wanted it.
		return nil, nil
	}
	if op.oldOid == nil {
		return failReason(ExportFailAddedInJjAddedInGit), nil
	}
	if live.Hash() != *op.oldOid {
		return failReason(ExportFailFailedToSet), fmt.Errorf("ref %s moved externally", op.refName)
	}
	old := plumbing.NewHashReference(name, *op.oldOid)
	if err := storer.CheckAndSetReference(newRef, old); err != nil {
		return failReason(ExportFailFailedToSet), err
	}
	return nil, nil
}

// recordExported copies the achieved value into the Git-side mirror and,
// for local bookmarks, into the pseudo-remote's tracking view.
func (e *Exporter) recordExported(op refExport, achieved model.RefTarget) {
	e.view.SetGitRef(op.refName, achieved)
	if op.sym.Remote == model.GitRemoteName {
		if achieved.IsAbsent() {
			e.view.SetRemoteBookmark(op.sym, model.AbsentRemoteRef())
		} else {
			e.view.SetRemoteBookmark(op.sym, model.RemoteRef{
				Target: achieved,
				State:  model.RemoteRefStateTracked,
			})
		}
	}
}

func failReason(r FailedRefExportReason) *FailedRefExportReason {
	return &r
}
