// Package sync reconciles the view's ref namespace with the Git
// repository's: importing live Git refs into the view and exporting the
// view's bookmarks back out, without either side silently clobbering the
// other.
package sync

import (
	"github.com/adalundhe/tideline/core/model"
)

// RefChange is one changed remote ref: its last recorded state and the
// newly observed target.
type RefChange struct {
	Sym model.RemoteSymbol
	Old model.RemoteRef
	New model.RefTarget
}

// ImportStats reports what an import did.
type ImportStats struct {
	// AbandonedCommits were reachable only from remote refs that moved
	// away from them.
	AbandonedCommits []model.CommitID

	ChangedBookmarks []RefChange
	ChangedTags      []RefChange

	// FailedRefNames lists live refs that could not be imported at all:
	// non-UTF-8 names or names in the reserved remote namespace.
	FailedRefNames []string
}

// FailedRefExportReason classifies why one ref was skipped by an export.
type FailedRefExportReason int

const (
	// ExportFailInvalidGitName marks a symbol that has no valid Git ref
	// name.
	ExportFailInvalidGitName FailedRefExportReason = iota

	// ExportFailConflictedOldState marks a ref whose last-known Git-side
	// mirror is conflicted; an import must resolve it first.
	ExportFailConflictedOldState

	// ExportFailOnRootCommit marks a bookmark pointing at the virtual
	// root, which Git cannot represent.
	ExportFailOnRootCommit

	// ExportFailDeletedInJjModifiedInGit marks a delete racing an
	// external modification.
	ExportFailDeletedInJjModifiedInGit

	// ExportFailAddedInJjAddedInGit marks a create racing an external
	// create with a different target.
	ExportFailAddedInJjAddedInGit

	// ExportFailModifiedInJjDeletedInGit marks a move racing an external
	// delete.
	ExportFailModifiedInJjDeletedInGit

	ExportFailFailedToDelete
	ExportFailFailedToSet
)

func (r FailedRefExportReason) String() string {
	switch r {
	case ExportFailInvalidGitName:
		return "invalid git name"
	case ExportFailConflictedOldState:
		return "conflicted prior state"
	case ExportFailOnRootCommit:
		return "points at the root commit"
	case ExportFailDeletedInJjModifiedInGit:
		return "deleted here but modified in git"
	case ExportFailAddedInJjAddedInGit:
		return "added here but already added in git"
	case ExportFailModifiedInJjDeletedInGit:
		return "modified here but deleted in git"
	case ExportFailFailedToDelete:
		return "failed to delete"
	case ExportFailFailedToSet:
		return "failed to set"
	}
	return "unknown"
}

// FailedRefExport is one ref an export could not apply.
type FailedRefExport struct {
	Sym    model.RemoteSymbol
	Reason FailedRefExportReason
	Err    error
}

// ExportStats reports what an export did. Failures are per-ref and
// non-fatal; the export continues past them.
type ExportStats struct {
	FailedBookmarks []FailedRefExport
}
