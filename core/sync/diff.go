package sync

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/adalundhe/tideline/core/model"
)

// RefFilter is the caller-supplied inclusion predicate over live refs.
// A nil filter includes everything.
type RefFilter func(kind model.RefKind, sym model.RemoteSymbol) bool

// gitRefChange is a changed entry of the raw git-ref mirror.
type gitRefChange struct {
	name string
	new  model.RefTarget
}

// importDiff is the ref diff engine's output: sorted change lists plus the
// names that could not be imported at all.
type importDiff struct {
	changedGitRefs   []gitRefChange
	changedBookmarks []RefChange
	changedTags      []RefChange
	failedRefNames   []string
}

// diffRefsToImport compares the live Git refs against the view's records.
// Anything recorded but no longer live becomes a deletion entry.
func diffRefsToImport(repo *gogit.Repository, view *model.View, filter RefFilter) (*importDiff, error) {
	diff := &importDiff{}

	// Lookup sets built from the view. Entries are removed as live refs
	// match them; the leftovers are now absent.
	knownGitRefs := make(map[string]model.RefTarget)
	for name, target := range view.GitRefs {
		kind, sym, ok := model.ParseGitRef(name)
		if !ok || !includeRef(filter, kind, sym) {
			continue
		}
		knownGitRefs[name] = target
	}
	knownBookmarks := make(map[model.RemoteSymbol]model.RemoteRef)
	for remote, refs := range view.RemoteViews {
		for name, ref := range refs {
			sym := model.RemoteSymbol{Name: name, Remote: remote}
			if !includeRef(filter, model.RefKindBookmark, sym) {
				continue
			}
			knownBookmarks[sym] = ref
		}
	}
	knownTags := make(map[model.RemoteSymbol]model.RemoteRef)
	for name, target := range view.Tags {
		sym := model.RemoteSymbol{Name: name, Remote: model.GitRemoteName}
		if !includeRef(filter, model.RefKindTag, sym) {
			continue
		}
		knownTags[sym] = model.RemoteRef{Target: target, State: model.RemoteRefStateTracked}
	}

	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("enumerate refs: %w", err)
	}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		fullName := string(ref.Name())
		if !strings.HasPrefix(fullName, "refs/") {
			return nil
		}
		if strings.HasPrefix(fullName, "refs/jj/") {
			return nil
		}
		if !utf8.ValidString(fullName) || strings.HasPrefix(fullName, model.ReservedRemoteRefPrefix) {
			diff.failedRefNames = append(diff.failedRefNames, fullName)
			return nil
		}
		kind, sym, ok := model.ParseGitRef(fullName)
		if !ok {
			// Symbolic helpers like refs/remotes/origin/HEAD, and
			// namespaces this model does not represent.
			return nil
		}
		if !includeRef(filter, kind, sym) {
			return nil
		}

		known := knownGitRefs[fullName]
		id, ok, err := resolveGitRef(repo, ref, known)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		newTarget := model.NormalRefTarget(id)

		delete(knownGitRefs, fullName)
		if !newTarget.Equal(known) {
			diff.changedGitRefs = append(diff.changedGitRefs, gitRefChange{name: fullName, new: newTarget})
		}

		switch kind {
		case model.RefKindBookmark:
			old, wasKnown := knownBookmarks[sym]
			delete(knownBookmarks, sym)
			if !wasKnown {
				old = model.AbsentRemoteRef()
			}
			if !newTarget.Equal(old.Target) {
				diff.changedBookmarks = append(diff.changedBookmarks, RefChange{Sym: sym, Old: old, New: newTarget})
			}
		case model.RefKindTag:
			old, wasKnown := knownTags[sym]
			delete(knownTags, sym)
			if !wasKnown {
				old = model.AbsentRemoteRef()
			}
			if !newTarget.Equal(old.Target) {
				diff.changedTags = append(diff.changedTags, RefChange{Sym: sym, Old: old, New: newTarget})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name := range knownGitRefs {
		diff.changedGitRefs = append(diff.changedGitRefs, gitRefChange{name: name, new: model.AbsentRefTarget()})
	}
	for sym, old := range knownBookmarks {
		diff.changedBookmarks = append(diff.changedBookmarks, RefChange{Sym: sym, Old: old, New: model.AbsentRefTarget()})
	}
	for sym, old := range knownTags {
		diff.changedTags = append(diff.changedTags, RefChange{Sym: sym, Old: old, New: model.AbsentRefTarget()})
	}

	// Sorted outputs keep downstream merges deterministic regardless of
	// the ref enumeration order.
	slices.SortFunc(diff.changedGitRefs, func(a, b gitRefChange) int {
		return strings.Compare(a.name, b.name)
	})
	slices.SortFunc(diff.changedBookmarks, func(a, b RefChange) int {
		return model.CompareSymbols(a.Sym, b.Sym)
	})
	slices.SortFunc(diff.changedTags, func(a, b RefChange) int {
		return model.CompareSymbols(a.Sym, b.Sym)
	})
	slices.Sort(diff.failedRefNames)

	return diff, nil
}

func includeRef(filter RefFilter, kind model.RefKind, sym model.RemoteSymbol) bool {
	return filter == nil || filter(kind, sym)
}

// resolveGitRef resolves a live ref to a commit id, peeling annotated tags.
// The fast path compares the live hash against the previously known target
// to skip the peel traversal. Refs that do not peel to a commit are skipped.
func resolveGitRef(repo *gogit.Repository, ref *plumbing.Reference, known model.RefTarget) (model.CommitID, bool, error) {
	if ref.Type() != plumbing.HashReference {
		resolved, err := repo.Reference(ref.Name(), true)
		if err != nil {
			return "", false, nil
		}
		ref = resolved
	}

	if id, ok := known.AsNormal(); ok && id.Hash() == ref.Hash() {
		return id, true, nil
	}

	hash := ref.Hash()
	for {
		obj, err := repo.Storer.EncodedObject(plumbing.AnyObject, hash)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("resolve ref %s: %w", ref.Name(), err)
		}
		switch obj.Type() {
		case plumbing.CommitObject:
			return model.CommitIDFromHash(hash), true, nil
		case plumbing.TagObject:
			tag, err := object.DecodeTag(repo.Storer, obj)
			if err != nil {
				return "", false, fmt.Errorf("decode tag %s: %w", hash, err)
			}
			hash = tag.Target
		default:
			// Tags can point at trees or blobs; nothing to import.
			return "", false, nil
		}
	}
}
