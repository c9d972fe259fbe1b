package model

import (
	"golang.org/x/exp/maps"
	"slices"
)

// View is the ref-level state of the repository: visible heads, local
// bookmarks and tags, per-remote tracking records, and a mirror of the Git
// refs as of the last import or export.
type View struct {
	HeadIDs        map[CommitID]struct{}
	LocalBookmarks map[string]RefTarget
	Tags           map[string]RefTarget
	RemoteViews    map[string]map[string]RemoteRef
	GitRefs        map[string]RefTarget
	GitHead        RefTarget
}

func NewView() *View {
	return &View{
		HeadIDs:        make(map[CommitID]struct{}),
		LocalBookmarks: make(map[string]RefTarget),
		Tags:           make(map[string]RefTarget),
		RemoteViews:    make(map[string]map[string]RemoteRef),
		GitRefs:        make(map[string]RefTarget),
		GitHead:        AbsentRefTarget(),
	}
}

func (v *View) AddHead(id CommitID) {
	if !id.IsRoot() {
		v.HeadIDs[id] = struct{}{}
	}
}

func (v *View) RemoveHead(id CommitID) {
	delete(v.HeadIDs, id)
}

func (v *View) Heads() []CommitID {
	heads := maps.Keys(v.HeadIDs)
	slices.Sort(heads)
	return heads
}

// GetGitRef returns the mirrored target of a full Git ref name.
func (v *View) GetGitRef(name string) RefTarget {
	if t, ok := v.GitRefs[name]; ok {
		return t
	}
	return AbsentRefTarget()
}

// SetGitRef updates the Git ref mirror; an absent target deletes the entry.
func (v *View) SetGitRef(name string, target RefTarget) {
	if target.IsAbsent() {
		delete(v.GitRefs, name)
		return
	}
	v.GitRefs[name] = target
}

func (v *View) GetLocalBookmark(name string) RefTarget {
	if t, ok := v.LocalBookmarks[name]; ok {
		return t
	}
	return AbsentRefTarget()
}

func (v *View) SetLocalBookmark(name string, target RefTarget) {
	if target.IsAbsent() {
		delete(v.LocalBookmarks, name)
		return
	}
	v.LocalBookmarks[name] = target
}

func (v *View) GetTag(name string) RefTarget {
	if t, ok := v.Tags[name]; ok {
		return t
	}
	return AbsentRefTarget()
}

func (v *View) SetTag(name string, target RefTarget) {
	if target.IsAbsent() {
		delete(v.Tags, name)
		return
	}
	v.Tags[name] = target
}

func (v *View) GetRemoteBookmark(sym RemoteSymbol) RemoteRef {
	if refs, ok := v.RemoteViews[sym.Remote]; ok {
		if ref, ok := refs[sym.Name]; ok {
			return ref
		}
	}
	return AbsentRemoteRef()
}

// SetRemoteBookmark updates the tracking record of a remote bookmark; an
// absent ref deletes the record and prunes an emptied remote view.
func (v *View) SetRemoteBookmark(sym RemoteSymbol, ref RemoteRef) {
	refs, ok := v.RemoteViews[sym.Remote]
	if ref.IsAbsent() {
		if ok {
			delete(refs, sym.Name)
			if len(refs) == 0 {
				delete(v.RemoteViews, sym.Remote)
			}
		}
		return
	}
	if !ok {
		refs = make(map[string]RemoteRef)
		v.RemoteViews[sym.Remote] = refs
	}
	refs[sym.Name] = ref
}

// RemoteBookmarkNames returns the sorted bookmark names known for a remote.
func (v *View) RemoteBookmarkNames(remote string) []string {
	names := maps.Keys(v.RemoteViews[remote])
	slices.Sort(names)
	return names
}

// RemoveRemote drops every tracking record of a remote.
func (v *View) RemoveRemote(remote string) {
	delete(v.RemoteViews, remote)
}

// RenameRemote moves every tracking record from one remote name to another.
func (v *View) RenameRemote(oldName, newName string) {
	refs, ok := v.RemoteViews[oldName]
	if !ok {
		return
	}
	delete(v.RemoteViews, oldName)
	v.RemoteViews[newName] = refs
}
