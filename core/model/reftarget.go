package model

import (
	"slices"
	"strings"
)

// RefTarget is the value of a ref in the view. It is a merge of commit ids:
// a resolved target has a single added id, an absent target has none, and a
// conflicted target interleaves n+1 added ids with n removed ids.
//
// Internally the target is a term list of odd length where even positions
// are adds and odd positions are removes. An empty id stands for an absent
// side of the merge.
type RefTarget struct {
	terms []CommitID
}

// AbsentRefTarget returns the target of a ref that does not exist.
func AbsentRefTarget() RefTarget {
	return RefTarget{terms: []CommitID{""}}
}

// NormalRefTarget returns a resolved target pointing at id.
func NormalRefTarget(id CommitID) RefTarget {
	return RefTarget{terms: []CommitID{id}}
}

// RefTargetFromMerge builds a target from explicit removed and added ids.
// len(adds) must be len(removes)+1; an empty id marks an absent side.
func RefTargetFromMerge(removes, adds []CommitID) RefTarget {
	if len(adds) != len(removes)+1 {
		panic("ref target merge must have one more add than removes")
	}
	terms := make([]CommitID, 0, len(adds)+len(removes))
	for i, add := range adds {
		if i > 0 {
			terms = append(terms, removes[i-1])
		}
		terms = append(terms, add)
	}
	return RefTarget{terms: terms}
}

func (t RefTarget) IsAbsent() bool {
	return len(t.terms) <= 1 && (len(t.terms) == 0 || t.terms[0] == "")
}

func (t RefTarget) IsPresent() bool {
	return !t.IsAbsent()
}

// HasConflict reports whether the target holds more than one term.
func (t RefTarget) HasConflict() bool {
	return len(t.terms) > 1
}

// AsNormal returns the single added id of a resolved, present target.
func (t RefTarget) AsNormal() (CommitID, bool) {
	if len(t.terms) == 1 && t.terms[0] != "" {
		return t.terms[0], true
	}
	return "", false
}

// AddedIDs returns the present ids on the positive side of the merge.
func (t RefTarget) AddedIDs() []CommitID {
	var ids []CommitID
	for i := 0; i < len(t.terms); i += 2 {
		if t.terms[i] != "" {
			ids = append(ids, t.terms[i])
		}
	}
	return ids
}

// RemovedIDs returns the present ids on the negative side of the merge.
func (t RefTarget) RemovedIDs() []CommitID {
	var ids []CommitID
	for i := 1; i < len(t.terms); i += 2 {
		if t.terms[i] != "" {
			ids = append(ids, t.terms[i])
		}
	}
	return ids
}

func (t RefTarget) Equal(other RefTarget) bool {
	if t.IsAbsent() && other.IsAbsent() {
		return true
	}
	return slices.Equal(t.terms, other.terms)
}

// String renders the target for logs: a hex id, "<absent>", or the
// conflicted form "id-id+id".
func (t RefTarget) String() string {
	if t.IsAbsent() {
		return "<absent>"
	}
	if id, ok := t.AsNormal(); ok {
		return id.Hex()
	}
	var sb strings.Builder
	for i, term := range t.terms {
		if i > 0 {
			if i%2 == 1 {
				sb.WriteByte('-')
			} else {
				sb.WriteByte('+')
			}
		}
		if term == "" {
			sb.WriteString("<absent>")
		} else {
			sb.WriteString(term.Hex())
		}
	}
	return sb.String()
}

// MergeRefTargets merges a remote-side change (base..theirs) into ours.
// Trivial cases resolve without growing the merge; otherwise the three term
// lists are concatenated (base lands on odd positions, which negates it) and
// simplified by cancelling equal remove/add pairs. A merge that simplifies
// to one term is resolved.
func MergeRefTargets(ours, base, theirs RefTarget) RefTarget {
	if ours.Equal(theirs) || base.Equal(theirs) {
		return ours
	}
	if base.Equal(ours) {
		return theirs
	}
	terms := make([]CommitID, 0, len(ours.terms)+len(base.terms)+len(theirs.terms))
	terms = append(terms, ours.terms...)
	terms = append(terms, base.terms...)
	terms = append(terms, theirs.terms...)
	adds, removes := splitTerms(terms)
	adds, removes = cancelPairs(adds, removes)
	if converged, ok := convergedAdd(adds); ok {
		return RefTarget{terms: []CommitID{converged}}
	}
	return RefTargetFromMerge(removes, adds)
}

// convergedAdd reports whether every side of the merge landed on the same
// value, in which case the leftover removes carry no information.
func convergedAdd(adds []CommitID) (CommitID, bool) {
	for _, add := range adds[1:] {
		if add != adds[0] {
			return "", false
		}
	}
	return adds[0], true
}

// splitTerms separates a term list into its adds (even positions, including
// absent sides) and removes (odd positions).
func splitTerms(terms []CommitID) (adds, removes []CommitID) {
	for i, term := range terms {
		if i%2 == 0 {
			adds = append(adds, term)
		} else {
			removes = append(removes, term)
		}
	}
	return adds, removes
}

// cancelPairs drops one add for every remove holding the same id. Pairing is
// by value only; the positional association between adds and removes carries
// no meaning for ref targets.
func cancelPairs(adds, removes []CommitID) ([]CommitID, []CommitID) {
	for i := 0; i < len(removes); {
		j := slices.Index(adds, removes[i])
		if j < 0 {
			i++
			continue
		}
		adds = slices.Delete(adds, j, j+1)
		removes = slices.Delete(removes, i, i+1)
	}
	return adds, removes
}

// RemoteRefState tracks whether a remote ref participates in local merges.
type RemoteRefState int

const (
	// RemoteRefStateNew marks a remote ref that was fetched but is not
	// merged into the corresponding local bookmark.
	RemoteRefStateNew RemoteRefState = iota

	// RemoteRefStateTracked marks a remote ref whose changes propagate to
	// the local bookmark on import.
	RemoteRefStateTracked
)

func (s RemoteRefState) String() string {
	if s == RemoteRefStateTracked {
		return "tracked"
	}
	return "new"
}

// RemoteRef is the last-known value of a ref on a remote together with its
// tracking state.
type RemoteRef struct {
	Target RefTarget
	State  RemoteRefState
}

// AbsentRemoteRef returns the record of a remote ref that does not exist.
func AbsentRemoteRef() RemoteRef {
	return RemoteRef{Target: AbsentRefTarget()}
}

func (r RemoteRef) IsAbsent() bool {
	return r.Target.IsAbsent()
}

func (r RemoteRef) IsPresent() bool {
	return r.Target.IsPresent()
}

func (r RemoteRef) IsTracked() bool {
	return r.State == RemoteRefStateTracked
}

// TrackingTarget returns the target the local bookmark merges against: the
// remote target if tracked, absent otherwise.
func (r RemoteRef) TrackingTarget() RefTarget {
	if r.IsTracked() {
		return r.Target
	}
	return AbsentRefTarget()
}
