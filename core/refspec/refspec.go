package refspec

// RefSpec is one positive fetch or push refspec. Source may be empty to
// express a deletion push.
type RefSpec struct {
	Forced      bool
	Source      string
	Destination string
}

func (r RefSpec) String() string {
	s := r.Source + ":" + r.Destination
	if r.Forced {
		return "+" + s
	}
	return s
}

// ForcedBookmarkRefSpec maps a branch glob on the remote into its
// remote-tracking namespace.
func ForcedBookmarkRefSpec(remote, branchGlob string) RefSpec {
	return RefSpec{
		Forced:      true,
		Source:      "refs/heads/" + branchGlob,
		Destination: "refs/remotes/" + remote + "/" + branchGlob,
	}
}

// NegativeRefSpec excludes refs matching a single source pattern from a
// fetch. It has no destination side.
type NegativeRefSpec struct {
	Source string
}

func (r NegativeRefSpec) String() string {
	return "^" + r.Source
}

// NegativeBookmarkRefSpec excludes a branch glob on the remote.
func NegativeBookmarkRefSpec(branchGlob string) NegativeRefSpec {
	return NegativeRefSpec{Source: "refs/heads/" + branchGlob}
}
