package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// GitRemoteName is the pseudo-remote exposing the backing repository's
	// own local branches and tags.
	GitRemoteName = "git"

	headsPrefix   = "refs/heads/"
	remotesPrefix = "refs/remotes/"
	tagsPrefix    = "refs/tags/"

	// ReservedRemoteRefPrefix is the namespace that would belong to the
	// pseudo-remote. Live refs under it can never be imported.
	ReservedRemoteRefPrefix = remotesPrefix + GitRemoteName + "/"
)

var (
	ErrInvalidGitRefName = errors.New("invalid git ref name")

	ErrReservedRemoteName = errors.New("remote name is reserved")
	ErrInvalidRemoteName  = errors.New("invalid remote name")
)

// ValidateRemoteName rejects names the interop layer cannot address: the
// pseudo-remote's name and names that would escape their ref namespace.
func ValidateRemoteName(name string) error {
	if name == GitRemoteName {
		return fmt.Errorf("%w: %q", ErrReservedRemoteName, name)
	}
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidRemoteName, name)
	}
	return nil
}

// RefKind distinguishes bookmarks from tags.
type RefKind int

const (
	RefKindBookmark RefKind = iota
	RefKindTag
)

func (k RefKind) String() string {
	if k == RefKindTag {
		return "tag"
	}
	return "bookmark"
}

// RemoteSymbol names a ref on a particular remote. Refs of the backing
// repository itself use the "git" pseudo-remote.
type RemoteSymbol struct {
	Name   string
	Remote string
}

func (s RemoteSymbol) String() string {
	return s.Name + "@" + s.Remote
}

// CompareSymbols orders symbols by name, then remote.
func CompareSymbols(a, b RemoteSymbol) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.Remote, b.Remote)
}

// ParseGitRef classifies a full Git ref name into a bookmark or tag symbol.
// HEAD pseudo-refs, the reserved "git" remote namespace, and anything
// outside refs/heads, refs/remotes, and refs/tags are not representable.
func ParseGitRef(fullName string) (RefKind, RemoteSymbol, bool) {
	if name, ok := strings.CutPrefix(fullName, headsPrefix); ok {
		// Git CLIs can leave a symbolic refs/heads/HEAD around.
		if name == "" || name == "HEAD" {
			return 0, RemoteSymbol{}, false
		}
		return RefKindBookmark, RemoteSymbol{Name: name, Remote: GitRemoteName}, true
	}
	if rest, ok := strings.CutPrefix(fullName, remotesPrefix); ok {
		remote, name, found := strings.Cut(rest, "/")
		if !found || remote == "" || name == "" {
			return 0, RemoteSymbol{}, false
		}
		// refs/remotes/<remote>/HEAD is a symbolic ref to the default
		// branch, not a branch itself.
		if remote == GitRemoteName || name == "HEAD" {
			return 0, RemoteSymbol{}, false
		}
		return RefKindBookmark, RemoteSymbol{Name: name, Remote: remote}, true
	}
	if name, ok := strings.CutPrefix(fullName, tagsPrefix); ok {
		if name == "" {
			return 0, RemoteSymbol{}, false
		}
		return RefKindTag, RemoteSymbol{Name: name, Remote: GitRemoteName}, true
	}
	return 0, RemoteSymbol{}, false
}

// ToGitRefName is the inverse of ParseGitRef.
func ToGitRefName(kind RefKind, sym RemoteSymbol) (string, error) {
	if !utf8.ValidString(sym.Name) || !utf8.ValidString(sym.Remote) {
		return "", fmt.Errorf("%w: %s", ErrInvalidGitRefName, sym)
	}
	switch kind {
	case RefKindBookmark:
		if sym.Name == "" || sym.Name == "HEAD" {
			return "", fmt.Errorf("%w: %s", ErrInvalidGitRefName, sym)
		}
		if sym.Remote == GitRemoteName {
			return headsPrefix + sym.Name, nil
		}
		if sym.Remote == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidGitRefName, sym)
		}
		return remotesPrefix + sym.Remote + "/" + sym.Name, nil
	case RefKindTag:
		if sym.Name == "" || sym.Remote != GitRemoteName {
			return "", fmt.Errorf("%w: %s", ErrInvalidGitRefName, sym)
		}
		return tagsPrefix + sym.Name, nil
	}
	return "", fmt.Errorf("%w: unknown kind %d", ErrInvalidGitRefName, kind)
}
