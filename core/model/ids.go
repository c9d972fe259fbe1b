// Package model defines the identifier, ref target, and view types shared by
// the backend, sync, and transport layers.
package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// CommitIDLength is the raw byte length of a Git SHA-1 object id.
	CommitIDLength = 20

	// ChangeIDLength is the raw byte length of a change id.
	ChangeIDLength = 16
)

var (
	ErrInvalidCommitID = errors.New("invalid commit id")
	ErrInvalidChangeID = errors.New("invalid change id")
	ErrInvalidTreeID   = errors.New("invalid tree id")
)

// CommitID identifies a commit by its raw object id bytes.
type CommitID string

// ChangeID identifies a change across rewrites of a commit.
type ChangeID string

// TreeID identifies a Git tree object by its raw object id bytes.
type TreeID string

// RootCommitID returns the id of the virtual root commit, which is all zero
// bytes and never exists as a Git object.
func RootCommitID() CommitID {
	return CommitID(strings.Repeat("\x00", CommitIDLength))
}

// RootChangeID returns the change id of the virtual root commit.
func RootChangeID() ChangeID {
	return ChangeID(strings.Repeat("\x00", ChangeIDLength))
}

// EmptyTreeID returns the id of the empty Git tree.
func EmptyTreeID() TreeID {
	id, _ := TreeIDFromHex("4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	return id
}

func CommitIDFromHex(s string) (CommitID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != CommitIDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommitID, s)
	}
	return CommitID(raw), nil
}

func CommitIDFromHash(h plumbing.Hash) CommitID {
	return CommitID(h[:])
}

func (id CommitID) Hex() string {
	return hex.EncodeToString([]byte(id))
}

func (id CommitID) Hash() plumbing.Hash {
	var h plumbing.Hash
	copy(h[:], id)
	return h
}

func (id CommitID) IsRoot() bool {
	return id == RootCommitID()
}

func TreeIDFromHex(s string) (TreeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != CommitIDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidTreeID, s)
	}
	return TreeID(raw), nil
}

func TreeIDFromHash(h plumbing.Hash) TreeID {
	return TreeID(h[:])
}

func (id TreeID) Hex() string {
	return hex.EncodeToString([]byte(id))
}

func (id TreeID) Hash() plumbing.Hash {
	var h plumbing.Hash
	copy(h[:], id)
	return h
}

func ChangeIDFromBytes(raw []byte) (ChangeID, error) {
	if len(raw) != ChangeIDLength {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidChangeID, len(raw))
	}
	return ChangeID(raw), nil
}

func (id ChangeID) Hex() string {
	return hex.EncodeToString([]byte(id))
}

// SyntheticChangeID derives a stable change id for a commit that carries no
// recorded change id. The trailing sixteen bytes of the commit id are taken
// in reverse order with the bits of each byte reversed, so the result shares
// no prefix with the commit id it came from.
func SyntheticChangeID(id CommitID) ChangeID {
	raw := []byte(id)[CommitIDLength-ChangeIDLength:]
	out := make([]byte, ChangeIDLength)
	for i, b := range raw {
		out[ChangeIDLength-1-i] = bits.Reverse8(b)
	}
	return ChangeID(out)
}

// ToReverseHex renders the change id in the reverse-hex alphabet ("z" for 0
// through "k" for 15) used in commit headers.
func (id ChangeID) ToReverseHex() string {
	var sb strings.Builder
	sb.Grow(len(id) * 2)
	for _, b := range []byte(id) {
		sb.WriteByte('z' - b>>4)
		sb.WriteByte('z' - b&0xf)
	}
	return sb.String()
}

// ChangeIDFromReverseHex parses the commit-header form of a change id.
func ChangeIDFromReverseHex(s string) (ChangeID, error) {
	if len(s) != ChangeIDLength*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidChangeID, s)
	}
	raw := make([]byte, ChangeIDLength)
	for i := 0; i < len(s); i += 2 {
		hi, ok1 := reverseHexDigit(s[i])
		lo, ok2 := reverseHexDigit(s[i+1])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("%w: %q", ErrInvalidChangeID, s)
		}
		raw[i/2] = hi<<4 | lo
	}
	return ChangeID(raw), nil
}

func reverseHexDigit(c byte) (byte, bool) {
	if c < 'k' || c > 'z' {
		return 0, false
	}
	return 'z' - c, true
}
