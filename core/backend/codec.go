package backend

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adalundhe/tideline/core/model"
)

const (
	changeIDHeader      = "change-id"
	conflictTreesHeader = "jj:trees"
	gpgsigHeader        = "gpgsig"

	// emptyPlaceholder stands in for an empty author or committer name or
	// email, which the native signature format cannot represent.
	emptyPlaceholder = "JJ_EMPTY_STRING"
)

var (
	ErrMalformedCommit = errors.New("malformed commit object")

	// ErrInvalidConflictHeader marks a conflicted-trees header whose id
	// count is not odd and at least three.
	ErrInvalidConflictHeader = errors.New("invalid conflicted tree ids header")
)

// Signature is an author or committer stamp.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is the internal commit model. RootTrees holds a single tree id for
// a resolved tree, or the odd-length alternating add/remove term list of a
// tree conflict.
type Commit struct {
	Parents      []model.CommitID
	Predecessors []model.CommitID
	RootTrees    []model.TreeID
	ChangeID     model.ChangeID
	Author       Signature
	Committer    Signature
	Message      string
}

// HasTreeConflict reports whether the root tree is unresolved.
func (c *Commit) HasTreeConflict() bool {
	return len(c.RootTrees) > 1
}

type rawHeader struct {
	key   string
	value string
}

// rawCommit mirrors the byte layout of a native commit object, keeping the
// synthetic extra headers intact.
type rawCommit struct {
	tree      model.TreeID
	parents   []model.CommitID
	author    Signature
	committer Signature
	extras    []rawHeader
	message   string
}

func (r *rawCommit) header(key string) (string, bool) {
	for _, h := range r.extras {
		if h.key == key {
			return h.value, true
		}
	}
	return "", false
}

func (r *rawCommit) setHeader(key, value string) {
	for i := range r.extras {
		if r.extras[i].key == key {
			r.extras[i].value = value
			return
		}
	}
	r.extras = append(r.extras, rawHeader{key: key, value: value})
}

func encodeCommit(r *rawCommit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", r.tree.Hex())
	for _, p := range r.parents {
		fmt.Fprintf(&buf, "parent %s\n", p.Hex())
	}
	fmt.Fprintf(&buf, "author %s\n", encodeSignature(r.author))
	fmt.Fprintf(&buf, "committer %s\n", encodeSignature(r.committer))
	for _, h := range r.extras {
		// Continuation lines of a multi-line value are prefixed with a
		// space, as the native format requires.
		value := strings.ReplaceAll(h.value, "\n", "\n ")
		fmt.Fprintf(&buf, "%s %s\n", h.key, value)
	}
	buf.WriteByte('\n')
	buf.WriteString(r.message)
	return buf.Bytes()
}

func decodeCommit(data []byte) (*rawCommit, error) {
	headerPart, message, found := strings.Cut(string(data), "\n\n")
	if !found {
		return nil, fmt.Errorf("%w: no message separator", ErrMalformedCommit)
	}

	r := &rawCommit{message: message}
	lines := strings.Split(headerPart, "\n")
	var headers []rawHeader
	for _, line := range lines {
		if rest, ok := strings.CutPrefix(line, " "); ok {
			if len(headers) == 0 {
				return nil, fmt.Errorf("%w: continuation without header", ErrMalformedCommit)
			}
			headers[len(headers)-1].value += "\n" + rest
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: header %q", ErrMalformedCommit, line)
		}
		headers = append(headers, rawHeader{key: key, value: value})
	}

	seenTree := false
	for _, h := range headers {
		switch h.key {
		case "tree":
			id, err := model.TreeIDFromHex(h.value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedCommit, err)
			}
			r.tree = id
			seenTree = true
		case "parent":
			id, err := model.CommitIDFromHex(h.value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedCommit, err)
			}
			r.parents = append(r.parents, id)
		case "author":
			sig, err := decodeSignature(h.value)
			if err != nil {
				return nil, err
			}
			r.author = sig
		case "committer":
			sig, err := decodeSignature(h.value)
			if err != nil {
				return nil, err
			}
			r.committer = sig
		default:
			r.extras = append(r.extras, h)
		}
	}
	if !seenTree {
		return nil, fmt.Errorf("%w: missing tree", ErrMalformedCommit)
	}
	return r, nil
}

func encodeSignature(sig Signature) string {
	name := sig.Name
	if name == "" {
		name = emptyPlaceholder
	}
	email := sig.Email
	if email == "" {
		email = emptyPlaceholder
	}
	return fmt.Sprintf("%s <%s> %d %s", name, email, sig.When.Unix(), zoneOffset(sig.When))
}

func decodeSignature(s string) (Signature, error) {
	open := strings.LastIndex(s, " <")
	end := strings.LastIndex(s, "> ")
	if open < 0 || end < open {
		return Signature{}, fmt.Errorf("%w: signature %q", ErrMalformedCommit, s)
	}
	name := s[:open]
	email := s[open+2 : end]
	if name == emptyPlaceholder {
		name = ""
	}
	if email == emptyPlaceholder {
		email = ""
	}

	rest := strings.Fields(s[end+2:])
	if len(rest) != 2 {
		return Signature{}, fmt.Errorf("%w: signature timestamp %q", ErrMalformedCommit, s)
	}
	unix, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: signature timestamp %q", ErrMalformedCommit, s)
	}
	offset, err := parseZoneOffset(rest[1])
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Name:  name,
		Email: email,
		When:  time.Unix(unix, 0).In(time.FixedZone("", offset)),
	}, nil
}

func zoneOffset(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d%02d", sign, offset/3600, offset%3600/60)
}

func parseZoneOffset(s string) (int, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("%w: timezone %q", ErrMalformedCommit, s)
	}
	hours, err1 := strconv.Atoi(s[1:3])
	minutes, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("%w: timezone %q", ErrMalformedCommit, s)
	}
	offset := hours*3600 + minutes*60
	if s[0] == '-' {
		offset = -offset
	}
	return offset, nil
}

// parseConflictTreesHeader reads the space-separated tree ids of a
// conflicted root tree. The count must be odd and at least three.
func parseConflictTreesHeader(value string) ([]model.TreeID, error) {
	fields := strings.Fields(value)
	if len(fields) < 3 || len(fields)%2 == 0 {
		return nil, fmt.Errorf("%w: %d ids", ErrInvalidConflictHeader, len(fields))
	}
	ids := make([]model.TreeID, len(fields))
	for i, f := range fields {
		id, err := model.TreeIDFromHex(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConflictHeader, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func formatConflictTreesHeader(ids []model.TreeID) string {
	hexes := make([]string, len(ids))
	for i, id := range ids {
		hexes[i] = id.Hex()
	}
	return strings.Join(hexes, " ")
}
