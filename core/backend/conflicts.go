package backend

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/adalundhe/tideline/core/model"
)

const (
	conflictBasePrefix = ".jjconflict-base-"
	conflictSidePrefix = ".jjconflict-side-"
	conflictReadmeName = "README"
)

const conflictReadmeText = `This commit carries an unresolved merge conflict.

Plain Git cannot represent a many-way tree conflict, so each input to the
conflict is stored as a subtree here: ".jjconflict-side-N" directories hold
the conflicting versions and ".jjconflict-base-N" directories hold the bases
they diverged from.

If this file shows up in a working copy, a conflicted commit was checked out
with a plain Git command. Check out a resolved commit instead.
`

type TreeEntry struct {
	Name string
	Mode string
	Hash plumbing.Hash
}

// encodeTree renders entries in the native binary tree format. Entries are
// sorted the way Git requires: by name bytes, with a virtual trailing slash
// on directories.
func encodeTree(entries []TreeEntry) []byte {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})
	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(e.Mode)
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.Hash[:])
	}
	return buf.Bytes()
}

func treeSortKey(e TreeEntry) string {
	if e.Mode == "40000" {
		return e.Name + "/"
	}
	return e.Name
}

func decodeTree(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(data) > 0 {
		nul := bytes.IndexByte(data, 0)
		if nul < 0 || len(data) < nul+1+model.CommitIDLength {
			return nil, fmt.Errorf("malformed tree object")
		}
		mode, name, found := strings.Cut(string(data[:nul]), " ")
		if !found {
			return nil, fmt.Errorf("malformed tree entry")
		}
		var h plumbing.Hash
		copy(h[:], data[nul+1:nul+1+model.CommitIDLength])
		entries = append(entries, TreeEntry{Name: name, Mode: mode, Hash: h})
		data = data[nul+1+model.CommitIDLength:]
	}
	return entries, nil
}

func writeRawObject(s storer.EncodedObjectStorer, t plumbing.ObjectType, data []byte) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(t)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

func readRawObject(s storer.EncodedObjectStorer, t plumbing.ObjectType, h plumbing.Hash) ([]byte, error) {
	obj, err := s.EncodedObject(t, h)
	if err != nil {
		return nil, err
	}
	r, err := obj.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeConflictTree materializes an unresolved tree merge as one synthetic
// native tree: a subtree per term plus an explanatory blob. terms is the
// odd-length alternating add/remove list.
func writeConflictTree(s storer.EncodedObjectStorer, terms []model.TreeID) (model.TreeID, error) {
	if len(terms) < 3 || len(terms)%2 == 0 {
		return "", fmt.Errorf("%w: %d ids", ErrInvalidConflictHeader, len(terms))
	}
	readmeHash, err := writeRawObject(s, plumbing.BlobObject, []byte(conflictReadmeText))
	if err != nil {
		return "", fmt.Errorf("write conflict readme: %w", err)
	}

	entries := []TreeEntry{{Name: conflictReadmeName, Mode: "100644", Hash: readmeHash}}
	sides, bases := 0, 0
	for i, term := range terms {
		var name string
		if i%2 == 0 {
			name = conflictSidePrefix + strconv.Itoa(sides)
			sides++
		} else {
			name = conflictBasePrefix + strconv.Itoa(bases)
			bases++
		}
		entries = append(entries, TreeEntry{Name: name, Mode: "40000", Hash: term.Hash()})
	}

	hash, err := writeRawObject(s, plumbing.TreeObject, encodeTree(entries))
	if err != nil {
		return "", fmt.Errorf("write conflict tree: %w", err)
	}
	return model.TreeIDFromHash(hash), nil
}

// readConflictTree reverses writeConflictTree. A tree without the synthetic
// entries is returned as a single resolved term.
func readConflictTree(s storer.EncodedObjectStorer, id model.TreeID) ([]model.TreeID, error) {
	data, err := readRawObject(s, plumbing.TreeObject, id.Hash())
	if err != nil {
		return nil, err
	}
	entries, err := decodeTree(data)
	if err != nil {
		return nil, err
	}

	// Ordinals are parsed from the entry names since lexical tree order
	// puts "10" before "2".
	sideByOrdinal := make(map[int]model.TreeID)
	baseByOrdinal := make(map[int]model.TreeID)
	for _, e := range entries {
		if rest, ok := strings.CutPrefix(e.Name, conflictSidePrefix); ok {
			if n, err := strconv.Atoi(rest); err == nil {
				sideByOrdinal[n] = model.TreeIDFromHash(e.Hash)
			}
		} else if rest, ok := strings.CutPrefix(e.Name, conflictBasePrefix); ok {
			if n, err := strconv.Atoi(rest); err == nil {
				baseByOrdinal[n] = model.TreeIDFromHash(e.Hash)
			}
		}
	}
	if len(sideByOrdinal) == 0 && len(baseByOrdinal) == 0 {
		return []model.TreeID{id}, nil
	}
	sides := make([]model.TreeID, 0, len(sideByOrdinal))
	for i := 0; i < len(sideByOrdinal); i++ {
		side, ok := sideByOrdinal[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing side %d", ErrInvalidConflictHeader, i)
		}
		sides = append(sides, side)
	}
	bases := make([]model.TreeID, 0, len(baseByOrdinal))
	for i := 0; i < len(baseByOrdinal); i++ {
		base, ok := baseByOrdinal[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing base %d", ErrInvalidConflictHeader, i)
		}
		bases = append(bases, base)
	}
	if len(sides) != len(bases)+1 {
		return nil, fmt.Errorf("%w: %d sides, %d bases", ErrInvalidConflictHeader, len(sides), len(bases))
	}

	terms := make([]model.TreeID, 0, len(sides)+len(bases))
	for i, side := range sides {
		if i > 0 {
			terms = append(terms, bases[i-1])
		}
		terms = append(terms, side)
	}
	return terms, nil
}
