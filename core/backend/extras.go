package backend

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/adalundhe/tideline/core/model"
)

func hexBytes(s string, n int) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(raw))
	}
	return raw, nil
}

// CommitExtras is one metadata table entry: the information about a commit
// that the native commit object cannot carry.
type CommitExtras struct {
	ChangeID model.ChangeID

	// RootTreeConflict holds the alternating add/remove tree-id terms of a
	// conflicted root tree (odd length, at least 3). Empty for a resolved
	// tree.
	RootTreeConflict []model.TreeID

	// Predecessors are the commits this commit was rewritten from.
	Predecessors []model.CommitID
}

func (e CommitExtras) Equal(other CommitExtras) bool {
	return e.ChangeID == other.ChangeID &&
		slices.Equal(e.RootTreeConflict, other.RootTreeConflict) &&
		slices.Equal(e.Predecessors, other.Predecessors)
}

// encodeExtras renders an entry as the line format stored in table segments.
func encodeExtras(e CommitExtras) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "change-id %s\n", e.ChangeID.Hex())
	if len(e.RootTreeConflict) > 0 {
		hexes := make([]string, len(e.RootTreeConflict))
		for i, id := range e.RootTreeConflict {
			hexes[i] = id.Hex()
		}
		fmt.Fprintf(&buf, "root-tree-conflict %s\n", strings.Join(hexes, " "))
	}
	for _, id := range e.Predecessors {
		fmt.Fprintf(&buf, "predecessor %s\n", id.Hex())
	}
	return buf.Bytes()
}

func decodeExtras(data []byte) (CommitExtras, error) {
	var e CommitExtras
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "change-id":
			raw, err := hexBytes(value, model.ChangeIDLength)
			if err != nil {
				return CommitExtras{}, fmt.Errorf("extras change-id: %w", err)
			}
			e.ChangeID = model.ChangeID(raw)
		case "root-tree-conflict":
			for _, h := range strings.Fields(value) {
				id, err := model.TreeIDFromHex(h)
				if err != nil {
					return CommitExtras{}, fmt.Errorf("extras root tree: %w", err)
				}
				e.RootTreeConflict = append(e.RootTreeConflict, id)
			}
		case "predecessor":
			id, err := model.CommitIDFromHex(value)
			if err != nil {
				return CommitExtras{}, fmt.Errorf("extras predecessor: %w", err)
			}
			e.Predecessors = append(e.Predecessors, id)
		default:
			return CommitExtras{}, fmt.Errorf("extras: unknown field %q", key)
		}
	}
	return e, scanner.Err()
}
