package backend

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/tideline/core/model"
)

const (
	tableSegmentDir  = "segments"
	tableHeadFile    = "head"
	tableLockTimeout = 10 * time.Second

	// tableSquashDepth bounds the parent chain; a deeper chain is folded
	// into one consolidated segment on the next write.
	tableSquashDepth = 16

	tableSegmentCacheSize = 128
)

// TableStore persists commit extras as a chain of content-addressed segment
// files. Each mutation appends a segment pointing at the previous head, and
// the whole read-modify-write cycle runs under an advisory file lock so
// concurrent writers stack their segments instead of overwriting each other.
type TableStore struct {
	fs       billy.Filesystem
	locker   Locker
	segments *lru.Cache[string, *tableSegment]
}

type tableSegment struct {
	name    string
	parent  string
	depth   int
	entries map[model.CommitID]CommitExtras
}

func NewTableStore(fs billy.Filesystem, locker Locker) (*TableStore, error) {
	if err := fs.MkdirAll(tableSegmentDir, 0o755); err != nil {
		return nil, fmt.Errorf("create table dir: %w", err)
	}
	segments, err := lru.New[string, *tableSegment](tableSegmentCacheSize)
	if err != nil {
		return nil, err
	}
	return &TableStore{fs: fs, locker: locker, segments: segments}, nil
}

// Get looks an entry up in the current head chain.
func (s *TableStore) Get(id model.CommitID) (CommitExtras, bool, error) {
	head, err := s.readHead()
	if err != nil {
		return CommitExtras{}, false, err
	}
	return s.lookup(head, id)
}

// TableTx is the mutable face of the store inside Mutate. Reads see the
// locked head plus any puts made so far.
type TableTx struct {
	store *TableStore
	head  string
	puts  map[model.CommitID]CommitExtras
}

func (tx *TableTx) Get(id model.CommitID) (CommitExtras, bool, error) {
	if e, ok := tx.puts[id]; ok {
		return e, true, nil
	}
	return tx.store.lookup(tx.head, id)
}

func (tx *TableTx) Has(id model.CommitID) (bool, error) {
	_, ok, err := tx.Get(id)
	return ok, err
}

func (tx *TableTx) Put(id model.CommitID, extras CommitExtras) {
	tx.puts[id] = extras
}

// Mutate runs fn under the table lock and commits its puts as one new
// segment. Nothing is written if fn returns an error or put nothing.
func (s *TableStore) Mutate(ctx context.Context, fn func(tx *TableTx) error) error {
	if err := s.locker.Acquire(ctx, tableLockTimeout); err != nil {
		return fmt.Errorf("lock metadata table: %w", err)
	}
	defer s.locker.Release()

	head, err := s.readHead()
	if err != nil {
		return err
	}
	tx := &TableTx{store: s, head: head, puts: make(map[model.CommitID]CommitExtras)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.puts) == 0 {
		return nil
	}
	return s.appendSegment(head, tx.puts)
}

func (s *TableStore) lookup(head string, id model.CommitID) (CommitExtras, bool, error) {
	for name := head; name != ""; {
		seg, err := s.loadSegment(name)
		if err != nil {
			return CommitExtras{}, false, err
		}
		if e, ok := seg.entries[id]; ok {
			return e, true, nil
		}
		name = seg.parent
	}
	return CommitExtras{}, false, nil
}

func (s *TableStore) readHead() (string, error) {
	data, err := util.ReadFile(s.fs, tableHeadFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read table head: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *TableStore) appendSegment(head string, puts map[model.CommitID]CommitExtras) error {
	parent := head
	entries := puts
	if head != "" {
		headSeg, err := s.loadSegment(head)
		if err != nil {
			return err
		}
		if headSeg.depth+1 >= tableSquashDepth {
			entries, err = s.collectAll(head)
			if err != nil {
				return err
			}
			for id, e := range puts {
				entries[id] = e
			}
			parent = ""
		}
	}

	data := encodeSegment(parent, entries)
	name := segmentName(data)
	if err := util.WriteFile(s.fs, s.fs.Join(tableSegmentDir, name), data, 0o644); err != nil {
		return fmt.Errorf("write table segment: %w", err)
	}

	// The head file is replaced atomically so a reader never sees a
	// partial name.
	tmp := tableHeadFile + ".tmp"
	if err := util.WriteFile(s.fs, tmp, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("write table head: %w", err)
	}
	if err := s.fs.Rename(tmp, tableHeadFile); err != nil {
		return fmt.Errorf("swap table head: %w", err)
	}
	return nil
}

func (s *TableStore) collectAll(head string) (map[model.CommitID]CommitExtras, error) {
	merged := make(map[model.CommitID]CommitExtras)
	var chain []*tableSegment
	for name := head; name != ""; {
		seg, err := s.loadSegment(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, seg)
		name = seg.parent
	}
	// Oldest first so newer segments win.
	for i := len(chain) - 1; i >= 0; i-- {
		for id, e := range chain[i].entries {
			merged[id] = e
		}
	}
	return merged, nil
}

func (s *TableStore) loadSegment(name string) (*tableSegment, error) {
	if seg, ok := s.segments.Get(name); ok {
		return seg, nil
	}
	data, err := util.ReadFile(s.fs, s.fs.Join(tableSegmentDir, name))
	if err != nil {
		return nil, fmt.Errorf("read table segment %s: %w", name, err)
	}
	seg, err := decodeSegment(name, data)
	if err != nil {
		return nil, err
	}
	if seg.parent != "" {
		parentSeg, err := s.loadSegment(seg.parent)
		if err != nil {
			return nil, err
		}
		seg.depth = parentSeg.depth + 1
	}
	s.segments.Add(name, seg)
	return seg, nil
}

func segmentName(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func encodeSegment(parent string, entries map[model.CommitID]CommitExtras) []byte {
	var buf bytes.Buffer
	if parent == "" {
		buf.WriteString("parent none\n")
	} else {
		fmt.Fprintf(&buf, "parent %s\n", parent)
	}
	ids := make([]model.CommitID, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(&buf, "entry %s %s\n", id.Hex(), hex.EncodeToString(encodeExtras(entries[id])))
	}
	return buf.Bytes()
}

func decodeSegment(name string, data []byte) (*tableSegment, error) {
	seg := &tableSegment{name: name, entries: make(map[model.CommitID]CommitExtras)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "parent":
			if value != "none" {
				seg.parent = value
			}
		case "entry":
			idHex, extrasHex, found := strings.Cut(value, " ")
			if !found {
				return nil, fmt.Errorf("table segment %s: malformed entry", name)
			}
			id, err := model.CommitIDFromHex(idHex)
			if err != nil {
				return nil, fmt.Errorf("table segment %s: %w", name, err)
			}
			raw, err := hex.DecodeString(extrasHex)
			if err != nil {
				return nil, fmt.Errorf("table segment %s: %w", name, err)
			}
			extras, err := decodeExtras(raw)
			if err != nil {
				return nil, fmt.Errorf("table segment %s: %w", name, err)
			}
			seg.entries[id] = extras
		default:
			return nil, fmt.Errorf("table segment %s: unknown field %q", name, key)
		}
	}
	return seg, scanner.Err()
}
