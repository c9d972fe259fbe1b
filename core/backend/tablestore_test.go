package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/tideline/core/model"
)

func testExtras(b byte) CommitExtras {
	return CommitExtras{
		ChangeID: model.ChangeID(strings.Repeat(string([]byte{b}), model.ChangeIDLength)),
	}
}

func newTestTable(t *testing.T) (*TableStore, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	store, err := NewTableStore(fs, &MutexLock{})
	require.NoError(t, err)
	return store, fs
}

func TestTableStore_PutAndGet(t *testing.T) {
	store, _ := newTestTable(t)
	id := model.CommitID(strings.Repeat("\x01", model.CommitIDLength))

	_, ok, err := store.Get(id)
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Mutate(context.Background(), func(tx *TableTx) error {
		tx.Put(id, testExtras(7))
		return nil
	})
	require.NoError(t, err)

	got, ok, err := store.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(testExtras(7)))
}

func TestTableStore_ExtrasRoundTrip(t *testing.T) {
	store, _ := newTestTable(t)
	id := model.CommitID(strings.Repeat("\x01", model.CommitIDLength))
	extras := CommitExtras{
		ChangeID: model.ChangeID(strings.Repeat("\x09", model.ChangeIDLength)),
		RootTreeConflict: []model.TreeID{
			model.TreeID(strings.Repeat("\x0a", model.CommitIDLength)),
			model.TreeID(strings.Repeat("\x0b", model.CommitIDLength)),
			model.TreeID(strings.Repeat("\x0c", model.CommitIDLength)),
		},
		Predecessors: []model.CommitID{
			model.CommitID(strings.Repeat("\x0d", model.CommitIDLength)),
		},
	}

	err := store.Mutate(context.Background(), func(tx *TableTx) error {
		tx.Put(id, extras)
		return nil
	})
	require.NoError(t, err)

	got, ok, err := store.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(extras))
}

func TestTableStore_PersistsAcrossInstances(t *testing.T) {
	store, fs := newTestTable(t)
	id := model.CommitID(strings.Repeat("\x02", model.CommitIDLength))

	err := store.Mutate(context.Background(), func(tx *TableTx) error {
		tx.Put(id, testExtras(3))
		return nil
	})
	require.NoError(t, err)

	reopened, err := NewTableStore(fs, &MutexLock{})
	require.NoError(t, err)
	got, ok, err := reopened.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(testExtras(3)))
}

func TestTableStore_NewerSegmentWins(t *testing.T) {
	store, _ := newTestTable(t)
	id := model.CommitID(strings.Repeat("\x03", model.CommitIDLength))

	for _, b := range []byte{1, 2} {
		err := store.Mutate(context.Background(), func(tx *TableTx) error {
			tx.Put(id, testExtras(b))
			return nil
		})
		require.NoError(t, err)
	}

	got, ok, err := store.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(testExtras(2)))
}

func TestTableStore_TxSeesOwnPuts(t *testing.T) {
	store, _ := newTestTable(t)
	id := model.CommitID(strings.Repeat("\x04", model.CommitIDLength))

	err := store.Mutate(context.Background(), func(tx *TableTx) error {
		has, err := tx.Has(id)
		require.NoError(t, err)
		assert.False(t, has)

		tx.Put(id, testExtras(1))

		has, err = tx.Has(id)
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	})
	require.NoError(t, err)
}

func TestTableStore_FailedMutateWritesNothing(t *testing.T) {
	store, _ := newTestTable(t)
	id := model.CommitID(strings.Repeat("\x05", model.CommitIDLength))

	err := store.Mutate(context.Background(), func(tx *TableTx) error {
		tx.Put(id, testExtras(1))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, ok, err := store.Get(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableStore_SquashesDeepChains(t *testing.T) {
	store, _ := newTestTable(t)

	// One entry per segment, enough to trip the squash threshold twice.
	var ids []model.CommitID
	for i := 0; i < tableSquashDepth*2+2; i++ {
		id := model.CommitID(strings.Repeat(string([]byte{byte(i + 1)}), model.CommitIDLength))
		ids = append(ids, id)
		err := store.Mutate(context.Background(), func(tx *TableTx) error {
			tx.Put(id, testExtras(byte(i+1)))
			return nil
		})
		require.NoError(t, err)
	}

	// Every entry is still reachable from the head chain.
	for i, id := range ids {
		got, ok, err := store.Get(id)
		require.NoError(t, err)
		require.True(t, ok, "entry %d", i)
		assert.True(t, got.Equal(testExtras(byte(i+1))))
	}

	// The chain was folded: the head segment is at most the threshold deep.
	head, err := store.readHead()
	require.NoError(t, err)
	seg, err := store.loadSegment(head)
	require.NoError(t, err)
	assert.Less(t, seg.depth, tableSquashDepth)
}
