package btree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txbtree/txbtree/pkg/blockfile"
	"github.com/txbtree/txbtree/pkg/txnlock"
)

func openTree(t *testing.T, schema RowSchema) *BTree {
	t.Helper()
	bf, err := blockfile.Open[*Node](context.Background(), blockfile.Options[*Node]{
		InMemory: true,
		Decode:   DecodeNode,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bf.Close() })

	ctx := context.Background()
	tree, err := Create(ctx, bf, schema, txnID(0))
	require.NoError(t, err)
	require.NoError(t, tree.Commit(ctx, txnID(0)))
	return tree
}

func intSchema() RowSchema {
	return RowSchema{Columns: []Column{{Name: "n", Type: TypeInt64}}}
}

func keysOf(t *testing.T, tree *BTree, txn uint64) []int64 {
	t.Helper()
	ctx := context.Background()
	keys, err := tree.Keys(ctx, txnID(txn))
	require.NoError(t, err)
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = k[0].(int64)
	}
	return out
}

func txnID(n uint64) txnlock.TxnID { return txnlock.TxnID(n) }

func TestEmptyTreeHasNoKeys(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	empty, err := tree.IsEmpty(ctx, txnID(1))
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Empty(t, keysOf(t, tree, 1))
}

func TestInsertOutOfOrderProducesSortedKeys(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	txn := txnID(1)

	values := []int64{5, 1, 9, 3, 7, 2, 8, 4, 6, 0}
	for _, v := range values {
		require.NoError(t, tree.Insert(ctx, txn, Key{v}))
	}
	require.NoError(t, tree.Commit(ctx, txn))

	got := keysOf(t, tree, 2)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDuplicateInsertCoalesces(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	txn := txnID(1)

	for _, v := range []int64{4, 4, 4} {
		require.NoError(t, tree.Insert(ctx, txn, Key{v}))
	}
	require.NoError(t, tree.Commit(ctx, txn))

	assert.Equal(t, []int64{4}, keysOf(t, tree, 2))
}

func TestDeleteRangeThenRevive(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	txn := txnID(1)

	for _, v := range []int64{1, 2, 3, 4, 5} {
		require.NoError(t, tree.Insert(ctx, txn, Key{v}))
	}
	require.NoError(t, tree.Commit(ctx, txn))

	two := Value(int64(2))
	four := Value(int64(4))
	txn2 := txnID(2)
	require.NoError(t, tree.DeleteRange(ctx, txn2, Range{Start: &two, End: &four}))
	require.NoError(t, tree.Commit(ctx, txn2))

	assert.Equal(t, []int64{1, 4, 5}, keysOf(t, tree, 3))

	txn3 := txnID(3)
	require.NoError(t, tree.Insert(ctx, txn3, Key{int64(2)}))
	require.NoError(t, tree.Commit(ctx, txn3))
	assert.Equal(t, []int64{1, 2, 4, 5}, keysOf(t, tree, 4))
}

func TestReverseRange(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	txn := txnID(1)
	for _, v := range []int64{1, 2, 3, 4, 5} {
		require.NoError(t, tree.Insert(ctx, txn, Key{v}))
	}
	require.NoError(t, tree.Commit(ctx, txn))

	cur, err := tree.RowsInRangeReverse(ctx, txnID(2), Full())
	require.NoError(t, err)
	var got []int64
	for {
		k, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, k[0].(int64))
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, got)
}

func TestIsolationAcrossTransactions(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	txn1 := txnID(1)
	require.NoError(t, tree.Insert(ctx, txn1, Key{int64(1)}))

	assert.Empty(t, keysOf(t, tree, 2), "uncommitted insert must not be visible to another transaction")

	require.NoError(t, tree.Commit(ctx, txn1))
	assert.Equal(t, []int64{1}, keysOf(t, tree, 3))
}

func TestForcesAtLeastOneSplit(t *testing.T) {
	tree := openTree(t, intSchema())
	ctx := context.Background()
	txn := txnID(1)

	const n = 5000
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(ctx, txn, Key{i}))
	}
	require.NoError(t, tree.Commit(ctx, txn))

	got := keysOf(t, tree, 2)
	require.Len(t, got, n)
	for i := int64(0); i < n; i++ {
		assert.Equal(t, i, got[i])
	}
}
