package blockfile

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBlock is the simplest possible Data[B] implementation: a single
// mutable int wrapped so Clone produces an independent copy.
type testBlock struct{ n int }

func (b *testBlock) Clone() *testBlock       { c := *b; return &c }
func (b *testBlock) Ext() string             { return "test" }
func (b *testBlock) MaxSize() uint64         { return 64 }
func (b *testBlock) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(b.n))
	return buf, nil
}

func decodeTestBlock(raw []byte) (*testBlock, error) {
	return &testBlock{n: int(binary.BigEndian.Uint64(raw))}, nil
}

func openTestFile(t *testing.T) *BlockFile[*testBlock] {
	t.Helper()
	bf, err := Open[*testBlock](context.Background(), Options[*testBlock]{
		InMemory: true,
		Decode:   decodeTestBlock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bf.Close() })
	return bf
}

func TestCreateBlockInvisibleUntilCommit(t *testing.T) {
	bf := openTestFile(t)
	ctx := context.Background()

	id, err := bf.CreateBlock(ctx, 1, &testBlock{n: 7})
	require.NoError(t, err)

	empty, err := bf.IsEmpty(ctx, 2)
	require.NoError(t, err)
	assert.True(t, empty, "a different transaction must not see the uncommitted block")

	require.NoError(t, bf.Commit(ctx, 1))

	ids, err := bf.BlockIDs(ctx, 3)
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func TestWriteBlockThenReadAfterCommit(t *testing.T) {
	bf := openTestFile(t)
	ctx := context.Background()

	id, err := bf.CreateBlock(ctx, 1, &testBlock{n: 1})
	require.NoError(t, err)
	require.NoError(t, bf.Commit(ctx, 1))

	wg, err := bf.WriteBlock(ctx, 2, id)
	require.NoError(t, err)
	wg.Value().n = 42
	wg.Release()
	require.NoError(t, bf.Commit(ctx, 2))

	rg, err := bf.ReadBlock(ctx, 3, id)
	require.NoError(t, err)
	assert.Equal(t, 42, rg.Value().n)
	rg.Release()
}

func TestReadBlockNotFoundAfterDelete(t *testing.T) {
	bf := openTestFile(t)
	ctx := context.Background()

	id, err := bf.CreateBlock(ctx, 1, &testBlock{n: 1})
	require.NoError(t, err)
	require.NoError(t, bf.Commit(ctx, 1))

	require.NoError(t, bf.DeleteBlock(ctx, 2, id))
	_, err = bf.ReadBlock(ctx, 2, id)
	assert.Error(t, err)

	require.NoError(t, bf.Commit(ctx, 2))
	_, err = bf.ReadBlock(ctx, 3, id)
	assert.Error(t, err)
}

func TestFinalizeDiscardsCreatedBlock(t *testing.T) {
	bf := openTestFile(t)
	ctx := context.Background()

	_, err := bf.CreateBlock(ctx, 1, &testBlock{n: 1})
	require.NoError(t, err)
	require.NoError(t, bf.Finalize(ctx, 1))

	empty, err := bf.IsEmpty(ctx, 2)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestSurvivesReopenFromCanonicalStorage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bf, err := Open[*testBlock](ctx, Options[*testBlock]{Dir: dir, Decode: decodeTestBlock})
	require.NoError(t, err)

	id, err := bf.CreateBlock(ctx, 1, &testBlock{n: 9})
	require.NoError(t, err)
	require.NoError(t, bf.Commit(ctx, 1))
	require.NoError(t, bf.Close())

	bf, err = Open[*testBlock](ctx, Options[*testBlock]{Dir: dir, Decode: decodeTestBlock})
	require.NoError(t, err)

	rg, err := bf.ReadBlock(ctx, 2, id)
	require.NoError(t, err)
	assert.Equal(t, 9, rg.Value().n)
	rg.Release()
	require.NoError(t, bf.Close())
}

func TestWriteConflictsAcrossTransactions(t *testing.T) {
	bf := openTestFile(t)
	ctx := context.Background()

	id, err := bf.CreateBlock(ctx, 1, &testBlock{n: 1})
	require.NoError(t, err)
	require.NoError(t, bf.Commit(ctx, 1))

	_, err = bf.ReadBlock(ctx, 5, id)
	require.NoError(t, err)

	_, err = bf.WriteBlock(ctx, 2, id)
	assert.Error(t, err, "writing behind a reader at a later transaction must conflict")
}
