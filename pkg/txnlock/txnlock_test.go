package txnlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// intCell is the simplest possible Cloneable value: an int wrapped so we
// can give it value semantics without aliasing.
type intCell struct{ v int }

func (c intCell) Clone() intCell { return c }

func TestLock_ReadEmptySeesZeroValue(t *testing.T) {
	l := New(intCell{v: 0})
	g, err := l.Read(context.Background(), 1)
	require.NoError(t, err)
	defer g.Release()
	assert.Equal(t, 0, g.Value().v)
}

func TestLock_WriteThenCommitIsVisibleToLaterReaders(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	wg, err := l.Write(ctx, 5)
	require.NoError(t, err)
	wg.Set(intCell{v: 42})
	wg.Release()
	require.NoError(t, l.Commit(ctx, 5))

	rg, err := l.Read(ctx, 10)
	require.NoError(t, err)
	defer rg.Release()
	assert.Equal(t, 42, rg.Value().v)
}

func TestLock_ReadConflictsWhenBehindLastCommit(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	wg, err := l.Write(ctx, 10)
	require.NoError(t, err)
	wg.Set(intCell{v: 1})
	wg.Release()
	require.NoError(t, l.Commit(ctx, 10))

	_, err = l.Read(ctx, 3)
	assert.Error(t, err)
}

func TestLock_ReadOwnPendingSurvivesBeingBehindLastCommit(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	// txn 3 touches the cell first, establishing pending[3].
	rg3, err := l.Read(ctx, 3)
	require.NoError(t, err)
	rg3.Release()

	wg, err := l.Write(ctx, 10)
	require.NoError(t, err)
	wg.Set(intCell{v: 99})
	wg.Release()
	require.NoError(t, l.Commit(ctx, 10))

	// txn 3 still has its own pending snapshot from before the commit.
	rg, err := l.Read(ctx, 3)
	require.NoError(t, err)
	defer rg.Release()
	assert.Equal(t, 0, rg.Value().v)
}

func TestLock_WriteConflictsWithFutureReader(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	rg, err := l.Read(ctx, 20)
	require.NoError(t, err)
	defer rg.Release()

	_, err = l.Write(ctx, 5)
	assert.Error(t, err)
}

func TestLock_TwoWritersAtSameTxnAreSerialized(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	wg1, err := l.Write(ctx, 7)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		wg2, err := l.Write(ctx, 7)
		require.NoError(t, err)
		close(acquired)
		wg2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer at the same txn acquired before the first released")
	case <-time.After(50 * time.Millisecond):
	}

	wg1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired after the first released")
	}
}

func TestLock_ReaderNeverBlockedByFutureWriter(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	wg, err := l.Write(ctx, 100)
	require.NoError(t, err)
	defer wg.Release()

	done := make(chan error, 1)
	go func() {
		rg, err := l.Read(ctx, 1)
		if err == nil {
			rg.Release()
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader at an earlier txn was blocked by a writer at a later txn")
	}
}

func TestLock_FinalizeDiscardsPendingWrites(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	wg, err := l.Write(ctx, 3)
	require.NoError(t, err)
	wg.Set(intCell{v: 77})
	wg.Release()
	require.NoError(t, l.Finalize(ctx, 3))

	rg, err := l.Read(ctx, 3)
	require.NoError(t, err)
	defer rg.Release()
	assert.Equal(t, 0, rg.Value().v, "finalize must discard pending writes")
}

func TestLock_WriteSuspendsUntilEarlierWriterReleases(t *testing.T) {
	l := New(intCell{v: 0})
	ctx := context.Background()

	wg1, err := l.Write(ctx, 4)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		wg2, err := l.Write(ctx, 9)
		require.NoError(t, err)
		close(acquired)
		wg2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("writer at txn 9 acquired while txn 4 still reserved")
	case <-time.After(50 * time.Millisecond):
	}

	wg1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer at txn 9 never acquired")
	}
}

func TestLock_ReadRespectsContextCancellation(t *testing.T) {
	l := New(intCell{v: 0})
	base := context.Background()

	wg, err := l.Write(base, 50)
	require.NoError(t, err)
	defer wg.Release()

	ctx, cancel := context.WithTimeout(base, 20*time.Millisecond)
	defer cancel()

	// The reader's txn is at or after the reserved writer's, so Read
	// suspends until the context expires.
	_, err = l.Read(ctx, 60)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
