// Package txnlock provides a mutable cell with per-transaction snapshot
// isolation, modeled on the commit/rollback guard lifecycle used throughout
// NornicDB's storage layer but generalized to many concurrent transactions
// instead of one.
//
// A Lock[T] holds a single canonical value of type T plus, for every
// transaction id that has touched it, a divergent pending copy. Readers at
// τ see canonical-as-of-the-last-commit-at-or-before-τ merged with τ's own
// pending writes; writers at τ mutate only their own pending copy until
// Commit promotes it to canonical.
//
// Example:
//
//	lock := txnlock.New(btree.RootID{})
//	guard, err := lock.Read(ctx, txn)
//	if err != nil {
//		return err
//	}
//	defer guard.Release()
//	id := guard.Value()
package txnlock

import (
	"container/list"
	"context"
	"sync"

	"github.com/txbtree/txbtree/pkg/txerr"
)

// TxnID is a monotone identifier that serves both as a snapshot version
// and as the lock key for a transaction.
type TxnID uint64

// Cloneable is implemented by any value a Lock can snapshot per
// transaction. Clone must return a value independent of the receiver —
// mutating the clone must never be observable through the original.
type Cloneable[T any] interface {
	Clone() T
}

// Converger lets a cloneable type customize how a committed pending value
// replaces canonical. Most cell types don't need this — a plain
// replacement is correct — so it is optional: if T does not implement
// Converger, Commit just assigns pending over canonical.
type Converger[T any] interface {
	Converge(old T) T
}

// Lock is a mutable cell of type T with per-τ snapshot isolation.
type Lock[T Cloneable[T]] struct {
	mu         sync.Mutex
	hasCommit  bool
	lastCommit TxnID
	canonical  T
	pending    map[TxnID]T
	readers    map[TxnID]int
	reserved   *TxnID
	waiters    *list.List
}

type waiter struct {
	ch chan struct{}
}

// New creates a Lock whose canonical value starts as initial.
func New[T Cloneable[T]](initial T) *Lock[T] {
	return &Lock[T]{
		canonical: initial,
		pending:   make(map[TxnID]T),
		readers:   make(map[TxnID]int),
		waiters:   list.New(),
	}
}

// Canonical returns the most recently committed value, bypassing
// transaction isolation. Intended for diagnostics/metrics only.
func (l *Lock[T]) Canonical() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canonical
}

func (l *Lock[T]) pushWaiter() (*list.Element, chan struct{}) {
	w := &waiter{ch: make(chan struct{})}
	return l.waiters.PushBack(w), w.ch
}

func (l *Lock[T]) wakeOne() {
	l.mu.Lock()
	if el := l.waiters.Front(); el != nil {
		l.waiters.Remove(el)
		close(el.Value.(*waiter).ch)
	}
	l.mu.Unlock()
}

func (l *Lock[T]) wakeAll() {
	l.mu.Lock()
	for el := l.waiters.Front(); el != nil; el = l.waiters.Front() {
		l.waiters.Remove(el)
		close(el.Value.(*waiter).ch)
	}
	l.mu.Unlock()
}

// ReadGuard is held by a transaction that obtained a read snapshot.
type ReadGuard[T Cloneable[T]] struct {
	lock     *Lock[T]
	txn      TxnID
	value    T
	released bool
}

// Value returns the snapshot observed at acquisition time.
func (g *ReadGuard[T]) Value() T { return g.value }

// Release drops the read snapshot, decrementing the refcount and waking
// one suspended waiter.
func (g *ReadGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.lock.mu.Lock()
	if n := g.lock.readers[g.txn]; n <= 1 {
		delete(g.lock.readers, g.txn)
	} else {
		g.lock.readers[g.txn] = n - 1
	}
	g.lock.mu.Unlock()
	g.lock.wakeOne()
}

// WriteGuard is held by a transaction with exclusive write intent.
type WriteGuard[T Cloneable[T]] struct {
	lock     *Lock[T]
	txn      TxnID
	value    T
	released bool
}

// Value returns the transaction's pending copy, mutable in place.
func (g *WriteGuard[T]) Value() T { return g.value }

// Set replaces the transaction's pending copy outright.
func (g *WriteGuard[T]) Set(v T) {
	g.value = v
	g.lock.mu.Lock()
	g.lock.pending[g.txn] = v
	g.lock.mu.Unlock()
}

// Release drops write intent and wakes all suspended waiters, since
// releasing a writer can unblock any number of queued readers or the next
// writer in line.
func (g *WriteGuard[T]) Release() {
	if g.released {
		return
	}
	g.released = true
	g.lock.mu.Lock()
	if g.lock.reserved != nil && *g.lock.reserved == g.txn {
		g.lock.reserved = nil
	}
	g.lock.mu.Unlock()
	g.lock.wakeAll()
}

// Read obtains a read snapshot at τ.
//
// Fails with Conflict if τ precedes the last commit and τ has no pending
// snapshot of its own. Suspends while a writer at σ ≤ τ is reserved.
func (l *Lock[T]) Read(ctx context.Context, txn TxnID) (*ReadGuard[T], error) {
	l.mu.Lock()
	for {
		if _, hasPending := l.pending[txn]; l.hasCommit && txn < l.lastCommit && !hasPending {
			l.mu.Unlock()
			return nil, txerr.Conflictf("read(%d): precedes last commit %d with no pending snapshot", txn, l.lastCommit)
		}
		if l.reserved != nil && *l.reserved <= txn {
			el, ch := l.pushWaiter()
			l.mu.Unlock()
			select {
			case <-ch:
				l.mu.Lock()
				continue
			case <-ctx.Done():
				l.mu.Lock()
				l.waiters.Remove(el)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		break
	}
	p, ok := l.pending[txn]
	if !ok {
		p = l.canonical.Clone()
		l.pending[txn] = p
	}
	l.readers[txn]++
	l.mu.Unlock()
	return &ReadGuard[T]{lock: l, txn: txn, value: p}, nil
}

// Write obtains exclusive write access at τ.
//
// Fails with Conflict if any reader or the reserved writer is at some
// σ > τ. Suspends while a writer at σ ≤ τ is active.
func (l *Lock[T]) Write(ctx context.Context, txn TxnID) (*WriteGuard[T], error) {
	l.mu.Lock()
	for {
		conflict := false
		for σ, n := range l.readers {
			if n > 0 && σ > txn {
				conflict = true
				break
			}
		}
		if !conflict && l.reserved != nil && *l.reserved > txn {
			conflict = true
		}
		if conflict {
			l.mu.Unlock()
			return nil, txerr.Conflictf("write(%d): a reader or writer at a later transaction already holds this cell", txn)
		}
		if l.reserved != nil && *l.reserved <= txn {
			el, ch := l.pushWaiter()
			l.mu.Unlock()
			select {
			case <-ch:
				l.mu.Lock()
				continue
			case <-ctx.Done():
				l.mu.Lock()
				l.waiters.Remove(el)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		break
	}
	r := txn
	l.reserved = &r
	p, ok := l.pending[txn]
	if !ok {
		p = l.canonical.Clone()
		l.pending[txn] = p
	}
	l.mu.Unlock()
	return &WriteGuard[T]{lock: l, txn: txn, value: p}, nil
}

func converge[T Cloneable[T]](old, pending T) T {
	if c, ok := any(pending).(Converger[T]); ok {
		return c.Converge(old)
	}
	return pending
}

// Commit acquires write, promotes τ's pending value (if any) to canonical,
// records τ as the last commit, and releases.
func (l *Lock[T]) Commit(ctx context.Context, txn TxnID) error {
	g, err := l.Write(ctx, txn)
	if err != nil {
		return err
	}
	defer g.Release()

	l.mu.Lock()
	if p, ok := l.pending[txn]; ok {
		l.canonical = converge(l.canonical, p)
		delete(l.pending, txn)
	}
	l.lastCommit = txn
	l.hasCommit = true
	l.mu.Unlock()
	return nil
}

// Finalize (a.k.a. rollback) acquires write and discards τ's pending value
// without applying it.
func (l *Lock[T]) Finalize(ctx context.Context, txn TxnID) error {
	g, err := l.Write(ctx, txn)
	if err != nil {
		return err
	}
	defer g.Release()

	l.mu.Lock()
	delete(l.pending, txn)
	l.mu.Unlock()
	return nil
}

// Idle reports whether the lock has no live readers, no reserved writer,
// and no outstanding pending snapshots. A cache is only safe to evict an
// entry when Idle returns true — evicting a lock some transaction still
// holds state in would silently discard that state.
func (l *Lock[T]) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.readers) == 0 && l.reserved == nil && len(l.pending) == 0
}

// Seed installs value as τ's pending snapshot directly, without cloning
// canonical. It exists for callers that construct a brand-new Lock whose
// zero-value canonical cannot be cloned (for example a pointer type, whose
// zero value is nil) and need to seed it in the same step. Seed must only
// be called before τ has acquired a guard on this lock.
func (l *Lock[T]) Seed(txn TxnID, value T) {
	l.mu.Lock()
	l.pending[txn] = value
	l.mu.Unlock()
}
