// Package blockfile implements the Transactional Block File: a
// content-addressed, transactionally-isolated store of typed, fixed-size
// blocks backed by BadgerDB, modeled on the per-key TxnLock caching used by
// NornicDB's storage layer but generalized so every stored block — not
// just one named root — gets its own snapshot-isolated lock.
//
// A BlockFile[B] holds blocks of exactly one Go type B. B must know how to
// clone, encode, and decode itself, and must declare a filename extension
// and a maximum encoded size (Data[B]). The file tracks which BlockIDs
// exist via a listing TxnLock and which blocks a transaction has written
// via a mutated TxnLock; per-block bodies live behind their own TxnLock,
// created on first touch and evicted once idle and the cache is full.
//
// Example:
//
//	bf, err := blockfile.Open[*Node](ctx, blockfile.Options[*Node]{
//		Dir:    cfg.DataDir,
//		Decode: DecodeNode,
//	})
//	id, err := bf.CreateBlock(ctx, txn, NewLeaf())
//	guard, err := bf.ReadBlock(ctx, txn, id)
//	defer guard.Release()
package blockfile

import (
	"bytes"
	"context"
	"log"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/txbtree/txbtree/pkg/metrics"
	"github.com/txbtree/txbtree/pkg/pool"
	"github.com/txbtree/txbtree/pkg/txerr"
	"github.com/txbtree/txbtree/pkg/txnlock"
)

// BlockID is the content-addressing key for a stored block.
type BlockID = uuid.UUID

// Data is implemented by the block payload type a BlockFile stores.
// Clone must produce a value independent of the receiver, the way
// txnlock.Cloneable requires, since a Data value is itself the T a
// per-block Lock snapshots.
type Data[B any] interface {
	txnlock.Cloneable[B]
	// Ext names the block type for diagnostics and CLI output, e.g. "node".
	Ext() string
	// MaxSize is the advisory encoded byte size the caller's schema
	// derivation assumed; a larger payload is logged as a warning when
	// persisted, not rejected.
	MaxSize() uint64
	// Encode serializes the block body, excluding the checksum.
	Encode() ([]byte, error)
}

var blockKeyPrefix = []byte{0x01}

func blockKey(id BlockID) []byte {
	b := id // array value copy
	return append(append([]byte{}, blockKeyPrefix...), b[:]...)
}

// Options configures a BlockFile.
type Options[B Data[B]] struct {
	// Dir is the BadgerDB directory. Ignored if InMemory.
	Dir string
	// InMemory runs BadgerDB without touching disk; for tests.
	InMemory bool
	// Decode reconstructs a B from bytes previously produced by its Encode.
	Decode func([]byte) (B, error)
	// MaxCachedLocks bounds the number of idle per-block locks kept warm.
	// Zero means unbounded.
	MaxCachedLocks int
	// Metrics receives cache/commit instrumentation. Defaults to a no-op
	// registry if nil.
	Metrics *metrics.Registry
}

// BlockFile is a transactionally-isolated, content-addressed store of
// blocks of type B (§4.2).
type BlockFile[B Data[B]] struct {
	db      *badger.DB
	decode  func([]byte) (B, error)
	metrics *metrics.Registry

	listing *txnlock.Lock[idSet] // all BlockIDs that exist as of τ
	mutated *txnlock.Lock[idSet] // BlockIDs τ has written or created

	cache *lockCache[B]
}

// Open creates or reopens a BlockFile at the configured directory.
func Open[B Data[B]](ctx context.Context, opts Options[B]) (*BlockFile[B], error) {
	if opts.Decode == nil {
		return nil, txerr.BadRequestf("blockfile: Decode function is required")
	}
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	bopts = bopts.WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, err, "blockfile: open badger")
	}

	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Noop()
	}

	bf := &BlockFile[B]{
		db:      db,
		decode:  opts.Decode,
		metrics: reg,
		listing: txnlock.New[idSet](newIDSet()),
		mutated: txnlock.New[idSet](newIDSet()),
	}
	bf.cache = newLockCache[B](opts.MaxCachedLocks, reg)

	if err := bf.loadListing(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return bf, nil
}

// loadListing seeds the listing lock's canonical value from whatever
// blocks are already durable, so a reopened file starts consistent.
func (bf *BlockFile[B]) loadListing() error {
	ids := newIDSet()
	err := bf.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: blockKeyPrefix})
		defer it.Close()
		for it.Seek(blockKeyPrefix); it.ValidForPrefix(blockKeyPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id, err := uuid.FromBytes(key[len(blockKeyPrefix):])
			if err != nil {
				return txerr.Wrap(txerr.Internal, err, "blockfile: corrupt key")
			}
			ids[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}
	bf.listing = txnlock.New[idSet](ids)
	return nil
}

// UniqueID allocates a fresh random (UUID-v4) BlockID. It neither checks
// the id against the listing nor reserves it; CreateBlock re-checks
// membership itself.
func (bf *BlockFile[B]) UniqueID() BlockID {
	return uuid.New()
}

// IsEmpty reports whether the file contains no blocks as of τ.
func (bf *BlockFile[B]) IsEmpty(ctx context.Context, txn txnlock.TxnID) (bool, error) {
	g, err := bf.listing.Read(ctx, txn)
	if err != nil {
		return false, err
	}
	defer g.Release()
	return len(g.Value()) == 0, nil
}

// BlockIDs returns every BlockID visible as of τ.
func (bf *BlockFile[B]) BlockIDs(ctx context.Context, txn txnlock.TxnID) ([]BlockID, error) {
	g, err := bf.listing.Read(ctx, txn)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return g.Value().ids(), nil
}

// CreateBlock allocates a fresh BlockID, seeds its value, and adds it to
// τ's pending listing. The block is invisible to other transactions until
// τ commits.
func (bf *BlockFile[B]) CreateBlock(ctx context.Context, txn txnlock.TxnID, value B) (BlockID, error) {
	id := bf.UniqueID()

	lg, err := bf.listing.Write(ctx, txn)
	if err != nil {
		return BlockID{}, err
	}
	if _, exists := lg.Value()[id]; exists {
		lg.Release()
		return BlockID{}, txerr.Internalf("blockfile: block %s already exists", id)
	}
	lg.Set(lg.Value().with(id))
	lg.Release()

	mg, err := bf.mutated.Write(ctx, txn)
	if err != nil {
		return BlockID{}, err
	}
	mg.Set(mg.Value().with(id))
	mg.Release()

	lock := bf.cache.getOrCreate(id, func() *txnlock.Lock[B] {
		var zero B
		return txnlock.New[B](zero)
	})
	lock.Seed(txn, value)
	return id, nil
}

// DeleteBlock removes id from τ's pending listing. The underlying body is
// purged from canonical storage when τ commits.
func (bf *BlockFile[B]) DeleteBlock(ctx context.Context, txn txnlock.TxnID, id BlockID) error {
	lg, err := bf.listing.Write(ctx, txn)
	if err != nil {
		return err
	}
	if _, ok := lg.Value()[id]; !ok {
		lg.Release()
		return txerr.NotFoundf("blockfile: block %s does not exist", id)
	}
	lg.Set(lg.Value().without(id))
	lg.Release()
	return nil
}

// ReadGuard wraps a per-block read snapshot.
type ReadGuard[B Data[B]] struct{ inner *txnlock.ReadGuard[B] }

// Value returns the snapshotted block body.
func (g *ReadGuard[B]) Value() B { return g.inner.Value() }

// Release drops the read snapshot.
func (g *ReadGuard[B]) Release() { g.inner.Release() }

// WriteGuard wraps a per-block write snapshot.
type WriteGuard[B Data[B]] struct{ inner *txnlock.WriteGuard[B] }

// Value returns τ's pending block body, mutable in place.
func (g *WriteGuard[B]) Value() B { return g.inner.Value() }

// Set replaces τ's pending block body outright.
func (g *WriteGuard[B]) Set(v B) { g.inner.Set(v) }

// Release drops write intent.
func (g *WriteGuard[B]) Release() { g.inner.Release() }

// ReadBlock obtains a read snapshot of id as of τ. Fails with NotFound if
// id is not in τ's visible listing.
func (bf *BlockFile[B]) ReadBlock(ctx context.Context, txn txnlock.TxnID, id BlockID) (*ReadGuard[B], error) {
	visible, err := bf.visible(ctx, txn, id)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, txerr.NotFoundf("blockfile: block %s does not exist", id)
	}
	lock, err := bf.lockFor(id)
	if err != nil {
		return nil, err
	}
	g, err := lock.Read(ctx, txn)
	if err != nil {
		return nil, err
	}
	return &ReadGuard[B]{inner: g}, nil
}

// WriteBlock obtains a write snapshot of id as of τ and marks id as
// mutated by τ. Fails with NotFound if id is not in τ's visible listing.
func (bf *BlockFile[B]) WriteBlock(ctx context.Context, txn txnlock.TxnID, id BlockID) (*WriteGuard[B], error) {
	visible, err := bf.visible(ctx, txn, id)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, txerr.NotFoundf("blockfile: block %s does not exist", id)
	}
	lock, err := bf.lockFor(id)
	if err != nil {
		return nil, err
	}
	g, err := lock.Write(ctx, txn)
	if err != nil {
		return nil, err
	}

	mg, err := bf.mutated.Write(ctx, txn)
	if err != nil {
		g.Release()
		return nil, err
	}
	mg.Set(mg.Value().with(id))
	mg.Release()

	return &WriteGuard[B]{inner: g}, nil
}

func (bf *BlockFile[B]) visible(ctx context.Context, txn txnlock.TxnID, id BlockID) (bool, error) {
	lg, err := bf.listing.Read(ctx, txn)
	if err != nil {
		return false, err
	}
	defer lg.Release()
	_, ok := lg.Value()[id]
	return ok, nil
}

// lockFor returns id's per-block Lock, creating it from canonical storage
// on first touch.
func (bf *BlockFile[B]) lockFor(id BlockID) (*txnlock.Lock[B], error) {
	var loadErr error
	lock := bf.cache.getOrCreate(id, func() *txnlock.Lock[B] {
		value, err := bf.loadCanonical(id)
		if err != nil {
			loadErr = err
			var zero B
			return txnlock.New[B](zero)
		}
		return txnlock.New[B](value)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return lock, nil
}

func (bf *BlockFile[B]) loadCanonical(id BlockID) (B, error) {
	var zero B
	var out B
	err := bf.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				out = zero
				return nil
			}
			return err
		}
		return item.Value(func(raw []byte) error {
			decoded, err := decodeChecksummed(raw, bf.decode)
			if err != nil {
				return err
			}
			out = decoded
			return nil
		})
	})
	if err != nil {
		return zero, txerr.Wrap(txerr.Internal, err, "blockfile: load block")
	}
	return out, nil
}

// Commit applies τ's writes in the order required by §4.2: first delete
// from canonical storage every block τ removed from the listing, then
// commit the listing (so deletions and creations become visible
// atomically), then persist and commit every block τ actually mutated,
// then drop τ's bookkeeping of what it touched.
func (bf *BlockFile[B]) Commit(ctx context.Context, txn txnlock.TxnID) error {
	oldListing := bf.listing.Canonical()

	lg, err := bf.listing.Read(ctx, txn)
	if err != nil {
		return err
	}
	newListing := lg.Value()
	lg.Release()

	for id := range oldListing {
		if _, stillThere := newListing[id]; !stillThere {
			if err := bf.db.Update(func(btx *badger.Txn) error { return btx.Delete(blockKey(id)) }); err != nil {
				return txerr.Wrap(txerr.Internal, err, "blockfile: delete block")
			}
		}
	}

	if err := bf.listing.Commit(ctx, txn); err != nil {
		return err
	}

	mg, err := bf.mutated.Read(ctx, txn)
	if err != nil {
		return err
	}
	touched := mg.Value().ids()
	mg.Release()

	if err := bf.persistAndCommitBlocks(ctx, txn, touched, newListing); err != nil {
		return err
	}

	if err := bf.mutated.Finalize(ctx, txn); err != nil {
		return err
	}

	for id := range oldListing {
		if _, stillThere := newListing[id]; !stillThere {
			bf.cache.evictIdle(id)
		}
	}
	return nil
}

func (bf *BlockFile[B]) persistAndCommitBlocks(ctx context.Context, txn txnlock.TxnID, touched []BlockID, listing idSet) error {
	for _, id := range touched {
		if _, stillListed := listing[id]; !stillListed {
			// id was deleted in the same transaction that wrote it; no
			// canonical body to persist.
			lock, ok := bf.cache.peek(id)
			if ok {
				_ = lock.Finalize(ctx, txn)
			}
			continue
		}
		lock, err := bf.lockFor(id)
		if err != nil {
			return err
		}
		g, err := lock.Read(ctx, txn)
		if err != nil {
			return err
		}
		value := g.Value()
		g.Release()

		if err := bf.persist(id, value); err != nil {
			return err
		}
		if err := lock.Commit(ctx, txn); err != nil {
			return err
		}
	}
	return nil
}

func (bf *BlockFile[B]) persist(id BlockID, value B) error {
	encoded, err := value.Encode()
	if err != nil {
		return txerr.Wrap(txerr.Internal, err, "blockfile: encode block")
	}
	if uint64(len(encoded)) > value.MaxSize() {
		log.Printf("blockfile: warning: block %s encoded to %d bytes, exceeds declared max %d", id, len(encoded), value.MaxSize())
	}
	raw := pool.GetByteBuffer()
	defer pool.PutByteBuffer(raw)
	raw = checksummed(raw, encoded)
	err = bf.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(id), raw)
	})
	if err != nil {
		return txerr.Wrap(txerr.Internal, err, "blockfile: persist block")
	}
	return nil
}

// Finalize (rollback) discards every pending value τ holds across the
// listing, mutated set, and touched per-block locks.
func (bf *BlockFile[B]) Finalize(ctx context.Context, txn txnlock.TxnID) error {
	mg, err := bf.mutated.Read(ctx, txn)
	if err == nil {
		for id := range mg.Value() {
			if lock, ok := bf.cache.peek(id); ok {
				_ = lock.Finalize(ctx, txn)
			}
		}
		mg.Release()
	}
	_ = bf.mutated.Finalize(ctx, txn)
	return bf.listing.Finalize(ctx, txn)
}

// Close releases the underlying BadgerDB handle.
func (bf *BlockFile[B]) Close() error {
	return bf.db.Close()
}

// checksummed appends payload's checksum and bytes onto dst, which may be
// a pooled buffer reused across calls.
func checksummed(dst, payload []byte) []byte {
	sum := blake2b.Sum256(payload)
	dst = append(dst, sum[:]...)
	dst = append(dst, payload...)
	return dst
}

func decodeChecksummed[B any](raw []byte, decode func([]byte) (B, error)) (B, error) {
	var zero B
	if len(raw) < blake2b.Size256 {
		return zero, txerr.Internalf("blockfile: stored block too short for checksum")
	}
	want := raw[:blake2b.Size256]
	payload := raw[blake2b.Size256:]
	got := blake2b.Sum256(payload)
	if !bytes.Equal(want, got[:]) {
		return zero, txerr.Internalf("blockfile: checksum mismatch, block is corrupt")
	}
	return decode(payload)
}
