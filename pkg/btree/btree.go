package btree

import (
	"context"
	"sort"
	"sync"

	"github.com/txbtree/txbtree/pkg/blockfile"
	"github.com/txbtree/txbtree/pkg/metrics"
	"github.com/txbtree/txbtree/pkg/txerr"
	"github.com/txbtree/txbtree/pkg/txnlock"
)

// RootID is the cloneable cell tracking the tree's current root block,
// snapshotted per-transaction the same way a single named root would be
// in a one-transaction-at-a-time store, but here under a txnlock.Lock so
// many transactions can hold independent views of it concurrently.
type RootID struct {
	ID     blockfile.BlockID
	Exists bool
}

// Clone satisfies txnlock.Cloneable. RootID is a plain value type, so a
// copy is already independent.
func (r RootID) Clone() RootID { return r }

// BTree is an order-m B-Tree of typed tuple keys, stored as Nodes in a
// blockfile.BlockFile (§4.3).
type BTree struct {
	bf       *blockfile.BlockFile[*Node]
	schema   RowSchema
	order    int
	collator Collator
	root     *txnlock.Lock[RootID]
	metrics  *metrics.Registry
}

// Option configures a BTree at construction.
type Option func(*BTree)

// WithCollator overrides the default component-wise collator.
func WithCollator(c Collator) Option {
	return func(t *BTree) { t.collator = c }
}

// WithMetrics wires a Registry for split/tombstone instrumentation.
func WithMetrics(reg *metrics.Registry) Option {
	return func(t *BTree) { t.metrics = reg }
}

func newTree(bf *blockfile.BlockFile[*Node], schema RowSchema, opts ...Option) (*BTree, error) {
	order, err := ValidateSchema(schema)
	if err != nil {
		return nil, err
	}
	t := &BTree{
		bf:       bf,
		schema:   schema,
		order:    order,
		collator: DefaultCollator{},
		root:     txnlock.New(RootID{}),
		metrics:  metrics.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Create initializes a new tree in bf: a single empty leaf root, the way
// §3's Lifecycle describes ("created empty with a single leaf root").
// Fails BadRequest if bf is not empty at τ (§6's "requires the file to be
// empty at τ").
func Create(ctx context.Context, bf *blockfile.BlockFile[*Node], schema RowSchema, txn txnlock.TxnID, opts ...Option) (*BTree, error) {
	t, err := newTree(bf, schema, opts...)
	if err != nil {
		return nil, err
	}
	empty, err := bf.IsEmpty(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !empty {
		return nil, txerr.BadRequestf("btree: create requires an empty block file")
	}
	id, err := bf.CreateBlock(ctx, txn, NewLeaf())
	if err != nil {
		return nil, err
	}
	rg, err := t.root.Write(ctx, txn)
	if err != nil {
		return nil, err
	}
	rg.Set(RootID{ID: id, Exists: true})
	rg.Release()
	return t, nil
}

// Load reattaches a BTree to a previously-committed Block File by scanning
// block_ids(τ) for the unique node with no parent (§4.3's Load, §6's
// "there is no separate root-pointer record on disk"). Fails
// Internal("missing root block") if zero or more than one such node is
// found.
func Load(ctx context.Context, bf *blockfile.BlockFile[*Node], schema RowSchema, txn txnlock.TxnID, opts ...Option) (*BTree, error) {
	t, err := newTree(bf, schema, opts...)
	if err != nil {
		return nil, err
	}
	ids, err := bf.BlockIDs(ctx, txn)
	if err != nil {
		return nil, err
	}
	var rootID blockfile.BlockID
	found := 0
	for _, id := range ids {
		g, err := bf.ReadBlock(ctx, txn, id)
		if err != nil {
			return nil, err
		}
		node := g.Value()
		g.Release()
		if node.Parent == nil {
			rootID = id
			found++
		}
	}
	if found != 1 {
		return nil, txerr.Internalf("btree: missing root block")
	}
	rg, err := t.root.Write(ctx, txn)
	if err != nil {
		return nil, err
	}
	rg.Set(RootID{ID: rootID, Exists: true})
	rg.Release()
	return t, nil
}

// Schema returns the tree's row schema.
func (t *BTree) Schema() RowSchema { return t.schema }

// Collator returns the tree's key ordering.
func (t *BTree) Collator() Collator { return t.collator }

// Order returns the tree's derived order m.
func (t *BTree) Order() int { return t.order }

// RootBlockID returns the root block's id as of τ, for a caller (the CLI's
// stats command) that wants to report it. ok is false when no root is
// visible at τ, e.g. to another transaction before the one that created
// the tree has committed; an empty tree created by Create has a root.
func (t *BTree) RootBlockID(ctx context.Context, txn txnlock.TxnID) (blockfile.BlockID, bool, error) {
	g, err := t.root.Read(ctx, txn)
	if err != nil {
		return blockfile.BlockID{}, false, err
	}
	defer g.Release()
	rid := g.Value()
	return rid.ID, rid.Exists, nil
}

// IsEmpty reports whether the root holds no keys as of τ (§8 scenario 1:
// "create; is_empty(τ) ⇒ true"). A freshly Create'd tree has a root block
// from the start — a leaf with zero keys — so emptiness is a property of
// its contents, not of whether a root block exists.
func (t *BTree) IsEmpty(ctx context.Context, txn txnlock.TxnID) (bool, error) {
	rootID, _, err := t.RootBlockID(ctx, txn)
	if err != nil {
		return false, err
	}
	g, err := t.bf.ReadBlock(ctx, txn, rootID)
	if err != nil {
		return false, err
	}
	defer g.Release()
	return len(g.Value().Keys) == 0, nil
}

// Commit persists τ's writes: first the Block File's blocks and listing,
// then the root pointer itself.
func (t *BTree) Commit(ctx context.Context, txn txnlock.TxnID) error {
	if err := t.bf.Commit(ctx, txn); err != nil {
		return err
	}
	return t.root.Commit(ctx, txn)
}

// Finalize discards every pending write τ made to this tree.
func (t *BTree) Finalize(ctx context.Context, txn txnlock.TxnID) error {
	_ = t.root.Finalize(ctx, txn)
	return t.bf.Finalize(ctx, txn)
}

func (t *BTree) bisectLeft(keys []NodeKey, key Key) int {
	return sort.Search(len(keys), func(i int) bool {
		return t.collator.ComparePrefix(t.schema, keys[i].Value, key, len(t.schema.Columns)) != Less
	})
}

// bisectRange returns [l, r) — the index span of keys at one node level
// that fall within rng, by binary search against rng's boundary tuples.
// This relies on keys being sorted under the tree's collator: a node's
// own key set is always sorted, and so is any Key-length-truncated
// projection of it, so comparing against a boundary tuple shorter than
// the full key still yields a monotonic predicate safe for sort.Search.
func (t *BTree) bisectRange(keys []NodeKey, rng Range) (l, r int) {
	lower := rng.lowerBoundary()
	l = sort.Search(len(keys), func(i int) bool {
		return t.collator.ComparePrefix(t.schema, keys[i].Value, lower, len(lower)) != Less
	})
	if upper, ok := rng.upperBoundary(); ok {
		r = sort.Search(len(keys), func(i int) bool {
			return t.collator.ComparePrefix(t.schema, keys[i].Value, upper, len(upper)) != Less
		})
		return l, r
	}
	r = sort.Search(len(keys), func(i int) bool {
		return t.collator.ComparePrefix(t.schema, keys[i].Value, rng.Prefix, len(rng.Prefix)) == Greater
	})
	return l, r
}

// Insert adds key to the tree, reviving a tombstoned entry if one exists
// and coalescing a live duplicate into a no-op. Full nodes are split
// proactively on the way down, so a single descent never has to back
// up (§4.3).
func (t *BTree) Insert(ctx context.Context, txn txnlock.TxnID, key Key) error {
	key, err := ValidateKey(t.schema, key)
	if err != nil {
		return err
	}

	rg, err := t.root.Write(ctx, txn)
	if err != nil {
		return err
	}
	currentID := rg.Value().ID

	rootNode, err := t.loadForWrite(ctx, txn, currentID)
	if err != nil {
		rg.Release()
		return err
	}
	if len(rootNode.Keys) == 2*t.order-1 {
		newRoot := &Node{Leaf: false, Children: []blockfile.BlockID{currentID}}
		newRootID, err := t.bf.CreateBlock(ctx, txn, newRoot)
		if err != nil {
			rg.Release()
			return err
		}
		if err := t.splitChild(ctx, txn, newRootID, newRoot, 0); err != nil {
			rg.Release()
			return err
		}
		if err := t.persist(ctx, txn, newRootID, newRoot); err != nil {
			rg.Release()
			return err
		}
		currentID = newRootID
		rg.Set(RootID{ID: newRootID, Exists: true})
	}
	rg.Release()

	return t.insertDescend(ctx, txn, currentID, key)
}

// loadForWrite is a thin helper over WriteBlock+Release that returns the
// pending *Node pointer for further in-place mutation without holding the
// guard open across subsequent block accesses.
func (t *BTree) loadForWrite(ctx context.Context, txn txnlock.TxnID, id blockfile.BlockID) (*Node, error) {
	g, err := t.bf.WriteBlock(ctx, txn, id)
	if err != nil {
		return nil, err
	}
	node := g.Value()
	g.Release()
	return node, nil
}

func (t *BTree) insertDescend(ctx context.Context, txn txnlock.TxnID, id blockfile.BlockID, key Key) error {
	node, err := t.loadForWrite(ctx, txn, id)
	if err != nil {
		return err
	}

	idx := t.bisectLeft(node.Keys, key)
	if idx < len(node.Keys) && t.collator.ComparePrefix(t.schema, node.Keys[idx].Value, key, len(t.schema.Columns)) == Equal {
		if node.Keys[idx].Deleted {
			node.Keys[idx].Deleted = false
			t.metrics.TombstonesRevived.Inc()
		}
		return t.persist(ctx, txn, id, node)
	}

	if node.Leaf {
		node.Keys = insertNodeKeyAt(node.Keys, idx, NodeKey{Value: key})
		return t.persist(ctx, txn, id, node)
	}

	childID := node.Children[idx]
	child, err := t.loadForWrite(ctx, txn, childID)
	if err != nil {
		return err
	}
	if len(child.Keys) == 2*t.order-1 {
		if err := t.splitChild(ctx, txn, id, node, idx); err != nil {
			return err
		}
		if err := t.persist(ctx, txn, id, node); err != nil {
			return err
		}
		// The split may have promoted a key equal to the one being
		// inserted into this very node; re-check before descending.
		idx = t.bisectLeft(node.Keys, key)
		if idx < len(node.Keys) && t.collator.ComparePrefix(t.schema, node.Keys[idx].Value, key, len(t.schema.Columns)) == Equal {
			if node.Keys[idx].Deleted {
				node.Keys[idx].Deleted = false
				t.metrics.TombstonesRevived.Inc()
				return t.persist(ctx, txn, id, node)
			}
			return nil
		}
		childID = node.Children[idx]
	}
	return t.insertDescend(ctx, txn, childID, key)
}

// persist re-acquires id's write guard just long enough to register the
// mutation made to node (a pointer already aliasing the pending snapshot)
// as touched, so Commit knows to persist it. Because T is a pointer type
// the guard's own Value() already equals node; persist exists to make the
// dependency on WriteBlock's bookkeeping explicit at each mutation site.
func (t *BTree) persist(ctx context.Context, txn txnlock.TxnID, id blockfile.BlockID, node *Node) error {
	g, err := t.bf.WriteBlock(ctx, txn, id)
	if err != nil {
		return err
	}
	g.Set(node)
	g.Release()
	return nil
}

// splitChild splits parent.Children[idx], which must be full, into two
// nodes, promoting its median key into parent at position idx. Both
// halves are given Parent = parentID (§3 invariant 5: exactly one node
// has parent = None), which also demotes child out of the root position
// if it was previously rootless.
func (t *BTree) splitChild(ctx context.Context, txn txnlock.TxnID, parentID blockfile.BlockID, parent *Node, idx int) error {
	childID := parent.Children[idx]
	child, err := t.loadForWrite(ctx, txn, childID)
	if err != nil {
		return err
	}

	mid := len(child.Keys) / 2
	promoted := child.Keys[mid]

	right := &Node{Leaf: child.Leaf, Parent: &parentID}
	right.Keys = append([]NodeKey{}, child.Keys[mid+1:]...)
	if !child.Leaf {
		right.Children = append([]blockfile.BlockID{}, child.Children[mid+1:]...)
	}

	left := &Node{Leaf: child.Leaf, Rebalance: child.Rebalance, Parent: &parentID}
	left.Keys = append([]NodeKey{}, child.Keys[:mid]...)
	if !child.Leaf {
		left.Children = append([]blockfile.BlockID{}, child.Children[:mid+1]...)
	}
	if err := t.persist(ctx, txn, childID, left); err != nil {
		return err
	}

	rightID, err := t.bf.CreateBlock(ctx, txn, right)
	if err != nil {
		return err
	}

	parent.Keys = insertNodeKeyAt(parent.Keys, idx, promoted)
	parent.Children = insertChildAt(parent.Children, idx+1, rightID)
	t.metrics.NodeSplits.Inc()
	return nil
}

func insertNodeKeyAt(keys []NodeKey, idx int, k NodeKey) []NodeKey {
	keys = append(keys, NodeKey{})
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = k
	return keys
}

func insertChildAt(children []blockfile.BlockID, idx int, id blockfile.BlockID) []blockfile.BlockID {
	children = append(children, blockfile.BlockID{})
	copy(children[idx+1:], children[idx:])
	children[idx] = id
	return children
}

// Delete logically removes a single exact key, leaving a tombstone that a
// later Insert of the same key can revive.
func (t *BTree) Delete(ctx context.Context, txn txnlock.TxnID, key Key) error {
	key, err := ValidateKey(t.schema, key)
	if err != nil {
		return err
	}
	return t.DeleteRange(ctx, txn, Range{Prefix: key})
}

// DeleteRange tombstones every key within rng. Disjoint child subtrees at
// each level are recursed into concurrently, since tombstoning one cannot
// affect another (§4.3).
func (t *BTree) DeleteRange(ctx context.Context, txn txnlock.TxnID, rng Range) error {
	rid, exists, err := t.RootBlockID(ctx, txn)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return t.deleteRangeNode(ctx, txn, rid, rng)
}

func (t *BTree) deleteRangeNode(ctx context.Context, txn txnlock.TxnID, id blockfile.BlockID, rng Range) error {
	node, err := t.loadForWrite(ctx, txn, id)
	if err != nil {
		return err
	}

	l, r := t.bisectRange(node.Keys, rng)
	changed := false
	for i := l; i < r; i++ {
		if !node.Keys[i].Deleted {
			node.Keys[i].Deleted = true
			t.metrics.TombstonesCreated.Inc()
			changed = true
		}
	}
	if changed {
		if err := t.persist(ctx, txn, id, node); err != nil {
			return err
		}
	}
	if node.Leaf {
		return nil
	}

	children := append([]blockfile.BlockID{}, node.Children[l:r+1]...)
	if len(children) == 1 {
		return t.deleteRangeNode(ctx, txn, children[0], rng)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(children))
	for i, cid := range children {
		wg.Add(1)
		go func(i int, cid blockfile.BlockID) {
			defer wg.Done()
			errs[i] = t.deleteRangeNode(ctx, txn, cid, rng)
		}(i, cid)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Keys returns every non-tombstoned key in the tree, in ascending order.
func (t *BTree) Keys(ctx context.Context, txn txnlock.TxnID) ([]Key, error) {
	cur, err := t.RowsInRange(ctx, txn, Full())
	if err != nil {
		return nil, err
	}
	var out []Key
	for {
		k, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, k)
	}
	return out, nil
}

// RowsInRange returns a lazily-advancing forward cursor over every
// non-tombstoned key matching rng.
func (t *BTree) RowsInRange(ctx context.Context, txn txnlock.TxnID, rng Range) (*Cursor, error) {
	return t.newCursor(ctx, txn, rng, false)
}

// RowsInRangeReverse is RowsInRange in descending order.
func (t *BTree) RowsInRangeReverse(ctx context.Context, txn txnlock.TxnID, rng Range) (*Cursor, error) {
	return t.newCursor(ctx, txn, rng, true)
}
