package btree

import (
	"context"

	"github.com/txbtree/txbtree/pkg/blockfile"
	"github.com/txbtree/txbtree/pkg/txnlock"
)

// frame is one level of a Cursor's explicit traversal stack: node is the
// block at this level, and idx is the position of the next key to visit
// (forward) or the position just past the next key to visit (reverse).
type frame struct {
	id   blockfile.BlockID
	node *Node
	idx  int
}

// Cursor streams keys from a tree in collator order, fetching nodes from
// the Block File lazily as it advances rather than buffering the whole
// range up front (§4.3, §6).
type Cursor struct {
	tree    *BTree
	txn     txnlock.TxnID
	rng     Range
	reverse bool
	stack   []frame
	done    bool
}

func (t *BTree) newCursor(ctx context.Context, txn txnlock.TxnID, rng Range, reverse bool) (*Cursor, error) {
	c := &Cursor{tree: t, txn: txn, rng: rng, reverse: reverse}
	rootID, exists, err := t.RootBlockID(ctx, txn)
	if err != nil {
		return nil, err
	}
	if !exists {
		c.done = true
		return c, nil
	}
	if err := c.descend(ctx, rootID); err != nil {
		return nil, err
	}
	return c, nil
}

// descend pushes the path from id down to the extreme leaf (leftmost for
// a forward cursor, rightmost for a reverse one).
func (c *Cursor) descend(ctx context.Context, id blockfile.BlockID) error {
	for {
		g, err := c.tree.bf.ReadBlock(ctx, c.txn, id)
		if err != nil {
			return err
		}
		node := g.Value()
		g.Release()

		idx := 0
		if c.reverse {
			idx = len(node.Keys)
		}
		c.stack = append(c.stack, frame{id: id, node: node, idx: idx})
		if node.Leaf {
			return nil
		}
		if c.reverse {
			id = node.Children[len(node.Children)-1]
		} else {
			id = node.Children[0]
		}
	}
}

// Next returns the next matching key in order. ok is false once the
// cursor is exhausted or has walked past the end of rng.
func (c *Cursor) Next(ctx context.Context) (Key, bool, error) {
	for !c.done {
		k, ok, err := c.advance(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if k.Deleted {
			continue
		}
		if !c.rng.Matches(c.tree.collator, c.tree.schema, k.Value) {
			if c.pastRange(k.Value) {
				c.done = true
				return nil, false, nil
			}
			continue
		}
		return k.Value, true, nil
	}
	return nil, false, nil
}

// pastRange reports whether key lies beyond rng in the cursor's
// direction of travel, letting Next stop early instead of scanning the
// rest of the tree.
func (c *Cursor) pastRange(key Key) bool {
	col, schema := c.tree.collator, c.tree.schema
	if col.ComparePrefix(schema, key, c.rng.Prefix, len(c.rng.Prefix)) != Equal {
		if c.reverse {
			return col.ComparePrefix(schema, key, c.rng.Prefix, len(c.rng.Prefix)) == Less
		}
		return col.ComparePrefix(schema, key, c.rng.Prefix, len(c.rng.Prefix)) == Greater
	}
	if upper, ok := c.rng.upperBoundary(); ok && !c.reverse {
		return col.ComparePrefix(schema, key, upper, len(upper)) != Less
	}
	if c.rng.Start != nil && c.reverse {
		lower := c.rng.lowerBoundary()
		return col.ComparePrefix(schema, key, lower, len(lower)) == Less
	}
	return false
}

// advance pops the next raw NodeKey off the stack in in-order sequence,
// descending into freshly-discovered subtrees as needed.
func (c *Cursor) advance(ctx context.Context) (NodeKey, bool, error) {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]

		if top.node.Leaf {
			if c.reverse {
				if top.idx == 0 {
					c.stack = c.stack[:len(c.stack)-1]
					continue
				}
				top.idx--
				return top.node.Keys[top.idx], true, nil
			}
			if top.idx >= len(top.node.Keys) {
				c.stack = c.stack[:len(c.stack)-1]
				continue
			}
			k := top.node.Keys[top.idx]
			top.idx++
			return k, true, nil
		}

		if c.reverse {
			if top.idx == 0 {
				c.stack = c.stack[:len(c.stack)-1]
				continue
			}
			top.idx--
			k := top.node.Keys[top.idx]
			if err := c.descend(ctx, top.node.Children[top.idx]); err != nil {
				return NodeKey{}, false, err
			}
			return k, true, nil
		}
		if top.idx >= len(top.node.Keys) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		k := top.node.Keys[top.idx]
		top.idx++
		if err := c.descend(ctx, top.node.Children[top.idx]); err != nil {
			return NodeKey{}, false, err
		}
		return k, true, nil
	}
	c.done = true
	return NodeKey{}, false, nil
}
