package btree

import (
	"encoding/binary"

	"github.com/txbtree/txbtree/pkg/blockfile"
	"github.com/txbtree/txbtree/pkg/txerr"
)

// NodeKey is one entry in a Node: a key tuple plus a tombstone flag. A
// deleted key stays physically present (so children either side of it
// keep their split point) but is invisible to range reads until a later
// insert at the same key revives it (§4.3's logical delete).
type NodeKey struct {
	Deleted bool
	Value   Key
}

// Node is the Block File payload type the B-Tree is built on: it is
// either a leaf (Children empty) or an internal node with len(Keys)+1
// children, one more than its key count.
type Node struct {
	Leaf      bool
	Keys      []NodeKey
	Parent    *blockfile.BlockID
	Children  []blockfile.BlockID
	Rebalance bool
}

// NewLeaf returns an empty leaf node.
func NewLeaf() *Node {
	return &Node{Leaf: true}
}

// Clone satisfies blockfile.Data / txnlock.Cloneable.
func (n *Node) Clone() *Node {
	c := &Node{Leaf: n.Leaf, Rebalance: n.Rebalance}
	if n.Parent != nil {
		p := *n.Parent
		c.Parent = &p
	}
	c.Keys = make([]NodeKey, len(n.Keys))
	for i, k := range n.Keys {
		c.Keys[i] = NodeKey{Deleted: k.Deleted, Value: cloneKeyValue(k.Value)}
	}
	c.Children = append([]blockfile.BlockID{}, n.Children...)
	return c
}

func cloneKeyValue(k Key) Key {
	out := make(Key, len(k))
	for i, v := range k {
		if b, ok := v.([]byte); ok {
			out[i] = append([]byte{}, b...)
			continue
		}
		out[i] = v
	}
	return out
}

// Ext satisfies blockfile.Data.
func (n *Node) Ext() string { return "node" }

// MaxSize satisfies blockfile.Data, matching the budget ValidateSchema
// derives the tree's order against.
func (n *Node) MaxSize() uint64 { return blockBudget }

const (
	tagInt64 byte = iota
	tagBool
	tagString
	tagBytes
)

func typeTag(t ColumnType) byte {
	switch t {
	case TypeInt64:
		return tagInt64
	case TypeBool:
		return tagBool
	case TypeString:
		return tagString
	default:
		return tagBytes
	}
}

func columnTypeFromTag(tag byte) ColumnType {
	switch tag {
	case tagInt64:
		return TypeInt64
	case tagBool:
		return TypeBool
	case tagString:
		return TypeString
	default:
		return TypeBytes
	}
}

// Encode serializes the node self-describingly: every key component
// carries its own type tag and length prefix, so decoding needs no
// external schema.
func (n *Node) Encode() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, boolByte(n.Leaf))
	buf = appendUint32(buf, uint32(len(n.Keys)))
	for _, k := range n.Keys {
		buf = append(buf, boolByte(k.Deleted))
		buf = encodeKey(buf, k.Value)
	}
	buf = append(buf, boolByte(n.Parent != nil))
	if n.Parent != nil {
		buf = append(buf, n.Parent[:]...)
	}
	buf = appendUint32(buf, uint32(len(n.Children)))
	for _, c := range n.Children {
		buf = append(buf, c[:]...)
	}
	buf = append(buf, boolByte(n.Rebalance))
	return buf, nil
}

func encodeKey(buf []byte, key Key) []byte {
	buf = appendUint16(buf, uint16(len(key)))
	for _, v := range key {
		switch val := v.(type) {
		case int64:
			buf = append(buf, tagInt64)
			buf = appendUint32(buf, 8)
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, uint64(val))
			buf = append(buf, b...)
		case bool:
			buf = append(buf, tagBool)
			buf = appendUint32(buf, 1)
			buf = append(buf, boolByte(val))
		case string:
			buf = append(buf, tagString)
			data := []byte(val)
			buf = appendUint32(buf, uint32(len(data)))
			buf = append(buf, data...)
		case []byte:
			buf = append(buf, tagBytes)
			buf = appendUint32(buf, uint32(len(val)))
			buf = append(buf, val...)
		}
	}
	return buf
}

// DecodeNode reconstructs a Node from bytes produced by Encode.
func DecodeNode(raw []byte) (*Node, error) {
	r := &reader{buf: raw}
	n := &Node{}
	var err error
	n.Leaf, err = r.readBool()
	if err != nil {
		return nil, err
	}
	keyCount, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	n.Keys = make([]NodeKey, keyCount)
	for i := range n.Keys {
		deleted, err := r.readBool()
		if err != nil {
			return nil, err
		}
		value, err := decodeKey(r)
		if err != nil {
			return nil, err
		}
		n.Keys[i] = NodeKey{Deleted: deleted, Value: value}
	}
	hasParent, err := r.readBool()
	if err != nil {
		return nil, err
	}
	if hasParent {
		id, err := r.readBlockID()
		if err != nil {
			return nil, err
		}
		n.Parent = &id
	}
	childCount, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	n.Children = make([]blockfile.BlockID, childCount)
	for i := range n.Children {
		id, err := r.readBlockID()
		if err != nil {
			return nil, err
		}
		n.Children[i] = id
	}
	n.Rebalance, err = r.readBool()
	if err != nil {
		return nil, err
	}
	return n, nil
}

func decodeKey(r *reader) (Key, error) {
	arity, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	key := make(Key, arity)
	for i := range key {
		tag, err := r.readByte()
		if err != nil {
			return nil, err
		}
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		data, err := r.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		switch columnTypeFromTag(tag) {
		case TypeInt64:
			if len(data) != 8 {
				return nil, txerr.Internalf("btree: corrupt int64 component")
			}
			key[i] = int64(binary.BigEndian.Uint64(data))
		case TypeBool:
			key[i] = len(data) > 0 && data[0] != 0
		case TypeString:
			key[i] = string(data)
		case TypeBytes:
			key[i] = append([]byte{}, data...)
		}
	}
	return key, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return append(buf, b...)
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return append(buf, b...)
}

// reader walks raw bytes for Decode, failing with Internal on truncation.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return txerr.Internalf("btree: corrupt node, truncated at offset %d", r.pos)
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBool() (bool, error) {
	b, err := r.readByte()
	return b != 0, err
}

func (r *reader) readUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readBlockID() (blockfile.BlockID, error) {
	data, err := r.readBytes(16)
	if err != nil {
		return blockfile.BlockID{}, err
	}
	var id blockfile.BlockID
	copy(id[:], data)
	return id, nil
}
