// Package btree implements the B-Tree Engine: an order-m B-Tree over typed
// tuple keys, built on a blockfile.BlockFile of Node blocks, generalized
// from the single-root guard pattern NornicDB's storage layer uses for its
// transactional state into a full multi-level index.
//
// Example:
//
//	schema := btree.RowSchema{Columns: []btree.Column{
//		{Name: "id", Type: btree.TypeInt64},
//		{Name: "name", Type: btree.TypeString, MaxLen: 64},
//	}}
//	tree, err := btree.Create(ctx, bf, schema, txn)
//	err = tree.Insert(ctx, txn, btree.Key{int64(1), "alice"})
package btree

import (
	"github.com/txbtree/txbtree/pkg/txerr"
)

// ColumnType names the wire representation of one key component.
type ColumnType int

const (
	// TypeInt64 is a fixed-width 8-byte signed integer.
	TypeInt64 ColumnType = iota
	// TypeBool is a fixed-width 1-byte boolean.
	TypeBool
	// TypeString is a variable-width UTF-8 string bounded by MaxLen bytes.
	TypeString
	// TypeBytes is a variable-width byte string bounded by MaxLen bytes.
	TypeBytes
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt64:
		return "int64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

func (t ColumnType) variableWidth() bool {
	return t == TypeString || t == TypeBytes
}

// fixedSize returns the encoded size of a fixed-width type, or (0, false)
// for a variable-width one.
func (t ColumnType) fixedSize() (int, bool) {
	switch t {
	case TypeInt64:
		return 8, true
	case TypeBool:
		return 1, true
	default:
		return 0, false
	}
}

// Column describes one component of every key in a tree.
type Column struct {
	Name string
	Type ColumnType
	// MaxLen is the declared maximum encoded length in bytes. Required
	// for variable-width types, must be zero for fixed-width ones.
	MaxLen int
}

// maxWidth returns the largest number of bytes this column's value can
// occupy, used only to size-budget order derivation.
func (c Column) maxWidth() int {
	if n, ok := c.Type.fixedSize(); ok {
		return n
	}
	return c.MaxLen
}

// RowSchema is the ordered tuple of columns every key in a tree conforms
// to (§3).
type RowSchema struct {
	Columns []Column
}

// blockBudget is the byte budget B a Node's encoded form must fit within
// (§4.3), matching blockfile's declared Node.MaxSize.
const blockBudget = 4000

// idWidth is the per-id byte allowance I (§4.3). An encoded block id, a
// 128-bit UUID, occupies 16 bytes, so this allowance exceeds it.
const idWidth = 128

// ValidateSchema checks a RowSchema for internal consistency and derives
// the tree's order m via §4.3's exact formula: a pessimistic maximum
// encoded key_size (sum of column widths, plus 2 bytes per column for its
// type tag, plus 4 bytes for the leaf/deleted booleans encoding), then
//
//	if B > 2*key_size + 3*I: m = floor((B - I) / (key_size + I))
//	else:                    m = 2
func ValidateSchema(schema RowSchema) (order int, err error) {
	if len(schema.Columns) == 0 {
		return 0, txerr.BadRequestf("btree: schema must declare at least one column")
	}
	keySize := 0
	for _, col := range schema.Columns {
		_, fixed := col.Type.fixedSize()
		if fixed && col.MaxLen != 0 {
			return 0, txerr.BadRequestf("btree: column %q is fixed-width, must not declare MaxLen", col.Name)
		}
		if col.Type.variableWidth() && col.MaxLen <= 0 {
			return 0, txerr.BadRequestf("btree: column %q is variable-width, must declare MaxLen > 0", col.Name)
		}
		keySize += col.maxWidth()
		keySize += 2 // type tag
	}
	keySize += 4 // leaf/deleted booleans encoding

	if blockBudget > 2*keySize+3*idWidth {
		order = (blockBudget - idWidth) / (keySize + idWidth)
	} else {
		order = 2
	}
	return order, nil
}
