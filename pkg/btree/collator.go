package btree

import "bytes"

// Ordering is the result of comparing two keys or key prefixes.
type Ordering int

const (
	Less Ordering = -1
	Equal Ordering = 0
	Greater Ordering = 1
)

// Collator defines the total order a tree's keys are stored in. The
// default collator compares component-by-component in schema order using
// each column's natural ordering; a caller may supply its own (e.g. a
// locale-aware string collator) as long as it remains a strict total
// order consistent across the tree's lifetime — changing collators on an
// existing tree produces undefined iteration order.
type Collator interface {
	// ComparePrefix compares the first n components of a and b.
	ComparePrefix(schema RowSchema, a, b Key, n int) Ordering
}

// Compare returns the full-key ordering of a and b under c.
func Compare(c Collator, schema RowSchema, a, b Key) Ordering {
	return c.ComparePrefix(schema, a, b, len(schema.Columns))
}

// DefaultCollator orders components by their natural Go ordering: integers
// numerically, booleans false-before-true, strings and byte strings
// lexicographically by byte value.
type DefaultCollator struct{}

func (DefaultCollator) ComparePrefix(schema RowSchema, a, b Key, n int) Ordering {
	for i := 0; i < n; i++ {
		o := compareValue(schema.Columns[i].Type, a[i], b[i])
		if o != Equal {
			return o
		}
	}
	return Equal
}

func compareValue(t ColumnType, x, y Value) Ordering {
	switch t {
	case TypeInt64:
		xi, yi := x.(int64), y.(int64)
		switch {
		case xi < yi:
			return Less
		case xi > yi:
			return Greater
		default:
			return Equal
		}
	case TypeBool:
		xb, yb := x.(bool), y.(bool)
		switch {
		case xb == yb:
			return Equal
		case !xb && yb:
			return Less
		default:
			return Greater
		}
	case TypeString:
		return fromIntResult(bytesCompareString(x.(string), y.(string)))
	case TypeBytes:
		return fromIntResult(bytes.Compare(x.([]byte), y.([]byte)))
	default:
		return Equal
	}
}

func bytesCompareString(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

func fromIntResult(c int) Ordering {
	switch {
	case c < 0:
		return Less
	case c > 0:
		return Greater
	default:
		return Equal
	}
}
