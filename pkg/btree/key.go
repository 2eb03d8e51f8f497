package btree

import (
	"github.com/txbtree/txbtree/pkg/convert"
	"github.com/txbtree/txbtree/pkg/txerr"
)

// Value is one component of a Key. Its dynamic type must match the
// corresponding Column's declared Type once ValidateKey has normalized it:
// int64, bool, string, or []byte.
type Value = any

// Key is a tuple with one Value per schema column, in column order (§3).
type Key []Value

// ValidateKey checks key against schema — arity, per-component
// castability into the declared column type, and variable-width length —
// and returns a normalized copy with every component cast to its column's
// canonical Go type (e.g. any integer-like value becomes int64).
func ValidateKey(schema RowSchema, key Key) (Key, error) {
	if len(key) != len(schema.Columns) {
		return nil, txerr.BadRequestf("btree: key has %d components, schema declares %d", len(key), len(schema.Columns))
	}
	out := make(Key, len(key))
	for i, col := range schema.Columns {
		v, err := castComponent(col, key[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func castComponent(col Column, v Value) (Value, error) {
	switch col.Type {
	case TypeInt64:
		i, ok := convert.ToInt64(v)
		if !ok {
			return nil, txerr.BadRequestf("btree: column %q: %v does not cast to int64", col.Name, v)
		}
		return i, nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, txerr.BadRequestf("btree: column %q: %v does not cast to bool", col.Name, v)
		}
		return b, nil
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, txerr.BadRequestf("btree: column %q: %v does not cast to string", col.Name, v)
		}
		if len(s) > col.MaxLen {
			return nil, txerr.BadRequestf("btree: column %q: string of %d bytes exceeds declared max length %d", col.Name, len(s), col.MaxLen)
		}
		return s, nil
	case TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, txerr.BadRequestf("btree: column %q: %v does not cast to bytes", col.Name, v)
		}
		if len(b) > col.MaxLen {
			return nil, txerr.BadRequestf("btree: column %q: byte string of %d bytes exceeds declared max length %d", col.Name, len(b), col.MaxLen)
		}
		return append([]byte{}, b...), nil
	default:
		return nil, txerr.Internalf("btree: column %q: unknown column type %v", col.Name, col.Type)
	}
}
