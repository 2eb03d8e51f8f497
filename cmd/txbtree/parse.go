package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/txbtree/txbtree/pkg/btree"
	"github.com/txbtree/txbtree/pkg/txerr"
)

// parseComponent converts one command-line string into the Go value
// ValidateKey expects for col's declared type.
func parseComponent(col btree.Column, s string) (btree.Value, error) {
	switch col.Type {
	case btree.TypeInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, txerr.BadRequestf("column %q: %q is not an integer", col.Name, s)
		}
		return n, nil
	case btree.TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, txerr.BadRequestf("column %q: %q is not a boolean", col.Name, s)
		}
		return b, nil
	case btree.TypeString:
		return s, nil
	case btree.TypeBytes:
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, txerr.BadRequestf("column %q: %q is not valid hex", col.Name, s)
		}
		return b, nil
	default:
		return nil, txerr.Internalf("column %q: unknown type", col.Name)
	}
}

// parseKey converts a full set of positional arguments, one per schema
// column, into a btree.Key.
func parseKey(schema btree.RowSchema, args []string) (btree.Key, error) {
	if len(args) != len(schema.Columns) {
		return nil, txerr.BadRequestf("expected %d key components, got %d", len(schema.Columns), len(args))
	}
	key := make(btree.Key, len(args))
	for i, col := range schema.Columns {
		v, err := parseComponent(col, args[i])
		if err != nil {
			return nil, err
		}
		key[i] = v
	}
	return key, nil
}

// parseRange builds a btree.Range from --prefix/--start/--end flag
// values, each of which names at most one column beyond the prefix.
func parseRange(schema btree.RowSchema, prefix, start, end []string) (btree.Range, error) {
	if len(prefix) > len(schema.Columns) {
		return btree.Range{}, txerr.BadRequestf("--prefix has more components than the schema declares")
	}
	pfx := make(btree.Key, len(prefix))
	for i, s := range prefix {
		v, err := parseComponent(schema.Columns[i], s)
		if err != nil {
			return btree.Range{}, err
		}
		pfx[i] = v
	}
	boundCol := len(prefix)

	rng := btree.Range{Prefix: pfx}
	if len(start) > 0 {
		if boundCol >= len(schema.Columns) {
			return btree.Range{}, txerr.BadRequestf("--start has no column left to bound")
		}
		v, err := parseComponent(schema.Columns[boundCol], start[0])
		if err != nil {
			return btree.Range{}, err
		}
		rng.Start = &v
	}
	if len(end) > 0 {
		if boundCol >= len(schema.Columns) {
			return btree.Range{}, txerr.BadRequestf("--end has no column left to bound")
		}
		v, err := parseComponent(schema.Columns[boundCol], end[0])
		if err != nil {
			return btree.Range{}, err
		}
		rng.End = &v
	}
	return rng, nil
}

// formatKey renders a key for CLI output as space-separated components.
func formatKey(key btree.Key) string {
	out := ""
	for i, v := range key {
		if i > 0 {
			out += " "
		}
		switch val := v.(type) {
		case []byte:
			out += hex.EncodeToString(val)
		default:
			out += fmt.Sprintf("%v", val)
		}
	}
	return out
}
