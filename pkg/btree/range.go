package btree

// Range selects a contiguous span of keys for range reads and range
// deletes (§4.3, §6). Prefix must match exactly on its leading columns;
// Start/End then bound the single column immediately after the prefix,
// inclusive and exclusive respectively. Columns beyond that bound are
// unconstrained. A zero-value Range (empty Prefix, nil Start and End)
// matches every key in the tree.
type Range struct {
	Prefix Key
	Start  *Value
	End    *Value
}

// Full returns the range matching every key.
func Full() Range { return Range{} }

func (r Range) lowerBoundary() Key {
	if r.Start == nil {
		return r.Prefix
	}
	b := make(Key, 0, len(r.Prefix)+1)
	b = append(b, r.Prefix...)
	b = append(b, *r.Start)
	return b
}

func (r Range) upperBoundary() (Key, bool) {
	if r.End == nil {
		return nil, false
	}
	b := make(Key, 0, len(r.Prefix)+1)
	b = append(b, r.Prefix...)
	b = append(b, *r.End)
	return b, true
}

// Matches reports whether key falls within the range under collator c.
func (r Range) Matches(c Collator, schema RowSchema, key Key) bool {
	if c.ComparePrefix(schema, key, r.Prefix, len(r.Prefix)) != Equal {
		return false
	}
	if r.Start != nil {
		lower := r.lowerBoundary()
		if c.ComparePrefix(schema, key, lower, len(lower)) == Less {
			return false
		}
	}
	if upper, ok := r.upperBoundary(); ok {
		if c.ComparePrefix(schema, key, upper, len(upper)) != Less {
			return false
		}
	}
	return true
}
