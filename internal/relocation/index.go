package relocation

import (
	"github.com/google/btree"
)

// Index orders relocation entries by code offset. The stream itself is ordered by kind class,
// oops first, so listings and lookups by offset go through an Index.
type Index struct {
	tree *btree.BTreeG[Entry]
}

func lessEntry(a, b Entry) bool {
	if a.CodeOffset != b.CodeOffset {
		return a.CodeOffset < b.CodeOffset
	}
	// Stream order among entries at the same offset.
	return a.Position > b.Position
}

// NewIndex indexes the remaining entries of r, skipping padding.
func NewIndex(r *Reader) *Index {
	idx := &Index{tree: btree.NewG[Entry](8, lessEntry)}
	for ; !r.AtEnd(); r.Advance() {
		if r.IsPadding() {
			continue
		}
		idx.tree.ReplaceOrInsert(r.Current())
	}
	return idx
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Lookup returns the entries at codeOffset in stream order.
func (idx *Index) Lookup(codeOffset int) []Entry {
	var ret []Entry
	idx.tree.AscendGreaterOrEqual(Entry{CodeOffset: codeOffset, Position: int(^uint(0) >> 1)}, func(e Entry) bool {
		if e.CodeOffset != codeOffset {
			return false
		}
		ret = append(ret, e)
		return true
	})
	return ret
}

// Ascend calls fn for each entry in code offset order until fn returns false.
func (idx *Index) Ascend(fn func(Entry) bool) {
	idx.tree.Ascend(fn)
}

// Range calls fn for each entry with from <= code offset < to.
func (idx *Index) Range(from, to int, fn func(Entry) bool) {
	maxPos := int(^uint(0) >> 1)
	idx.tree.AscendRange(Entry{CodeOffset: from, Position: maxPos}, Entry{CodeOffset: to, Position: maxPos}, fn)
}
