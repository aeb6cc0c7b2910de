package relocation

import (
	"github.com/stubjit/stubjit/internal/codebuf"
)

// Reader iterates over a relocation stream from its first entry, i.e. from the high end of the
// compiled method downward. Code offsets are reconstructed by accumulating the entry deltas.
type Reader struct {
	cm *codebuf.CompiledMethod
	// pos is the header offset of the current entry.
	pos int
	// bottom is the lowest offset that belongs to the stream.
	bottom     int
	codeOffset int
	callInfo   []uint16
}

// NewReader returns a reader over the terminated stream ending at top, usually the object size.
func NewReader(cm *codebuf.CompiledMethod, top int) *Reader {
	return newReader(cm, top, 0)
}

// Reader returns a reader over the entries written so far. The stream needs no terminator.
func (w *Writer) Reader() *Reader {
	return newReader(w.cm, w.top, w.relocOffset+2)
}

func newReader(cm *codebuf.CompiledMethod, top, bottom int) *Reader {
	r := &Reader{cm: cm, pos: top - 2, bottom: bottom}
	r.skipCallInfo()
	r.updateCurrent()
	return r
}

func (r *Reader) current() uint16 {
	return r.cm.UshortFieldAt(r.pos)
}

func (r *Reader) skipCallInfo() {
	if r.pos < r.bottom || r.pos < 0 {
		return
	}
	v := r.current()
	if kind, _ := decode(v); kind != KindCallInfo || v == Sentinel {
		return
	}
	size := int(v & offsetMask)
	r.callInfo = make([]uint16, size/2)
	for i := range r.callInfo {
		r.callInfo[i] = r.cm.UshortFieldAt(r.pos - 2 - 2*i)
	}
	r.pos -= 2 + size
}

func (r *Reader) updateCurrent() {
	if r.AtEnd() {
		return
	}
	_, delta := decode(r.current())
	r.codeOffset += delta
}

// AtEnd returns true once every entry has been visited.
func (r *Reader) AtEnd() bool {
	return r.pos < r.bottom || r.pos < 0 || r.current() == Sentinel
}

// Position returns the header offset of the current entry.
func (r *Reader) Position() int {
	return r.pos
}

// Kind returns the kind of the current entry.
func (r *Reader) Kind() Kind {
	kind, _ := decode(r.current())
	return kind
}

// CodeOffset returns the code offset of the current entry.
func (r *Reader) CodeOffset() int {
	return r.codeOffset
}

// BCI returns the bytecode index of the current osr stub entry.
func (r *Reader) BCI() int {
	return int(r.cm.UshortFieldAt(r.pos - 2))
}

// Payload returns the extra ushort of npe item and pre load entries.
func (r *Reader) Payload() int {
	return int(r.cm.UshortFieldAt(r.pos - 2))
}

// IsPadding returns true if the current entry is a comment with no characters.
func (r *Reader) IsPadding() bool {
	return r.Kind() == KindComment && r.cm.UshortFieldAt(r.pos-2) == 0
}

// Comment returns the text of the current comment entry.
func (r *Reader) Comment() string {
	n := int(r.cm.UshortFieldAt(r.pos - 2))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.cm.UshortFieldAt(r.pos - 4 - 2*i))
	}
	return string(b)
}

// CallInfo returns the call info table, or nil if the stream has none.
func (r *Reader) CallInfo() []uint16 {
	return r.callInfo
}

// entrySize returns the number of bytes of the current entry including its payload.
func (r *Reader) entrySize() int {
	switch k := r.Kind(); {
	case k.hasPayload():
		return 4
	case k == KindComment:
		return 4 + 2*int(r.cm.UshortFieldAt(r.pos-2))
	case k == KindCallInfo:
		panic("BUG: call info must be skipped")
	}
	return 2
}

// Advance moves to the next entry.
func (r *Reader) Advance() {
	r.pos -= r.entrySize()
	r.updateCurrent()
}

// Entry is a decoded relocation entry.
type Entry struct {
	Kind       Kind
	CodeOffset int
	// Position is the offset of the entry header in the compiled method.
	Position int
	// BCI is set for osr stub entries.
	BCI int
	// Payload is set for npe item and pre load entries.
	Payload int
	Comment string
	Padding bool
}

// Current decodes the current entry.
func (r *Reader) Current() Entry {
	e := Entry{Kind: r.Kind(), CodeOffset: r.codeOffset, Position: r.pos}
	switch e.Kind {
	case KindOSRStub:
		e.BCI = r.BCI()
	case KindNPEItem, KindPreLoad:
		e.Payload = r.Payload()
	case KindComment:
		e.Padding = r.IsPadding()
		e.Comment = r.Comment()
	}
	return e
}

// Entries decodes every remaining entry in stream order.
func (r *Reader) Entries() []Entry {
	var ret []Entry
	for ; !r.AtEnd(); r.Advance() {
		ret = append(ret, r.Current())
	}
	return ret
}

// KindAt returns the kind of the first entry at codeOffset, ignoring padding, or NoRelocation.
func KindAt(cm *codebuf.CompiledMethod, top, codeOffset int) Kind {
	for r := NewReader(cm, top); !r.AtEnd(); r.Advance() {
		if r.CodeOffset() == codeOffset && !r.IsPadding() {
			return r.Kind()
		}
	}
	return NoRelocation
}

// CodeLength returns the number of bytes of the terminated stream ending at top, including the
// terminator.
func CodeLength(cm *codebuf.CompiledMethod, top int) int {
	r := NewReader(cm, top)
	for !r.AtEnd() {
		r.Advance()
	}
	return top - r.pos
}
