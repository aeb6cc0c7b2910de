package relocation

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/stubjit/stubjit/internal/codebuf"
)

// Verify checks the invariants of the terminated stream ending at top and returns every
// violation found:
//   - oop entries come before any other entry, padding excepted;
//   - oop entries have strictly ascending code offsets;
//   - every entry kind is known and call info only appears first;
//   - the stream ends with the terminator without running into codeEnd.
func Verify(cm *codebuf.CompiledMethod, top, codeEnd int) (err error) {
	r := newReader(cm, top, codeEnd)
	seenOther := false
	lastOop := -1
	for ; !r.AtEnd(); r.Advance() {
		kind := r.Kind()
		switch {
		case kind == KindCallInfo:
			return multierr.Append(err, fmt.Errorf("call info entry at %d is not first", r.Position()))
		case kind == KindOop:
			if seenOther {
				err = multierr.Append(err, fmt.Errorf("oop@%d follows a non-oop entry", r.CodeOffset()))
			}
			if r.CodeOffset() <= lastOop {
				err = multierr.Append(err, fmt.Errorf("oop@%d is not after oop@%d", r.CodeOffset(), lastOop))
			}
			lastOop = r.CodeOffset()
		case kind == KindComment:
			n := int(cm.UshortFieldAt(r.Position() - 2))
			if r.Position()-2-2*n < codeEnd {
				return multierr.Append(err, fmt.Errorf("comment at %d runs into code", r.Position()))
			}
			if n > 0 {
				seenOther = true
			}
		default:
			seenOther = true
		}
		if r.CodeOffset() < 0 || r.CodeOffset() > codeEnd {
			err = multierr.Append(err, fmt.Errorf("%s entry at %d has code offset %d outside of [0, %d]",
				kind, r.Position(), r.CodeOffset(), codeEnd))
		}
	}
	if r.pos < codeEnd || r.pos < 0 {
		err = multierr.Append(err, fmt.Errorf("stream is not terminated above code end %d", codeEnd))
	}
	return err
}
