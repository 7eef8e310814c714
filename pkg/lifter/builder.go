package lifter

import (
	"fmt"

	"github.com/xplshn/bflift/pkg/ir"
)

// builder owns the growing block graph: the routine, the cursor block and
// the last address handed out.
type builder struct {
	rtn *ir.Routine
	cur *ir.BasicBlock
	vip ir.VIP
}

func newBuilder(entry ir.VIP) builder {
	block := ir.Begin(entry)
	return builder{rtn: block.Owner(), cur: block, vip: entry}
}

// peek returns the address the next fork will allocate.
func (b *builder) peek() ir.VIP { return b.vip + 1 }

// fork seals the cursor, allocates the next address and moves the cursor
// onto a freshly registered block there.
func (b *builder) fork() error {
	next := b.peek()
	block, err := b.cur.Fork(next)
	if err != nil {
		return fmt.Errorf("fork %s -> %s: %w", b.cur.Entry, next, err)
	}
	b.vip = next
	b.cur = block
	return nil
}
