package ir

import (
	"fmt"
	"slices"
)

// BasicBlock is a straight-line instruction stream entered at Entry. Its
// last instruction, once present, is the only branch in the stream.
type BasicBlock struct {
	Entry  VIP
	Stream []*Instruction
	owner  *Routine
}

// Routine owns every explored block, keyed by entry address.
type Routine struct {
	EntryVIP  VIP
	Explored  map[VIP]*BasicBlock
	TempCount int
}

func NewRoutine(entry VIP) *Routine {
	return &Routine{EntryVIP: entry, Explored: make(map[VIP]*BasicBlock)}
}

// Begin creates a routine together with its entry block.
func Begin(entry VIP) *BasicBlock {
	rtn := NewRoutine(entry)
	block, _ := rtn.CreateBlock(entry)
	return block
}

func (r *Routine) CreateBlock(vip VIP) (*BasicBlock, error) {
	if vip == InvalidVIP {
		return nil, fmt.Errorf("cannot create block at invalid address")
	}
	if _, exists := r.Explored[vip]; exists {
		return nil, fmt.Errorf("block %s already explored", vip)
	}
	block := &BasicBlock{Entry: vip, owner: r}
	r.Explored[vip] = block
	return block, nil
}

// Adopt registers a block that was built outside of CreateBlock, e.g. one
// read back from an artifact.
func (r *Routine) Adopt(block *BasicBlock) error {
	if _, exists := r.Explored[block.Entry]; exists {
		return fmt.Errorf("block %s already explored", block.Entry)
	}
	block.owner = r
	r.Explored[block.Entry] = block
	return nil
}

func (r *Routine) Lookup(vip VIP) (*BasicBlock, bool) {
	block, ok := r.Explored[vip]
	return block, ok
}

func (r *Routine) Entry() *BasicBlock { return r.Explored[r.EntryVIP] }

func (r *Routine) RemoveBlock(vip VIP) { delete(r.Explored, vip) }

func (r *Routine) NumBlocks() int { return len(r.Explored) }

func (r *Routine) SortedVIPs() []VIP {
	vips := make([]VIP, 0, len(r.Explored))
	for vip := range r.Explored {
		vips = append(vips, vip)
	}
	slices.Sort(vips)
	return vips
}

// Blocks returns the explored blocks in address order.
func (r *Routine) Blocks() []*BasicBlock {
	vips := r.SortedVIPs()
	blocks := make([]*BasicBlock, len(vips))
	for i, vip := range vips {
		blocks[i] = r.Explored[vip]
	}
	return blocks
}

func (r *Routine) NumInstructions() int {
	n := 0
	for _, block := range r.Explored {
		n += len(block.Stream)
	}
	return n
}

// Predecessors maps each block to the blocks branching into it.
func (r *Routine) Predecessors() map[VIP][]VIP {
	preds := make(map[VIP][]VIP, len(r.Explored))
	for _, block := range r.Blocks() {
		for _, succ := range block.Successors() {
			if !slices.Contains(preds[succ], block.Entry) {
				preds[succ] = append(preds[succ], block.Entry)
			}
		}
	}
	return preds
}

func (r *Routine) NewTemp(bits int) Register {
	reg := Register{Kind: RegTemp, ID: r.TempCount, Bits: bits}
	r.TempCount++
	return reg
}

func (b *BasicBlock) Owner() *Routine { return b.owner }

func (b *BasicBlock) Last() *Instruction {
	if len(b.Stream) == 0 {
		return nil
	}
	return b.Stream[len(b.Stream)-1]
}

func (b *BasicBlock) Terminated() bool {
	last := b.Last()
	return last != nil && last.Op.IsBranch()
}

func (b *BasicBlock) Successors() []VIP {
	last := b.Last()
	if last == nil {
		return nil
	}
	var succs []VIP
	for _, t := range last.Targets() {
		if t != InvalidVIP && !slices.Contains(succs, t) {
			succs = append(succs, t)
		}
	}
	return succs
}

// Tmp allocates fresh temporaries of the given widths from the owning routine.
func (b *BasicBlock) Tmp(bits ...int) []Register {
	regs := make([]Register, len(bits))
	for i, n := range bits {
		regs[i] = b.owner.NewTemp(n)
	}
	return regs
}

func (b *BasicBlock) push(op Op, operands ...Operand) *BasicBlock {
	if b.Terminated() {
		panic(fmt.Sprintf("ir: %s appended to terminated block %s", op, b.Entry))
	}
	b.Stream = append(b.Stream, &Instruction{Op: op, Operands: operands})
	return b
}

func (b *BasicBlock) Add(dst Register, v Operand) *BasicBlock {
	return b.push(OpAdd, Reg(dst), v)
}

func (b *BasicBlock) Sub(dst Register, v Operand) *BasicBlock {
	return b.push(OpSub, Reg(dst), v)
}

// Ldd loads dst from [base+off].
func (b *BasicBlock) Ldd(dst, base Register, off int64) *BasicBlock {
	return b.push(OpLoad, Reg(dst), Reg(base), Imm(uint64(off), 64))
}

// Str stores v to [base+off].
func (b *BasicBlock) Str(base Register, off int64, v Operand) *BasicBlock {
	return b.push(OpStore, Reg(base), Imm(uint64(off), 64), v)
}

func (b *BasicBlock) Tne(dst Register, lhs, rhs Operand) *BasicBlock {
	return b.push(OpTne, Reg(dst), lhs, rhs)
}

// Js branches to taken when cond is set, to notTaken otherwise.
func (b *BasicBlock) Js(cond Register, taken, notTaken VIP) *BasicBlock {
	return b.push(OpJs, Reg(cond), Target(taken), Target(notTaken))
}

func (b *BasicBlock) Jmp(target VIP) *BasicBlock {
	return b.push(OpJmp, Target(target))
}

// Vemit hands one byte of opaque host interaction to the consumer.
func (b *BasicBlock) Vemit(code byte) *BasicBlock {
	return b.push(OpVemit, Imm(uint64(code), 8))
}

// Vpinr marks r as read by the host so passes keep its definition.
func (b *BasicBlock) Vpinr(r Register) *BasicBlock { return b.push(OpVpinr, Reg(r)) }

// Vpinw marks r as written by the host.
func (b *BasicBlock) Vpinw(r Register) *BasicBlock { return b.push(OpVpinw, Reg(r)) }

func (b *BasicBlock) Vexit(code uint64) *BasicBlock {
	return b.push(OpVexit, Imm(code, 64))
}

// Fork seals b with a jump to vip when it has no terminator yet, then
// creates and registers the block at vip.
func (b *BasicBlock) Fork(vip VIP) (*BasicBlock, error) {
	if !b.Terminated() {
		b.Jmp(vip)
	}
	return b.owner.CreateBlock(vip)
}
