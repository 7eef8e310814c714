package optimizer

import (
	"slices"

	"github.com/xplshn/bflift/pkg/ir"
)

type foldMoves struct{}

func (foldMoves) Name() string { return "fold-moves" }

func isTapeMove(instr *ir.Instruction) bool {
	return (instr.Op == ir.OpAdd || instr.Op == ir.OpSub) &&
		instr.Operands[0].Reg.Kind == ir.RegTape && instr.Operands[1].IsImm()
}

func (foldMoves) Run(rtn *ir.Routine) int {
	changes := 0
	for _, block := range rtn.Explored {
		var out []*ir.Instruction
		for i := 0; i < len(block.Stream); {
			if !isTapeMove(block.Stream[i]) {
				out = append(out, block.Stream[i])
				i++
				continue
			}
			var net int64
			j := i
			for ; j < len(block.Stream) && isTapeMove(block.Stream[j]); j++ {
				if block.Stream[j].Op == ir.OpAdd {
					net += int64(block.Stream[j].Operands[1].Imm)
				} else {
					net -= int64(block.Stream[j].Operands[1].Imm)
				}
			}
			switch {
			case net > 0:
				out = append(out, &ir.Instruction{Op: ir.OpAdd, Operands: []ir.Operand{ir.Reg(ir.TapeReg), ir.Imm(uint64(net), 64)}})
			case net < 0:
				out = append(out, &ir.Instruction{Op: ir.OpSub, Operands: []ir.Operand{ir.Reg(ir.TapeReg), ir.Imm(uint64(-net), 64)}})
			}
			if j-i > 1 || net == 0 {
				changes++
			}
			i = j
		}
		block.Stream = out
	}
	return changes
}

type foldCells struct{}

func (foldCells) Name() string { return "fold-cells" }

// cellUpdate matches "ldd t, tape, off; add|sub t, imm; str tape, off, t"
// at stream[i] and returns the offset and the update modulo 256.
func cellUpdate(stream []*ir.Instruction, i int) (uint64, uint8, bool) {
	if i+2 >= len(stream) {
		return 0, 0, false
	}
	ld, op, st := stream[i], stream[i+1], stream[i+2]
	if ld.Op != ir.OpLoad || ld.Operands[0].Reg.Kind != ir.RegTemp || ld.Operands[1].Reg.Kind != ir.RegTape {
		return 0, 0, false
	}
	tmp := ld.Operands[0].Reg
	if (op.Op != ir.OpAdd && op.Op != ir.OpSub) || !op.Operands[0].IsReg() || op.Operands[0].Reg != tmp || !op.Operands[1].IsImm() {
		return 0, 0, false
	}
	if st.Op != ir.OpStore || st.Operands[0].Reg.Kind != ir.RegTape || st.Operands[1].Imm != ld.Operands[2].Imm ||
		!st.Operands[2].IsReg() || st.Operands[2].Reg != tmp {
		return 0, 0, false
	}
	delta := uint8(op.Operands[1].Imm)
	if op.Op == ir.OpSub {
		delta = -delta
	}
	return ld.Operands[2].Imm, delta, true
}

func (foldCells) Run(rtn *ir.Routine) int {
	changes := 0
	for _, block := range rtn.Explored {
		var out []*ir.Instruction
		for i := 0; i < len(block.Stream); {
			off, net, ok := cellUpdate(block.Stream, i)
			if !ok {
				out = append(out, block.Stream[i])
				i++
				continue
			}
			first := block.Stream[i : i+3]
			j := i + 3
			for {
				nextOff, delta, ok := cellUpdate(block.Stream, j)
				if !ok || nextOff != off {
					break
				}
				net += delta
				j += 3
			}
			if j-i == 3 && net != 0 {
				out = append(out, first...)
				i = j
				continue
			}
			changes++
			if net != 0 {
				op := &ir.Instruction{Op: ir.OpAdd, Operands: []ir.Operand{first[1].Operands[0], ir.Imm(uint64(net), 8)}}
				if net > 128 {
					op = &ir.Instruction{Op: ir.OpSub, Operands: []ir.Operand{first[1].Operands[0], ir.Imm(uint64(-net), 8)}}
				}
				out = append(out, first[0], op, first[2])
			}
			i = j
		}
		block.Stream = out
	}
	return changes
}

type clearLoops struct{}

func (clearLoops) Name() string { return "clear-loops" }

// loopTest matches the three-instruction "cell != 0" test ending a block and
// returns its targets.
func loopTest(block *ir.BasicBlock) (taken, notTaken ir.VIP, ok bool) {
	n := len(block.Stream)
	if n < 3 {
		return 0, 0, false
	}
	ld, tne, js := block.Stream[n-3], block.Stream[n-2], block.Stream[n-1]
	if ld.Op != ir.OpLoad || ld.Operands[1].Reg.Kind != ir.RegTape || ld.Operands[2].Imm != 0 {
		return 0, 0, false
	}
	if tne.Op != ir.OpTne || tne.Operands[1] != ir.Reg(ld.Operands[0].Reg) || !tne.Operands[2].IsImm() || tne.Operands[2].Imm != 0 {
		return 0, 0, false
	}
	if js.Op != ir.OpJs || js.Operands[0] != ir.Reg(tne.Operands[0].Reg) {
		return 0, 0, false
	}
	return js.Operands[1].VIP(), js.Operands[2].VIP(), true
}

// Run rewrites loops whose whole body moves the current cell by an odd
// amount: such a loop always ends with the cell at zero. The body must be
// entered from its header only.
func (clearLoops) Run(rtn *ir.Routine) int {
	changes := 0
	preds := rtn.Predecessors()
	for _, header := range rtn.Blocks() {
		body, exit, ok := loopTest(header)
		if !ok || len(header.Stream) != 3 {
			continue
		}
		bodyBlock, ok := rtn.Lookup(body)
		if !ok || len(bodyBlock.Stream) != 6 || !slices.Equal(preds[body], []ir.VIP{header.Entry}) {
			continue
		}
		back, bodyExit, ok := loopTest(bodyBlock)
		if !ok || back != header.Entry || bodyExit != exit {
			continue
		}
		off, delta, ok := cellUpdate(bodyBlock.Stream, 0)
		if !ok || off != 0 || delta%2 == 0 {
			continue
		}
		header.Stream = []*ir.Instruction{
			{Op: ir.OpStore, Operands: []ir.Operand{ir.Reg(ir.TapeReg), ir.Imm(0, 64), ir.Imm(0, 8)}},
			{Op: ir.OpJmp, Operands: []ir.Operand{ir.Target(exit)}},
		}
		changes++
	}
	return changes
}

type pruneUnreachable struct{}

func (pruneUnreachable) Name() string { return "prune-unreachable" }

func (pruneUnreachable) Run(rtn *ir.Routine) int {
	reachable := map[ir.VIP]bool{rtn.EntryVIP: true}
	work := []ir.VIP{rtn.EntryVIP}
	for len(work) > 0 {
		vip := work[len(work)-1]
		work = work[:len(work)-1]
		block, ok := rtn.Lookup(vip)
		if !ok {
			continue
		}
		for _, succ := range block.Successors() {
			if !reachable[succ] {
				reachable[succ] = true
				work = append(work, succ)
			}
		}
	}

	changes := 0
	for _, vip := range rtn.SortedVIPs() {
		if !reachable[vip] {
			rtn.RemoveBlock(vip)
			changes++
		}
	}
	return changes
}
