package codegen

import (
	"fmt"
	"strings"

	"fortio.org/safecast"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
)

type qbeBackend struct {
	out     *strings.Builder
	rtn     *ir.Routine
	cfg     *config.Config
	scratch int
}

func NewQBEBackend() Backend { return &qbeBackend{} }

// GenerateIR lowers rtn into a QBE module exporting main. The tape is a
// zeroed data object and the tape register becomes a pointer into it.
func (b *qbeBackend) GenerateIR(rtn *ir.Routine, cfg *config.Config) (string, error) {
	if err := ir.Validate(rtn); err != nil {
		return "", fmt.Errorf("refusing to lower an invalid routine: %w", err)
	}
	var sb strings.Builder
	b.out, b.rtn, b.cfg, b.scratch = &sb, rtn, cfg, 0

	tapeSize, err := safecast.Conv[uint32](cfg.TapeSize)
	if err != nil || tapeSize == 0 {
		return "", fmt.Errorf("invalid tape size %d", cfg.TapeSize)
	}

	fmt.Fprintf(b.out, "data $tape = align 8 { z %d }\n\n", tapeSize)
	b.out.WriteString("export function w $main() {\n")
	b.out.WriteString("@start\n")
	fmt.Fprintf(b.out, "\t%%ptr =%s copy $tape\n", cfg.WordType)
	fmt.Fprintf(b.out, "\tjmp %s\n", label(rtn.EntryVIP))

	for _, block := range rtn.Blocks() {
		fmt.Fprintf(b.out, "%s\n", label(block.Entry))
		for _, instr := range block.Stream {
			if err := b.genInstr(instr); err != nil {
				return "", fmt.Errorf("block %s: %s: %w", block.Entry, instr, err)
			}
		}
	}
	b.out.WriteString("}\n")
	return sb.String(), nil
}

func label(vip ir.VIP) string { return fmt.Sprintf("@b%d", uint64(vip)) }

func (b *qbeBackend) tmp() string {
	b.scratch++
	return fmt.Sprintf("%%x%d", b.scratch)
}

func (b *qbeBackend) reg(r ir.Register) string {
	switch r.Kind {
	case ir.RegTape:
		return "%ptr"
	case ir.RegIO:
		return "%io"
	default:
		return fmt.Sprintf("%%t%d", r.ID)
	}
}

func (b *qbeBackend) typeOf(r ir.Register) string {
	if r.Kind == ir.RegTape { return b.cfg.WordType }
	return "w"
}

func (b *qbeBackend) value(o ir.Operand) (string, error) {
	if o.IsReg() { return b.reg(o.Reg), nil }
	v, err := safecast.Conv[int64](o.Imm)
	if err != nil { return "", fmt.Errorf("immediate 0x%x does not fit a QBE constant", o.Imm) }
	return fmt.Sprintf("%d", v), nil
}

// address materializes base+off as a pointer.
func (b *qbeBackend) address(base, off ir.Operand) (string, error) {
	ptr, err := b.value(base)
	if err != nil { return "", err }
	if off.Imm == 0 { return ptr, nil }
	o, err := b.value(off)
	if err != nil { return "", err }
	addr := b.tmp()
	fmt.Fprintf(b.out, "\t%s =%s add %s, %s\n", addr, b.cfg.WordType, ptr, o)
	return addr, nil
}

func (b *qbeBackend) arith(qop string, instr *ir.Instruction) error {
	dst := instr.Operands[0].Reg
	rhs, err := b.value(instr.Operands[1])
	if err != nil { return err }
	fmt.Fprintf(b.out, "\t%s =%s %s %s, %s\n", b.reg(dst), b.typeOf(dst), qop, b.reg(dst), rhs)
	if dst.Kind != ir.RegTape && dst.Bits > 0 && dst.Bits < 32 {
		fmt.Fprintf(b.out, "\t%s =w and %s, %d\n", b.reg(dst), b.reg(dst), uint32(1)<<dst.Bits-1)
	}
	return nil
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) error {
	ops := instr.Operands
	switch instr.Op {
	case ir.OpAdd:
		return b.arith("add", instr)
	case ir.OpSub:
		return b.arith("sub", instr)
	case ir.OpLoad:
		addr, err := b.address(ops[1], ops[2])
		if err != nil { return err }
		fmt.Fprintf(b.out, "\t%s =w loadub %s\n", b.reg(ops[0].Reg), addr)
	case ir.OpStore:
		addr, err := b.address(ops[0], ops[1])
		if err != nil { return err }
		v, err := b.value(ops[2])
		if err != nil { return err }
		fmt.Fprintf(b.out, "\tstoreb %s, %s\n", v, addr)
	case ir.OpTe, ir.OpTne:
		cmp := "ceqw"
		if instr.Op == ir.OpTne { cmp = "cnew" }
		lhs, err := b.value(ops[1])
		if err != nil { return err }
		rhs, err := b.value(ops[2])
		if err != nil { return err }
		fmt.Fprintf(b.out, "\t%s =w %s %s, %s\n", b.reg(ops[0].Reg), cmp, lhs, rhs)
	case ir.OpJs:
		fmt.Fprintf(b.out, "\tjnz %s, %s, %s\n", b.reg(ops[0].Reg), label(ops[1].VIP()), label(ops[2].VIP()))
	case ir.OpJmp:
		fmt.Fprintf(b.out, "\tjmp %s\n", label(ops[0].VIP()))
	case ir.OpVemit:
		return b.genVemit(byte(ops[0].Imm))
	case ir.OpVpinr, ir.OpVpinw:
		// QBE sees the register flowing through the call, nothing to pin.
	case ir.OpVexit:
		code, err := b.value(ops[0])
		if err != nil { return err }
		fmt.Fprintf(b.out, "\tret %s\n", code)
	default:
		return fmt.Errorf("unsupported opcode %s", instr.Op)
	}
	return nil
}

func (b *qbeBackend) genVemit(code byte) error {
	switch code {
	case '.':
		b.out.WriteString("\tcall $putchar(w %io)\n")
	case ',':
		// getchar returns -1 at end of input; clamp it to 0.
		neg, keep := b.tmp(), b.tmp()
		b.out.WriteString("\t%io =w call $getchar()\n")
		fmt.Fprintf(b.out, "\t%s =w csltw %%io, 0\n", neg)
		fmt.Fprintf(b.out, "\t%s =w sub %s, 1\n", keep, neg)
		fmt.Fprintf(b.out, "\t%%io =w and %%io, %s\n", keep)
	default:
		return fmt.Errorf("unknown vemit code %q", code)
	}
	return nil
}
