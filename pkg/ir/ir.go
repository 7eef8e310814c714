package ir

import (
	"fmt"
	"strings"
)

// VIP is the virtual instruction pointer naming a basic block's entry.
type VIP uint64

// InvalidVIP marks a branch target that has not been resolved yet.
const InvalidVIP VIP = ^VIP(0)

func (v VIP) String() string {
	if v == InvalidVIP {
		return "<invalid>"
	}
	return fmt.Sprintf("0x%x", uint64(v))
}

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpLoad
	OpStore
	OpTe
	OpTne
	OpJs
	OpJmp
	OpVemit
	OpVpinr
	OpVpinw
	OpVexit
)

var opNames = [...]string{
	OpAdd:   "add",
	OpSub:   "sub",
	OpLoad:  "ldd",
	OpStore: "str",
	OpTe:    "te",
	OpTne:   "tne",
	OpJs:    "js",
	OpJmp:   "jmp",
	OpVemit: "vemit",
	OpVpinr: "vpinr",
	OpVpinw: "vpinw",
	OpVexit: "vexit",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsBranch reports whether o ends a basic block.
func (o Op) IsBranch() bool { return o == OpJs || o == OpJmp || o == OpVexit }

type RegKind uint8

const (
	RegTape RegKind = iota // tape pointer
	RegTemp
	RegIO // byte exchanged with the host by vemit
)

type Register struct {
	Kind RegKind
	ID   int
	Bits int
}

var (
	TapeReg = Register{Kind: RegTape, Bits: 64}
	IOReg   = Register{Kind: RegIO, Bits: 8}
)

func (r Register) String() string {
	switch r.Kind {
	case RegTape:
		return "tape"
	case RegIO:
		return "io"
	default:
		return fmt.Sprintf("t%d", r.ID)
	}
}

type OperandKind uint8

const (
	OperandReg OperandKind = iota
	OperandImm
)

type Operand struct {
	Kind OperandKind
	Reg  Register
	Imm  uint64
	Bits int
}

func Reg(r Register) Operand { return Operand{Kind: OperandReg, Reg: r, Bits: r.Bits} }

func Imm(v uint64, bits int) Operand { return Operand{Kind: OperandImm, Imm: v, Bits: bits} }

// Target encodes a block address as a branch operand.
func Target(v VIP) Operand { return Imm(uint64(v), 64) }

func (o Operand) IsReg() bool { return o.Kind == OperandReg }
func (o Operand) IsImm() bool { return o.Kind == OperandImm }
func (o Operand) VIP() VIP    { return VIP(o.Imm) }

func (o Operand) String() string {
	if o.IsReg() {
		return o.Reg.String()
	}
	return fmt.Sprintf("0x%x", o.Imm)
}

type Instruction struct {
	Op       Op
	Operands []Operand
}

func (i *Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s", i.Op)
	for n, op := range i.Operands {
		if n > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		if (i.Op == OpJs && n > 0) || i.Op == OpJmp {
			sb.WriteString(op.VIP().String())
			continue
		}
		sb.WriteString(op.String())
	}
	return strings.TrimRight(sb.String(), " ")
}

// Targets returns the branch destinations of a js or jmp instruction, or nil
// when the instruction is short of operands.
func (i *Instruction) Targets() []VIP {
	switch {
	case i.Op == OpJs && len(i.Operands) >= 3:
		return []VIP{i.Operands[1].VIP(), i.Operands[2].VIP()}
	case i.Op == OpJmp && len(i.Operands) >= 1:
		return []VIP{i.Operands[0].VIP()}
	}
	return nil
}
