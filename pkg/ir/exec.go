package ir

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var ErrStepLimit = errors.New("step limit exceeded")

type ExecOptions struct {
	TapeSize int
	Input    io.Reader
	Output   io.Writer
	// StepLimit bounds executed instructions; zero means unbounded.
	StepLimit int
}

type machine struct {
	rtn   *Routine
	tape  []byte
	ptr   int64
	temps map[int]uint64
	io    uint64
	in    *bufio.Reader
	out   *bufio.Writer
}

// Execute interprets the routine from its entry block until vexit.
func Execute(r *Routine, opts ExecOptions) error {
	if opts.TapeSize <= 0 {
		return fmt.Errorf("tape size must be positive, got %d", opts.TapeSize)
	}
	m := &machine{rtn: r, tape: make([]byte, opts.TapeSize), temps: make(map[int]uint64)}
	if opts.Input != nil {
		m.in = bufio.NewReader(opts.Input)
	}
	if opts.Output != nil {
		m.out = bufio.NewWriter(opts.Output)
	}

	err := m.run(opts.StepLimit)
	if m.out != nil {
		if ferr := m.out.Flush(); err == nil {
			err = ferr
		}
	}
	return err
}

func (m *machine) run(limit int) error {
	vip := m.rtn.EntryVIP
	steps := 0
	for {
		block, ok := m.rtn.Lookup(vip)
		if !ok {
			return fmt.Errorf("jump to unexplored block %s", vip)
		}
		next := InvalidVIP
		for _, instr := range block.Stream {
			steps++
			if limit > 0 && steps > limit {
				return ErrStepLimit
			}
			target, exit, err := m.step(instr)
			if err != nil {
				return fmt.Errorf("block %s: %s: %w", block.Entry, instr, err)
			}
			if exit {
				return nil
			}
			if target != InvalidVIP {
				next = target
				break
			}
		}
		if next == InvalidVIP {
			return fmt.Errorf("block %s falls off its end", block.Entry)
		}
		vip = next
	}
}

func mask(v uint64, bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return v
	}
	return v & (1<<uint(bits) - 1)
}

func (m *machine) value(o Operand) uint64 {
	if o.IsImm() {
		return o.Imm
	}
	switch o.Reg.Kind {
	case RegTape:
		return uint64(m.ptr)
	case RegIO:
		return m.io
	default:
		return m.temps[o.Reg.ID]
	}
}

func (m *machine) set(r Register, v uint64) {
	switch r.Kind {
	case RegTape:
		m.ptr = int64(v)
	case RegIO:
		m.io = mask(v, r.Bits)
	default:
		m.temps[r.ID] = mask(v, r.Bits)
	}
}

func (m *machine) cell(base Operand, off Operand) (int64, error) {
	addr := int64(m.value(base)) + int64(off.Imm)
	if addr < 0 || addr >= int64(len(m.tape)) {
		return 0, fmt.Errorf("tape access at %d out of range [0,%d)", addr, len(m.tape))
	}
	return addr, nil
}

// step returns the branch target when instr transfers control.
func (m *machine) step(instr *Instruction) (VIP, bool, error) {
	ops := instr.Operands
	switch instr.Op {
	case OpAdd:
		m.set(ops[0].Reg, m.value(ops[0])+m.value(ops[1]))
	case OpSub:
		m.set(ops[0].Reg, m.value(ops[0])-m.value(ops[1]))
	case OpLoad:
		addr, err := m.cell(ops[1], ops[2])
		if err != nil {
			return InvalidVIP, false, err
		}
		m.set(ops[0].Reg, uint64(m.tape[addr]))
	case OpStore:
		addr, err := m.cell(ops[0], ops[1])
		if err != nil {
			return InvalidVIP, false, err
		}
		m.tape[addr] = byte(m.value(ops[2]))
	case OpTe, OpTne:
		bits := max(ops[1].Bits, ops[2].Bits)
		eq := mask(m.value(ops[1]), bits) == mask(m.value(ops[2]), bits)
		var v uint64
		if eq == (instr.Op == OpTe) {
			v = 1
		}
		m.set(ops[0].Reg, v)
	case OpJs:
		if m.value(ops[0]) != 0 {
			return ops[1].VIP(), false, nil
		}
		return ops[2].VIP(), false, nil
	case OpJmp:
		return ops[0].VIP(), false, nil
	case OpVemit:
		return InvalidVIP, false, m.emit(byte(ops[0].Imm))
	case OpVpinr, OpVpinw:
	case OpVexit:
		return InvalidVIP, true, nil
	default:
		return InvalidVIP, false, fmt.Errorf("unknown opcode %s", instr.Op)
	}
	return InvalidVIP, false, nil
}

// emit performs host I/O: '.' writes io, ',' reads into io (0 at EOF).
func (m *machine) emit(code byte) error {
	switch code {
	case '.':
		if m.out != nil {
			return m.out.WriteByte(byte(m.io))
		}
	case ',':
		m.io = 0
		if m.in == nil {
			return nil
		}
		b, err := m.in.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		m.io = uint64(b)
	default:
		return fmt.Errorf("unknown vemit code %q", code)
	}
	return nil
}
