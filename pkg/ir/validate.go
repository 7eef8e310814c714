package ir

import (
	"errors"
	"fmt"
)

// Validate checks routine invariants and joins every violation found.
func Validate(r *Routine) error {
	if r == nil {
		return errors.New("nil routine")
	}
	if _, ok := r.Lookup(r.EntryVIP); !ok {
		return fmt.Errorf("entry block %s is not explored", r.EntryVIP)
	}

	var errs []error
	for _, block := range r.Blocks() {
		if err := validateBlock(r, block); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateBlock(r *Routine, block *BasicBlock) error {
	var errs []error
	if !block.Terminated() {
		errs = append(errs, fmt.Errorf("block %s: unterminated block", block.Entry))
	}
	for i, instr := range block.Stream {
		if instr.Op.IsBranch() && i != len(block.Stream)-1 {
			errs = append(errs, fmt.Errorf("block %s: %s at %d is not the last instruction", block.Entry, instr.Op, i))
		}
		if err := validateOperands(instr); err != nil {
			errs = append(errs, fmt.Errorf("block %s: instruction %d: %w", block.Entry, i, err))
			continue
		}
		for _, target := range instr.Targets() {
			switch {
			case target == InvalidVIP:
				errs = append(errs, fmt.Errorf("block %s: %s has an unresolved target", block.Entry, instr.Op))
			default:
				if _, ok := r.Lookup(target); !ok {
					errs = append(errs, fmt.Errorf("block %s: %s target %s does not exist", block.Entry, instr.Op, target))
				}
			}
		}
	}
	return errors.Join(errs...)
}

var operandCounts = map[Op]int{
	OpAdd: 2, OpSub: 2, OpLoad: 3, OpStore: 3, OpTe: 3, OpTne: 3,
	OpJs: 3, OpJmp: 1, OpVemit: 1, OpVpinr: 1, OpVpinw: 1, OpVexit: 1,
}

func validateOperands(instr *Instruction) error {
	want, ok := operandCounts[instr.Op]
	if !ok {
		return fmt.Errorf("unknown opcode %s", instr.Op)
	}
	if len(instr.Operands) != want {
		return fmt.Errorf("%s takes %d operands, has %d", instr.Op, want, len(instr.Operands))
	}
	switch instr.Op {
	case OpAdd, OpSub, OpLoad, OpTe, OpTne, OpJs, OpVpinr, OpVpinw:
		if !instr.Operands[0].IsReg() {
			return fmt.Errorf("%s destination must be a register", instr.Op)
		}
	case OpStore:
		if !instr.Operands[0].IsReg() {
			return fmt.Errorf("str base must be a register")
		}
	}
	return nil
}
