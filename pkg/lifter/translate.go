package lifter

import (
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/token"
)

// Step translates one instruction into the routine.
func (s *Session) Step(tok token.Token) error {
	if s.finished {
		return ErrFinished
	}
	switch tok.Type {
	case token.MoveRight:
		s.cur.Add(ir.TapeReg, ir.Imm(1, 64))
	case token.MoveLeft:
		s.cur.Sub(ir.TapeReg, ir.Imm(1, 64))
	case token.Inc:
		s.adjustCell(true)
	case token.Dec:
		s.adjustCell(false)
	case token.LoopOpen:
		if err := s.openLoop(tok); err != nil {
			return err
		}
	case token.LoopClose:
		if err := s.closeLoop(tok); err != nil {
			return err
		}
	case token.Output:
		s.cur.Ldd(ir.IOReg, ir.TapeReg, 0).Vpinr(ir.IOReg).Vemit('.')
	case token.Input:
		s.cur.Vemit(',').Vpinw(ir.IOReg).Str(ir.TapeReg, 0, ir.Reg(ir.IOReg))
	default:
		return nil
	}
	s.stats.Steps++
	return nil
}

func (s *Session) adjustCell(inc bool) {
	value := s.cur.Tmp(8)[0]
	s.cur.Ldd(value, ir.TapeReg, 0)
	if inc {
		s.cur.Add(value, ir.Imm(1, 8))
	} else {
		s.cur.Sub(value, ir.Imm(1, 8))
	}
	s.cur.Str(ir.TapeReg, 0, ir.Reg(value))
}
