package lifter

import (
	"fmt"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/token"
	"github.com/xplshn/bflift/pkg/util"
)

// pendingLoop is an open '[' whose header still branches to InvalidVIP.
type pendingLoop struct {
	header ir.VIP
	tok    token.Token
}

// emitTest appends "cell != 0 ? taken : notTaken" to the cursor block.
func (s *Session) emitTest(taken, notTaken ir.VIP) {
	regs := s.cur.Tmp(8, 1)
	value, cond := regs[0], regs[1]
	s.cur.Ldd(value, ir.TapeReg, 0).
		Tne(cond, ir.Reg(value), ir.Imm(0, 8)).
		Js(cond, taken, notTaken)
}

func (s *Session) openLoop(tok token.Token) error {
	// The back edge re-enters the header, so it must hold nothing but the test.
	if len(s.cur.Stream) > 0 {
		if err := s.fork(); err != nil {
			return err
		}
	}

	header := s.cur.Entry
	s.emitTest(s.peek(), ir.InvalidVIP)
	s.pending = append(s.pending, pendingLoop{header: header, tok: tok})
	s.stats.MaxDepth = max(s.stats.MaxDepth, len(s.pending))
	return s.fork()
}

func (s *Session) closeLoop(tok token.Token) error {
	if len(s.pending) == 0 {
		return &Error{Err: ErrUnbalancedClose, Tok: tok}
	}
	loop := s.pending[len(s.pending)-1]
	s.pending = s.pending[:len(s.pending)-1]

	if s.cur.Entry == loop.header+1 && len(s.cur.Stream) == 0 {
		util.Warn(s.cfg, config.WarnEmptyLoop, loop.tok, "empty loop never terminates once entered")
	}

	exit := s.peek()
	s.emitTest(loop.header, exit)
	if err := s.patch(loop.header, exit); err != nil {
		return err
	}
	return s.fork()
}

// patch resolves the exit operand of a loop header once the loop closes.
func (s *Session) patch(header, exit ir.VIP) error {
	block, ok := s.rtn.Lookup(header)
	if !ok {
		return fmt.Errorf("loop header %s is not explored", header)
	}
	last := block.Last()
	if last == nil || last.Op != ir.OpJs || last.Operands[2].VIP() != ir.InvalidVIP {
		return fmt.Errorf("block %s does not end in a pending loop branch", header)
	}
	last.Operands[2] = ir.Target(exit)
	return nil
}
