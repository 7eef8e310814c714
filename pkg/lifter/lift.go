package lifter

import (
	"os"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/lexer"
	"github.com/xplshn/bflift/pkg/token"
	"github.com/xplshn/bflift/pkg/util"
)

type Options struct {
	// Config gates warnings; nil disables them.
	Config    *config.Config
	FileIndex int
	Entry     ir.VIP
}

// Session is the state of one lift pass. It is not safe for concurrent use;
// lift independent sources with independent sessions.
type Session struct {
	builder
	cfg       *config.Config
	fileIndex int
	pending   []pendingLoop
	stats     Stats
	finished  bool
}

// Stats summarizes a lift pass.
type Stats struct {
	Steps    int // translated instructions
	Skipped  int // comment runes
	MaxDepth int // deepest loop nesting
	Blocks   int
}

func NewSession(opts Options) *Session {
	return &Session{builder: newBuilder(opts.Entry), cfg: opts.Config, fileIndex: opts.FileIndex}
}

// Depth is the number of loops currently open.
func (s *Session) Depth() int { return len(s.pending) }

func (s *Session) Stats() Stats {
	st := s.stats
	st.Blocks = s.rtn.NumBlocks()
	return st
}

// Feed lexes src and steps through every instruction in it, stopping at the
// first structural error.
func (s *Session) Feed(src []rune) error {
	l := lexer.NewLexer(src, s.fileIndex)
	for {
		tok := l.Next()
		if tok.Type == token.EOF {
			s.stats.Skipped += l.Skipped()
			if s.stats.Steps == 0 {
				util.Warn(s.cfg, config.WarnEmptyInput, tok, "no instructions in input")
			}
			return nil
		}
		if err := s.Step(tok); err != nil {
			s.stats.Skipped += l.Skipped()
			return err
		}
	}
}

// Finish closes the pass. Open loops are an error; otherwise the cursor
// block receives the program exit and the routine is returned. A session
// can be finished once.
func (s *Session) Finish() (*ir.Routine, error) {
	if s.finished {
		return nil, ErrFinished
	}
	if n := len(s.pending); n > 0 {
		return nil, &Error{Err: ErrUnbalancedOpen, Tok: s.pending[n-1].tok, Depth: n}
	}
	s.cur.Vexit(0)
	s.finished = true
	return s.rtn, nil
}

// Lift translates src in a single left-to-right pass.
func Lift(src []rune, opts Options) (*ir.Routine, error) {
	s := NewSession(opts)
	if err := s.Feed(src); err != nil {
		return nil, err
	}
	return s.Finish()
}

// ReadSource loads a source file. A file that cannot be read is lifted as an
// empty program, after a warning.
func ReadSource(path string, opts Options) []rune {
	content, err := os.ReadFile(path)
	if err != nil {
		util.Warn(opts.Config, config.WarnUnreadableSource, token.Token{FileIndex: opts.FileIndex}, "could not read '%s': %v", path, err)
		return nil
	}
	return []rune(string(content))
}

// LiftFile is ReadSource followed by Lift.
func LiftFile(path string, opts Options) (*ir.Routine, []rune, error) {
	src := ReadSource(path, opts)
	rtn, err := Lift(src, opts)
	return rtn, src, err
}
