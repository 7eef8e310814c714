package lifter

import (
	"errors"
	"fmt"

	"github.com/xplshn/bflift/pkg/token"
)

var (
	// ErrUnbalancedClose is a ']' seen while no loop is open.
	ErrUnbalancedClose = errors.New("unmatched ']'")
	// ErrUnbalancedOpen is one or more '[' still open at end of input.
	ErrUnbalancedOpen = errors.New("unmatched '['")
	// ErrFinished is returned by a session that already emitted its exit.
	ErrFinished = errors.New("lift session already finished")
)

// Error is a structural error that aborts a lift. Tok locates the offending
// bracket; Depth is the number of loops still open when the lift stopped.
type Error struct {
	Err   error
	Tok   token.Token
	Depth int
}

func (e *Error) Error() string {
	switch e.Err {
	case ErrUnbalancedClose:
		return fmt.Sprintf("%v: no loop is open", e.Err)
	case ErrUnbalancedOpen:
		return fmt.Sprintf("%v: %d loop(s) still open at end of input", e.Err, e.Depth)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }
