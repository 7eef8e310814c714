package codegen

import (
	"bytes"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes a lifted routine and a configuration, and produces the
	// target assembly as a byte buffer.
	Generate(rtn *ir.Routine, cfg *config.Config) (*bytes.Buffer, error)
	// GenerateIR produces the backend's textual intermediate language.
	GenerateIR(rtn *ir.Routine, cfg *config.Config) (string, error)
}
