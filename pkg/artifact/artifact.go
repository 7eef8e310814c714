// Package artifact stores lifted routines on disk.
//
// An artifact is a fixed header followed by a msgpack payload:
//
//	magic "BFLR" | schema uint16 | xxhash64(payload) uint64 | payload
//
// All header integers are big-endian.
package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xplshn/bflift/pkg/ir"
)

// Current schema version - increment when Payload format changes
const SchemaVersion uint16 = 1

const headerSize = 4 + 2 + 8

var magic = [4]byte{'B', 'F', 'L', 'R'}

var (
	ErrBadMagic  = errors.New("not a bflift artifact")
	ErrSchema    = errors.New("unsupported artifact schema")
	ErrChecksum  = errors.New("artifact checksum mismatch")
	ErrTruncated = errors.New("artifact truncated")
)

type Operand struct {
	Kind uint8  `msgpack:"k"`
	Reg  uint8  `msgpack:"r,omitempty"`
	ID   int    `msgpack:"i,omitempty"`
	Imm  uint64 `msgpack:"v,omitempty"`
	Bits int    `msgpack:"b"`
}

type Instruction struct {
	Op       uint8     `msgpack:"op"`
	Operands []Operand `msgpack:"ops"`
}

type Block struct {
	Entry  uint64        `msgpack:"entry"`
	Stream []Instruction `msgpack:"stream"`
}

// Payload is the serialized form of a routine. Blocks are ordered by entry.
type Payload struct {
	Source     string  `msgpack:"source"`
	SourceHash uint64  `msgpack:"source_hash"`
	Entry      uint64  `msgpack:"entry"`
	Temps      int     `msgpack:"temps"`
	Blocks     []Block `msgpack:"blocks"`
}

// FromRoutine flattens rtn. source names the program it was lifted from and
// content is hashed so stale artifacts can be detected.
func FromRoutine(rtn *ir.Routine, source string, content []byte) *Payload {
	p := &Payload{
		Source:     source,
		SourceHash: xxhash.Sum64(content),
		Entry:      uint64(rtn.EntryVIP),
		Temps:      rtn.TempCount,
	}
	for _, block := range rtn.Blocks() {
		b := Block{Entry: uint64(block.Entry), Stream: make([]Instruction, len(block.Stream))}
		for i, instr := range block.Stream {
			ops := make([]Operand, len(instr.Operands))
			for j, op := range instr.Operands {
				ops[j] = Operand{
					Kind: uint8(op.Kind), Reg: uint8(op.Reg.Kind), ID: op.Reg.ID,
					Imm: op.Imm, Bits: op.Bits,
				}
				if op.IsReg() {
					ops[j].Bits = op.Reg.Bits
				}
			}
			b.Stream[i] = Instruction{Op: uint8(instr.Op), Operands: ops}
		}
		p.Blocks = append(p.Blocks, b)
	}
	return p
}

// Routine rebuilds the routine and validates it.
func (p *Payload) Routine() (*ir.Routine, error) {
	rtn := ir.NewRoutine(ir.VIP(p.Entry))
	rtn.TempCount = p.Temps
	for _, b := range p.Blocks {
		block := &ir.BasicBlock{Entry: ir.VIP(b.Entry), Stream: make([]*ir.Instruction, len(b.Stream))}
		for i, instr := range b.Stream {
			ops := make([]ir.Operand, len(instr.Operands))
			for j, op := range instr.Operands {
				if ir.OperandKind(op.Kind) == ir.OperandReg {
					ops[j] = ir.Reg(ir.Register{Kind: ir.RegKind(op.Reg), ID: op.ID, Bits: op.Bits})
				} else {
					ops[j] = ir.Imm(op.Imm, op.Bits)
				}
			}
			block.Stream[i] = &ir.Instruction{Op: ir.Op(instr.Op), Operands: ops}
		}
		if err := rtn.Adopt(block); err != nil {
			return nil, err
		}
	}
	if err := ir.Validate(rtn); err != nil {
		return nil, fmt.Errorf("invalid routine in artifact: %w", err)
	}
	return rtn, nil
}

func Encode(w io.Writer, p *Payload) error {
	var body bytes.Buffer
	if err := msgpack.NewEncoder(&body).Encode(p); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var header [headerSize]byte
	copy(header[:4], magic[:])
	binary.BigEndian.PutUint16(header[4:6], SchemaVersion)
	binary.BigEndian.PutUint64(header[6:], xxhash.Sum64(body.Bytes()))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

func Decode(r io.Reader) (*Payload, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if !bytes.Equal(header[:4], magic[:]) {
		return nil, ErrBadMagic
	}
	if schema := binary.BigEndian.Uint16(header[4:6]); schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrSchema, schema, SchemaVersion)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(body) != binary.BigEndian.Uint64(header[6:]) {
		return nil, ErrChecksum
	}

	p := new(Payload)
	if err := msgpack.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Save writes the artifact through a temporary file and renames it into place.
func Save(path string, p *Payload) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".bflift-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = Encode(f, p); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func Load(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Stale reports whether the artifact was lifted from different content.
func (p *Payload) Stale(content []byte) bool {
	return p.SourceHash != xxhash.Sum64(content)
}
