package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable listing of the routine, blocks in address order.
func Dump(w io.Writer, r *Routine) error {
	if w == nil || r == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "routine entry=%s blocks=%d temps=%d\n", r.EntryVIP, r.NumBlocks(), r.TempCount); err != nil {
		return err
	}
	for _, block := range r.Blocks() {
		if _, err := io.WriteString(w, DumpBlock(block)); err != nil {
			return err
		}
	}
	return nil
}

func DumpBlock(block *BasicBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %s:\n", block.Entry)
	for i, instr := range block.Stream {
		fmt.Fprintf(&sb, "  %04d  %s\n", i, instr)
	}
	if succs := block.Successors(); len(succs) > 0 {
		names := make([]string, len(succs))
		for i, s := range succs {
			names[i] = s.String()
		}
		fmt.Fprintf(&sb, "  -> %s\n", strings.Join(names, " "))
	}
	return sb.String()
}

// DumpString is Dump into a string.
func DumpString(r *Routine) string {
	var sb strings.Builder
	_ = Dump(&sb, r)
	return sb.String()
}
