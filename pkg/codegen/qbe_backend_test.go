package codegen

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/lifter"
	"github.com/xplshn/bflift/pkg/optimizer"
)

func lift(t *testing.T, src string) *ir.Routine {
	t.Helper()
	rtn, err := lifter.Lift([]rune(src), lifter.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return rtn
}

func TestGenerateIRLoop(t *testing.T) {
	got, err := NewQBEBackend().GenerateIR(lift(t, "[-]."), config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	want := `data $tape = align 8 { z 30000 }

export function w $main() {
@start
	%ptr =l copy $tape
	jmp @b0
@b0
	%t0 =w loadub %ptr
	%t1 =w cnew %t0, 0
	jnz %t1, @b1, @b2
@b1
	%t2 =w loadub %ptr
	%t2 =w sub %t2, 1
	%t2 =w and %t2, 255
	storeb %t2, %ptr
	%t3 =w loadub %ptr
	%t4 =w cnew %t3, 0
	jnz %t4, @b0, @b2
@b2
	%io =w loadub %ptr
	call $putchar(w %io)
	ret 0
}
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("QBE IL (-want +got):\n%s", diff)
	}
}

func TestGenerateIRInputClampsEOF(t *testing.T) {
	got, err := NewQBEBackend().GenerateIR(lift(t, ">,"), config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"%ptr =l add %ptr, 1",
		"%io =w call $getchar()",
		"%x1 =w csltw %io, 0",
		"%x2 =w sub %x1, 1",
		"%io =w and %io, %x2",
		"storeb %io, %ptr",
	} {
		if !strings.Contains(got, "\t"+line+"\n") {
			t.Errorf("missing %q in:\n%s", line, got)
		}
	}
}

func TestGenerateIRAfterOptimizer(t *testing.T) {
	rtn := lift(t, "+++[-]>>.")
	optimizer.Apply(rtn, optimizer.FromConfig(config.NewConfig())...)
	got, err := NewQBEBackend().GenerateIR(rtn, config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{"%t0 =w add %t0, 3", "storeb 0, %ptr", "%ptr =l add %ptr, 2"} {
		if !strings.Contains(got, "\t"+line+"\n") {
			t.Errorf("missing %q in:\n%s", line, got)
		}
	}
	if strings.Contains(got, "@b2\n") {
		t.Errorf("pruned loop body was lowered:\n%s", got)
	}
}

func TestGenerateIRRejects(t *testing.T) {
	cfg := config.NewConfig()
	cfg.TapeSize = 0
	if _, err := NewQBEBackend().GenerateIR(lift(t, "+"), cfg); err == nil {
		t.Error("zero tape size accepted")
	}

	rtn := ir.NewRoutine(0)
	if _, err := rtn.CreateBlock(0); err != nil {
		t.Fatal(err)
	}
	if _, err := NewQBEBackend().GenerateIR(rtn, config.NewConfig()); err == nil {
		t.Error("unterminated routine accepted")
	}
}
