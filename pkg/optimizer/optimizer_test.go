package optimizer

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/lifter"
)

func lift(t *testing.T, src string) *ir.Routine {
	t.Helper()
	rtn, err := lifter.Lift([]rune(src), lifter.Options{})
	if err != nil {
		t.Fatalf("Lift(%q): %v", src, err)
	}
	return rtn
}

func all() []Pass {
	return FromConfig(config.NewConfig())
}

func run(t *testing.T, rtn *ir.Routine, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := ir.Execute(rtn, ir.ExecOptions{
		TapeSize: 64, Input: strings.NewReader(input), Output: &out, StepLimit: 200_000,
	})
	return out.String(), err
}

func streamOps(block *ir.BasicBlock) []string {
	ops := make([]string, len(block.Stream))
	for i, instr := range block.Stream {
		ops[i] = instr.String()
	}
	return ops
}

func TestFromConfigFollowsFeatures(t *testing.T) {
	cfg := config.NewConfig()
	var names []string
	for _, p := range FromConfig(cfg) {
		names = append(names, p.Name())
	}
	if diff := cmp.Diff(cfg.FeatureNames(), names); diff != "" {
		t.Errorf("pipeline (-want +got):\n%s", diff)
	}

	cfg.DisableOptimizations()
	if got := FromConfig(cfg); len(got) != 0 {
		t.Errorf("%d passes enabled after DisableOptimizations", len(got))
	}
}

func TestFoldMoves(t *testing.T) {
	rtn := lift(t, ">>><.<<>>")
	if n := (foldMoves{}).Run(rtn); n != 2 {
		t.Errorf("changes = %d, want 2", n)
	}
	want := []string{
		"add    tape, 0x2",
		"ldd    io, tape, 0x0",
		"vpinr  io",
		"vemit  0x2e",
		"vexit  0x0",
	}
	if diff := cmp.Diff(want, streamOps(rtn.Entry())); diff != "" {
		t.Errorf("stream (-want +got):\n%s", diff)
	}
}

func TestFoldMovesDropsNetZero(t *testing.T) {
	rtn := lift(t, "><<>")
	(foldMoves{}).Run(rtn)
	if diff := cmp.Diff([]string{"vexit  0x0"}, streamOps(rtn.Entry())); diff != "" {
		t.Errorf("stream (-want +got):\n%s", diff)
	}
}

func TestFoldCells(t *testing.T) {
	tests := []struct {
		src  string
		want []string
	}{
		{"+++-", []string{"ldd    t0, tape, 0x0", "add    t0, 0x2", "str    tape, 0x0, t0", "vexit  0x0"}},
		{"---", []string{"ldd    t0, tape, 0x0", "sub    t0, 0x3", "str    tape, 0x0, t0", "vexit  0x0"}},
		{"+-", []string{"vexit  0x0"}},
		{"+", []string{"ldd    t0, tape, 0x0", "add    t0, 0x1", "str    tape, 0x0, t0", "vexit  0x0"}},
	}
	for _, tt := range tests {
		rtn := lift(t, tt.src)
		(foldCells{}).Run(rtn)
		if diff := cmp.Diff(tt.want, streamOps(rtn.Entry())); diff != "" {
			t.Errorf("%q (-want +got):\n%s", tt.src, diff)
		}
	}
}

func TestFoldCellsStopsAtMove(t *testing.T) {
	rtn := lift(t, "+>+")
	if n := (foldCells{}).Run(rtn); n != 0 {
		t.Errorf("changes = %d, want 0", n)
	}
}

func TestClearLoops(t *testing.T) {
	rtn := lift(t, "[-]")
	stats := Apply(rtn, clearLoops{}, pruneUnreachable{})
	if stats[0].Changes != 1 || stats[1].Changes != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	want := []string{"str    tape, 0x0, 0x0", "jmp    0x2"}
	if diff := cmp.Diff(want, streamOps(rtn.Entry())); diff != "" {
		t.Errorf("header (-want +got):\n%s", diff)
	}
	if rtn.NumBlocks() != 2 {
		t.Errorf("%d blocks after pruning, want 2", rtn.NumBlocks())
	}
	if err := ir.Validate(rtn); err != nil {
		t.Error(err)
	}
}

func TestClearLoopsSkipsOtherBodies(t *testing.T) {
	for _, src := range []string{"[--]", "[->]", "[-.]", "[+<]"} {
		rtn := lift(t, src)
		(foldCells{}).Run(rtn)
		if n := (clearLoops{}).Run(rtn); n != 0 {
			t.Errorf("%q: %d loops cleared", src, n)
		}
	}
}

func TestClearLoopsSkipsSharedBody(t *testing.T) {
	rtn := lift(t, "[-]")
	side, err := rtn.CreateBlock(7)
	if err != nil {
		t.Fatal(err)
	}
	side.Jmp(1)
	if n := (clearLoops{}).Run(rtn); n != 0 {
		t.Errorf("cleared %d loops whose body has a second predecessor", n)
	}
}

func TestPruneKeepsReachable(t *testing.T) {
	rtn := lift(t, "+[>[-]<-]")
	if n := (pruneUnreachable{}).Run(rtn); n != 0 {
		t.Errorf("pruned %d blocks from a freshly lifted routine", n)
	}
}

func TestProfile(t *testing.T) {
	rtn := lift(t, "[-]")
	want := Profile{Blocks: 3, Instructions: 10, Branches: 2, Temps: 5}
	if diff := cmp.Diff(want, ProfileOf(rtn)); diff != "" {
		t.Errorf("profile (-want +got):\n%s", diff)
	}
}

func randomProgram(rng *rand.Rand, n int) string {
	const straight = "+-<>.,"
	var sb strings.Builder
	depth := 0
	for i := 0; i < n; i++ {
		switch r := rng.Intn(10); {
		case r < 2:
			sb.WriteByte('[')
			depth++
		case r < 4 && depth > 0:
			sb.WriteByte(']')
			depth--
		default:
			sb.WriteByte(straight[rng.Intn(len(straight))])
		}
	}
	sb.WriteString(strings.Repeat("]", depth))
	return sb.String()
}

func TestPipelinePreservesBehavior(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	fixed := []string{"++++[>+++<-]>.", "+++[-].", "-[+].", ",[.,]", "+[>+[-]<-]>."}
	checked := 0
	for i := 0; i < 300+len(fixed); i++ {
		src := ">>>>>>" + randomProgram(rng, 1+rng.Intn(40))
		if i < len(fixed) {
			src = fixed[i]
		}
		want, err := run(t, lift(t, src), "abc")
		if err != nil {
			continue
		}
		checked++

		rtn := lift(t, src)
		Apply(rtn, all()...)
		if err := ir.Validate(rtn); err != nil {
			t.Fatalf("%q: %v\n%s", src, err, ir.DumpString(rtn))
		}
		got, err := run(t, rtn, "abc")
		if err != nil {
			t.Fatalf("%q: optimized routine failed: %v", src, err)
		}
		if got != want {
			t.Errorf("%q: output = %q, want %q", src, got, want)
		}
	}
	if checked < len(fixed) {
		t.Fatalf("only %d programs ran", checked)
	}
}
