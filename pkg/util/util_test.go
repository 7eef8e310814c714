package util

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/token"
)

func capture(t *testing.T) *strings.Builder {
	t.Helper()
	color.NoColor = true
	var sb strings.Builder
	restore := SetOutput(&sb)
	t.Cleanup(restore)
	return &sb
}

func TestReportPrintsCaret(t *testing.T) {
	out := capture(t)
	SetSourceFiles([]SourceFileRecord{{Name: "loop.b", Content: []rune("++\n+]x\n")}})
	t.Cleanup(func() { SetSourceFiles(nil) })

	Report(token.Token{Type: token.LoopClose, Offset: 4, Line: 2, Column: 2}, "unmatched '%s'", "]")

	want := "loop.b:2:2: error: unmatched ']'\n  +]x\n   ^\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestWarnHonorsConfig(t *testing.T) {
	out := capture(t)
	cfg := config.NewConfig()

	cfg.SetWarning(config.WarnEmptyLoop, false)
	Warn(cfg, config.WarnEmptyLoop, token.Token{FileIndex: -1}, "silent")
	if out.Len() != 0 {
		t.Fatalf("disabled warning printed %q", out.String())
	}

	cfg.SetWarning(config.WarnEmptyLoop, true)
	Warn(cfg, config.WarnEmptyLoop, token.Token{FileIndex: -1, Line: 1, Column: 3}, "loud")
	if want := "unknown:1:3: warning: loud [-Wempty-loop]\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestErrorExits(t *testing.T) {
	out := capture(t)
	code := -1
	prev := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = prev })

	Error(token.Token{FileIndex: -1}, "boom")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "error: boom") {
		t.Errorf("output = %q", out.String())
	}
}

func TestInfoQuiet(t *testing.T) {
	out := capture(t)
	cfg := config.NewConfig()
	cfg.Quiet = true
	Info(cfg, "hidden")
	cfg.Quiet = false
	Info(cfg, "lifted %d blocks", 3)
	if want := "bflift: info: lifted 3 blocks\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
