package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/bflift/pkg/artifact"
	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/util"
)

func capture(t *testing.T) *strings.Builder {
	t.Helper()
	color.NoColor = true
	var sb strings.Builder
	restore := util.SetOutput(&sb)
	t.Cleanup(restore)
	t.Cleanup(func() { util.SetSourceFiles(nil) })
	return &sb
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func load(t *testing.T, cfg *config.Config, paths ...string) []*unit {
	t.Helper()
	units := readSources(paths, cfg, "")
	if err := liftAll(context.Background(), units, cfg, 2); err != nil {
		t.Fatalf("liftAll(%v): %v", paths, err)
	}
	return units
}

func TestArtifactInputMatchesLiftedSource(t *testing.T) {
	out := capture(t)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.b")
	irPath := filepath.Join(dir, "prog.bfir")
	writeFile(t, srcPath, "+[-]>,.")
	cfg := config.NewConfig()

	lifted := load(t, cfg, srcPath)[0]
	if err := artifact.Save(irPath, savedRoutine(lifted)); err != nil {
		t.Fatal(err)
	}
	loaded := load(t, cfg, irPath)[0]

	if diff := cmp.Diff(ir.DumpString(lifted.rtn), ir.DumpString(loaded.rtn)); diff != "" {
		t.Errorf("reloaded routine (-want +got):\n%s", diff)
	}
	if loaded.payload == nil || loaded.payload.Source != srcPath {
		t.Errorf("payload = %+v, want source %q", loaded.payload, srcPath)
	}
	if strings.Contains(out.String(), "stale-artifact") {
		t.Errorf("fresh artifact reported stale:\n%s", out)
	}
	if !strings.Contains(out.String(), "loop depth 1") {
		t.Errorf("lift summary missing:\n%s", out)
	}
}

func TestArtifactInputWarnsWhenStale(t *testing.T) {
	out := capture(t)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.b")
	irPath := filepath.Join(dir, "prog.bfir")
	writeFile(t, srcPath, "++.")
	cfg := config.NewConfig()
	cfg.Quiet = true

	if err := artifact.Save(irPath, savedRoutine(load(t, cfg, srcPath)[0])); err != nil {
		t.Fatal(err)
	}
	writeFile(t, srcPath, "+++.")
	load(t, cfg, irPath)
	if !strings.Contains(out.String(), "changed since this routine was lifted from it [-Wstale-artifact]") {
		t.Errorf("missing stale warning:\n%s", out)
	}

	out.Reset()
	cfg.SetWarning(config.WarnStaleArtifact, false)
	load(t, cfg, irPath)
	if out.Len() != 0 {
		t.Errorf("-Wno-stale-artifact still prints:\n%s", out)
	}
}

func TestSavedRoutineKeepsArtifactSource(t *testing.T) {
	capture(t)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.b")
	irPath := filepath.Join(dir, "prog.bfir")
	writeFile(t, srcPath, "[-]")
	cfg := config.NewConfig()
	cfg.Quiet = true

	first := savedRoutine(load(t, cfg, srcPath)[0])
	if err := artifact.Save(irPath, first); err != nil {
		t.Fatal(err)
	}
	again := savedRoutine(load(t, cfg, irPath)[0])
	if again.Source != first.Source || again.SourceHash != first.SourceHash {
		t.Errorf("re-saved source = %q/%x, want %q/%x", again.Source, again.SourceHash, first.Source, first.SourceHash)
	}
}

func TestArtifactInputErrors(t *testing.T) {
	out := capture(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bfir")
	writeFile(t, bad, "BFLR")
	cfg := config.NewConfig()
	cfg.Quiet = true

	units := readSources([]string{bad}, cfg, "")
	err := liftAll(context.Background(), units, cfg, 1)
	if !errors.Is(err, artifact.ErrTruncated) {
		t.Errorf("err = %v, want %v", err, artifact.ErrTruncated)
	}
	if !strings.HasPrefix(out.String(), bad+": error:") {
		t.Errorf("error not located at the artifact:\n%s", out)
	}
}

func TestProcessRefusesToOverwriteArtifact(t *testing.T) {
	capture(t)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.b")
	irPath := filepath.Join(dir, "prog.bfir")
	writeFile(t, srcPath, "+.")
	cfg := config.NewConfig()
	cfg.Quiet = true

	if err := artifact.Save(irPath, savedRoutine(load(t, cfg, srcPath)[0])); err != nil {
		t.Fatal(err)
	}
	u := load(t, cfg, irPath)[0]
	if err := process(u, cfg, options{emit: emitRoutine}); err == nil {
		t.Error("emitting a routine over its own artifact succeeded")
	}

	copyPath := filepath.Join(dir, "copy.bfir")
	if err := process(u, cfg, options{emit: emitRoutine, outFile: copyPath}); err != nil {
		t.Fatalf("process -o %s: %v", copyPath, err)
	}
	if _, err := artifact.Load(copyPath); err != nil {
		t.Errorf("Load(%s): %v", copyPath, err)
	}
}

func TestProcessEmitsSSAFromArtifact(t *testing.T) {
	capture(t)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.b")
	irPath := filepath.Join(dir, "prog.bfir")
	writeFile(t, srcPath, "[-].")
	cfg := config.NewConfig()
	cfg.Quiet = true

	if err := artifact.Save(irPath, savedRoutine(load(t, cfg, srcPath)[0])); err != nil {
		t.Fatal(err)
	}
	u := load(t, cfg, irPath)[0]
	if err := process(u, cfg, options{emit: emitSSA}); err != nil {
		t.Fatal(err)
	}
	il, err := os.ReadFile(filepath.Join(dir, "prog.ssa"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(il), "export function w $main()") || !strings.Contains(string(il), "call $putchar(w %io)") {
		t.Errorf("unexpected IL:\n%s", il)
	}
}
