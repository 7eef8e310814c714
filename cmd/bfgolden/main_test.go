package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEvaluateRecordsBehavior(t *testing.T) {
	g := evaluate([]byte(",[.,]"), []byte("hi"), 10_000)
	if g.LiftError != "" || g.ArtifactError != "" || g.ExecError != "" {
		t.Fatalf("unexpected errors: %+v", g)
	}
	if g.Stdout != "hi" {
		t.Errorf("stdout = %q, want %q", g.Stdout, "hi")
	}
	if !strings.HasPrefix(g.Dump, "routine entry=0x0") {
		t.Errorf("dump = %q", g.Dump)
	}
}

func TestEvaluateRecordsLiftError(t *testing.T) {
	g := evaluate([]byte("[["), nil, 10_000)
	if !strings.Contains(g.LiftError, "2 loop(s) still open") || g.Dump != "" {
		t.Errorf("golden = %+v", g)
	}
}

func TestEvaluateRecordsStepLimit(t *testing.T) {
	g := evaluate([]byte("+[]"), nil, 1_000)
	if !strings.Contains(g.ExecError, "step limit") {
		t.Errorf("exec error = %q", g.ExecError)
	}
}

func TestCompareGolden(t *testing.T) {
	want := evaluate([]byte("++."), nil, 100)

	if r := compareGolden("a.b", want, evaluate([]byte("++."), nil, 100)); r.Status != "PASS" {
		t.Errorf("identical run: %+v", r)
	}
	if r := compareGolden("a.b", want, evaluate([]byte("+++."), nil, 100)); r.Status != "FAIL" || !strings.Contains(r.Message, "regenerate") {
		t.Errorf("changed source: %+v", r)
	}

	drifted := *want
	drifted.Stdout = "x"
	if r := compareGolden("a.b", &drifted, evaluate([]byte("++."), nil, 100)); r.Status != "FAIL" || r.Diff == "" {
		t.Errorf("drifted output: %+v", r)
	}

	behavior := Golden{SourceHash: want.SourceHash, Stdout: want.Stdout}
	if r := compareGolden("a.b", &behavior, evaluate([]byte("++."), nil, 100)); r.Status != "PASS" {
		t.Errorf("golden without dumps: %+v", r)
	}
	behavior.Stdout = "\x03"
	if r := compareGolden("a.b", &behavior, evaluate([]byte("++."), nil, 100)); r.Status != "FAIL" {
		t.Errorf("golden without dumps, wrong output: %+v", r)
	}
}

func TestCommittedGoldens(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "tests", "*.b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no sample programs found")
	}
	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			if r := testFile(file); r.Status != "PASS" {
				t.Errorf("%s: %s\n%s", r.Status, r.Message, r.Diff)
			}
		})
	}
}

func TestGenerateThenTest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "echo.b")
	if err := os.WriteFile(src, []byte(",[.,]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "echo.in"), []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}

	if r := testFile(src); r.Status != "SKIP" {
		t.Fatalf("before generation: %+v", r)
	}
	if r := writeGolden(src); r.Status != "PASS" {
		t.Fatalf("writeGolden: %+v", r)
	}
	if r := testFile(src); r.Status != "PASS" {
		t.Errorf("after generation: %+v", r)
	}
}
