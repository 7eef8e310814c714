package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xplshn/bflift/pkg/artifact"
	"github.com/xplshn/bflift/pkg/cli"
	"github.com/xplshn/bflift/pkg/codegen"
	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/lifter"
	"github.com/xplshn/bflift/pkg/optimizer"
	"github.com/xplshn/bflift/pkg/token"
	"github.com/xplshn/bflift/pkg/util"
)

// Emit kinds
const (
	emitRoutine = "routine"
	emitSSA     = "ssa"
	emitAsm     = "asm"
	emitExe     = "exe"
)

var emitExt = map[string]string{
	emitRoutine: ".bfir",
	emitSSA:     ".ssa",
	emitAsm:     ".s",
	emitExe:     "",
}

type options struct {
	outFile    string
	emit       string
	target     string
	configPath string
	linkerArgs []string
	jobs       int
	dumpIR     bool
	noOpt      bool
	wall       bool
	run        bool
	quiet      bool
}

// unit is one input: a source to lift, or a routine artifact to load.
type unit struct {
	index   int
	path    string
	source  []rune
	payload *artifact.Payload
	rtn     *ir.Routine
}

func isArtifact(path string) bool { return filepath.Ext(path) == emitExt[emitRoutine] }

func main() {
	app := cli.NewApp("bflift")
	app.Synopsis = "[options] <input.b|input.bfir> ..."
	app.Description = "Lifts brainfuck programs into a basic-block routine and lowers them through QBE. Every loop becomes a header, a body and an exit, resolved in a single pass."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/bflift>"
	app.Since = 2025

	var opts options
	fs := app.FlagSet
	fs.String(&opts.outFile, "output", "o", "", "Place the output into <file>.", "file")
	fs.String(&opts.emit, "emit", "e", emitRoutine, "Output kind: routine, ssa, asm or exe.", "kind")
	fs.String(&opts.target, "target", "t", "", "Set the QBE target ABI.", "target")
	fs.String(&opts.configPath, "config", "c", "", "Load settings from a TOML file before applying flags.", "file")
	fs.List(&opts.linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")
	fs.Int(&opts.jobs, "jobs", "j", runtime.NumCPU(), "Lift up to <n> inputs in parallel.", "n")
	fs.Bool(&opts.dumpIR, "dump-ir", "d", false, "Print the lifted routine.")
	fs.Bool(&opts.noOpt, "no-opt", "", false, "Disable every optimizer pass.")
	fs.Bool(&opts.wall, "Wall", "", false, "Enable all warnings.")
	fs.Bool(&opts.run, "run", "r", false, "Interpret the routine on stdin/stdout instead of emitting it.")
	fs.Bool(&opts.quiet, "quiet", "q", false, "Suppress progress information.")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	app.Action = func(inputFiles []string) error {
		if len(inputFiles) == 0 {
			util.Fatal("no input files specified.")
		}
		if _, ok := emitExt[opts.emit]; !ok {
			util.Fatal("unknown emit kind '%s' (want routine, ssa, asm or exe)", opts.emit)
		}
		if opts.outFile != "" && len(inputFiles) > 1 {
			util.Fatal("-o cannot be used with %d input files", len(inputFiles))
		}
		cfg.Quiet = opts.quiet

		var unknownKeys []string
		if opts.configPath != "" {
			keys, err := cfg.LoadFile(opts.configPath)
			if err != nil {
				util.Fatal("%v", err)
			}
			unknownKeys = keys
		}

		// Command line settings override the configuration file
		if opts.wall {
			cfg.SetAllWarnings(true)
		}
		if opts.noOpt {
			cfg.DisableOptimizations()
		}
		cfg.ApplyFlagGroups(warningFlags, featureFlags)

		target := opts.target
		if target == "" {
			target = cfg.QbeTarget
		}
		cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target)

		units := readSources(inputFiles, cfg, opts.configPath)
		configIndex := len(inputFiles)
		for _, key := range unknownKeys {
			util.Warn(cfg, config.WarnConfigKey, token.Token{FileIndex: configIndex}, "unknown configuration key '%s'", key)
		}

		util.Info(cfg, "lifting %d input(s) with %s", len(units), cfg)
		if err := liftAll(context.Background(), units, cfg, opts.jobs); err != nil {
			return err
		}

		for _, u := range units {
			if err := process(u, cfg, opts); err != nil {
				util.Fatal("%s: %v", u.path, err)
			}
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// readSources loads every input. The configuration file, when present, is
// registered after them so diagnostics about it can point at it.
func readSources(paths []string, cfg *config.Config, configPath string) []*unit {
	records := make([]util.SourceFileRecord, len(paths), len(paths)+1)
	for i, path := range paths {
		records[i].Name = path
	}
	if configPath != "" {
		records = append(records, util.SourceFileRecord{Name: configPath})
	}
	util.SetSourceFiles(records)

	units := make([]*unit, len(paths))
	for i, path := range paths {
		units[i] = &unit{index: i, path: path}
		if isArtifact(path) {
			continue
		}
		src := lifter.ReadSource(path, lifter.Options{Config: cfg, FileIndex: i})
		records[i].Content = src
		units[i].source = src
	}
	util.SetSourceFiles(records)
	return units
}

// liftAll lifts or loads the units in parallel. Every structural error is
// reported; the first one is returned once all workers are done.
func liftAll(ctx context.Context, units []*unit, cfg *config.Config, jobs int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(jobs, len(units))))

	failed := make([]bool, len(units))
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			if isArtifact(u.path) {
				err = loadArtifact(u, cfg)
			} else {
				err = liftSource(u, cfg)
			}
			if err != nil {
				failed[i] = true
				var lerr *lifter.Error
				if errors.As(err, &lerr) {
					util.Report(lerr.Tok, "%v", err)
				} else {
					util.Report(token.Token{FileIndex: u.index}, "%v", err)
				}
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		n := 0
		for _, f := range failed {
			if f {
				n++
			}
		}
		util.Info(cfg, "%d of %d file(s) failed to lift", n, len(units))
	}
	return err
}

func liftSource(u *unit, cfg *config.Config) error {
	s := lifter.NewSession(lifter.Options{Config: cfg, FileIndex: u.index})
	if err := s.Feed(u.source); err != nil {
		return err
	}
	rtn, err := s.Finish()
	if err != nil {
		return err
	}
	st := s.Stats()
	util.Info(cfg, "%s: %d instruction(s), %d comment rune(s), %d block(s), loop depth %d",
		u.path, st.Steps, st.Skipped, st.Blocks, st.MaxDepth)
	u.rtn = rtn
	return nil
}

// loadArtifact reads a routine saved by an earlier run. The source it was
// lifted from is checked when it can still be read.
func loadArtifact(u *unit, cfg *config.Config) error {
	p, err := artifact.Load(u.path)
	if err != nil {
		return err
	}
	if content, err := os.ReadFile(p.Source); err == nil && p.Stale(content) {
		util.Warn(cfg, config.WarnStaleArtifact, token.Token{FileIndex: u.index},
			"'%s' changed since this routine was lifted from it", p.Source)
	}
	rtn, err := p.Routine()
	if err != nil {
		return err
	}
	util.Info(cfg, "%s: loaded routine lifted from '%s', %d block(s)", u.path, p.Source, rtn.NumBlocks())
	u.payload, u.rtn = p, rtn
	return nil
}

// savedRoutine flattens the unit's routine. Reloaded routines keep the
// source record of the artifact they came from.
func savedRoutine(u *unit) *artifact.Payload {
	if u.payload == nil {
		return artifact.FromRoutine(u.rtn, u.path, []byte(string(u.source)))
	}
	p := artifact.FromRoutine(u.rtn, u.payload.Source, nil)
	p.SourceHash = u.payload.SourceHash
	return p
}

func process(u *unit, cfg *config.Config, opts options) error {
	if err := ir.Validate(u.rtn); err != nil {
		return fmt.Errorf("lifted routine is malformed: %w", err)
	}

	for _, st := range optimizer.Apply(u.rtn, optimizer.FromConfig(cfg)...) {
		if st.Changes > 0 {
			util.Info(cfg, "%s: %s: %d change(s), %d -> %d instructions", u.path, st.Pass, st.Changes, st.Before.Instructions, st.After.Instructions)
		}
	}

	if opts.dumpIR {
		return ir.Dump(os.Stdout, u.rtn)
	}
	if opts.run {
		return ir.Execute(u.rtn, ir.ExecOptions{TapeSize: cfg.TapeSize, Input: os.Stdin, Output: os.Stdout})
	}

	outFile := opts.outFile
	if outFile == "" {
		outFile = strings.TrimSuffix(u.path, filepath.Ext(u.path)) + emitExt[opts.emit]
		if opts.emit == emitExe && outFile == u.path {
			outFile = "a.out"
		}
	}

	backend := codegen.NewQBEBackend()
	switch opts.emit {
	case emitRoutine:
		if outFile == u.path {
			return errors.New("writing the routine would overwrite its input; pass -o or another -e kind")
		}
		util.Info(cfg, "writing routine artifact '%s'", outFile)
		return artifact.Save(outFile, savedRoutine(u))
	case emitSSA:
		qbeIR, err := backend.GenerateIR(u.rtn, cfg)
		if err != nil {
			return err
		}
		util.Info(cfg, "writing QBE IL '%s'", outFile)
		return os.WriteFile(outFile, []byte(qbeIR), 0o644)
	}

	util.Info(cfg, "generating code for target '%s'", cfg.QbeTarget)
	asm, err := backend.Generate(u.rtn, cfg)
	if err != nil {
		return fmt.Errorf("backend code generation failed: %w", err)
	}
	if opts.emit == emitAsm {
		util.Info(cfg, "writing assembly '%s'", outFile)
		return os.WriteFile(outFile, asm.Bytes(), 0o644)
	}

	util.Info(cfg, "linking to create '%s'", outFile)
	if err := assembleAndLink(outFile, asm.String(), opts.linkerArgs); err != nil {
		return fmt.Errorf("assembler/linker failed: %w", err)
	}
	return nil
}

func assembleAndLink(outFile, mainAsm string, linkerArgs []string) error {
	mainAsmFile, err := os.CreateTemp("", "bflift-main-*.s")
	if err != nil {
		return fmt.Errorf("failed to create temp file for main asm: %w", err)
	}
	defer os.Remove(mainAsmFile.Name())
	if _, err := mainAsmFile.WriteString(mainAsm); err != nil {
		return fmt.Errorf("failed to write to temp file for main asm: %w", err)
	}
	mainAsmFile.Close()

	ccArgs := []string{"-no-pie", "-o", outFile, mainAsmFile.Name()}
	ccArgs = append(ccArgs, linkerArgs...)
	cmd := exec.Command("cc", ccArgs...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cc command failed: %w\nOutput:\n%s", err, string(output))
	}
	return nil
}
