package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/xplshn/bflift/pkg/artifact"
	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
	"github.com/xplshn/bflift/pkg/lifter"
	"github.com/xplshn/bflift/pkg/optimizer"
)

// Golden is the recorded behavior of one source file.
type Golden struct {
	SourceHash    string `json:"source_hash"`
	LiftError     string `json:"lift_error,omitempty"`
	ArtifactError string `json:"artifact_error,omitempty"`
	Dump          string `json:"dump,omitempty"`
	OptimizedDump string `json:"optimized_dump,omitempty"`
	Stdout        string `json:"stdout,omitempty"`
	ExecError     string `json:"exec_error,omitempty"`
}

type FileTestResult struct {
	File    string `json:"file"`
	Status  string `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string `json:"message,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

var (
	generateGolden = flag.Bool("generate-golden", false, "Write golden .json files for the matched sources instead of testing them.")
	testFiles      = flag.String("test-files", "tests/*.b", "Glob pattern(s) for files to test (space-separated).")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden JSON files (defaults to source file dir).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	stepLimit      = flag.Int("steps", 50_000_000, "Abort execution after this many IR instructions.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
)

var (
	cPass = color.New(color.FgGreen, color.Bold)
	cFail = color.New(color.FgRed, color.Bold)
	cSkip = color.New(color.FgYellow, color.Bold)
	cFile = color.New(color.FgCyan)
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s Invalid glob pattern(s): %v\n", cFail.Sprint("[ERROR]"), err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	results := make([]*FileTestResult, len(files))
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(1, min(*jobs, len(files))))
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if *generateGolden {
				results[i] = writeGolden(file)
			} else {
				results[i] = testFile(file)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("%s %v\n", cFail.Sprint("[ERROR]"), err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })
	printSummary(results)
	if !*generateGolden {
		writeJSONReport(results)
	}
	if hasFailures(results) {
		os.Exit(1)
	}
}

func getJSONPath(sourceFile string) string {
	jsonFileName := "." + filepath.Base(sourceFile) + ".json"
	if *jsonDir != "" {
		return filepath.Join(*jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(sourceFile), jsonFileName)
}

// inputFor returns the stdin fed to a program: the contents of a sibling
// <name>.in file, or nothing.
func inputFor(sourceFile string) []byte {
	data, err := os.ReadFile(strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile)) + ".in")
	if err != nil {
		return nil
	}
	return data
}

// reload passes rtn through the routine artifact codec.
func reload(rtn *ir.Routine, source []byte) (*ir.Routine, error) {
	var buf bytes.Buffer
	if err := artifact.Encode(&buf, artifact.FromRoutine(rtn, "", source)); err != nil {
		return nil, err
	}
	p, err := artifact.Decode(&buf)
	if err != nil {
		return nil, err
	}
	if p.Stale(source) {
		return nil, errors.New("artifact does not record the source it was lifted from")
	}
	return p.Routine()
}

// evaluate lifts, optimizes and runs one source. The lifted routine is
// reloaded from its artifact encoding before it is optimized. Diagnostics are
// disabled; structural errors become part of the record.
func evaluate(source, input []byte, limit int) *Golden {
	g := &Golden{SourceHash: fmt.Sprintf("%x", xxhash.Sum64(source))}

	cfg := config.NewConfig()
	cfg.Quiet = true
	cfg.SetAllWarnings(false)

	rtn, err := lifter.Lift([]rune(string(source)), lifter.Options{Config: cfg})
	if err != nil {
		g.LiftError = err.Error()
		return g
	}
	g.Dump = ir.DumpString(rtn)

	rtn, err = reload(rtn, source)
	if err != nil {
		g.ArtifactError = err.Error()
		return g
	}
	if dump := ir.DumpString(rtn); dump != g.Dump {
		g.ArtifactError = "reloaded routine differs from the lifted one:\n" + cmp.Diff(g.Dump, dump)
		return g
	}

	optimizer.Apply(rtn, optimizer.FromConfig(cfg)...)
	g.OptimizedDump = ir.DumpString(rtn)

	var out bytes.Buffer
	err = ir.Execute(rtn, ir.ExecOptions{
		TapeSize:  cfg.TapeSize,
		Input:     bytes.NewReader(input),
		Output:    &out,
		StepLimit: limit,
	})
	g.Stdout = out.String()
	if err != nil {
		g.ExecError = err.Error()
	}
	return g
}

func writeGolden(file string) *FileTestResult {
	source, err := os.ReadFile(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read source: %v", err)}
	}
	jsonData, err := json.MarshalIndent(evaluate(source, inputFor(file), *stepLimit), "", "  ")
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to marshal golden data to JSON: %v", err)}
	}

	goldenFileName := getJSONPath(file)
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0o755); err != nil {
			return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
		}
	}
	if err := os.WriteFile(goldenFileName, jsonData, 0o644); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to write golden file %s: %v", goldenFileName, err)}
	}
	return &FileTestResult{File: file, Status: "PASS", Message: "Golden file created at " + goldenFileName}
}

func testFile(file string) *FileTestResult {
	goldenFile := getJSONPath(file)
	goldenData, err := os.ReadFile(goldenFile)
	if errors.Is(err, os.ErrNotExist) {
		return &FileTestResult{File: file, Status: "SKIP", Message: "Cannot test without a corresponding .json golden file"}
	}
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read golden file %s: %v", goldenFile, err)}
	}
	var want Golden
	if err := json.Unmarshal(goldenData, &want); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}

	source, err := os.ReadFile(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read source: %v", err)}
	}
	return compareGolden(file, &want, evaluate(source, inputFor(file), *stepLimit))
}

// compareGolden checks a run against its golden record. Dumps missing from
// the golden file are not compared, so a hand-written golden can pin the
// observable behavior alone.
func compareGolden(file string, want, got *Golden) *FileTestResult {
	if want.SourceHash != got.SourceHash {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Source changed since the golden file was written; regenerate it with -generate-golden"}
	}
	run := *got
	if want.Dump == "" {
		run.Dump = ""
	}
	if want.OptimizedDump == "" {
		run.OptimizedDump = ""
	}
	if diff := cmp.Diff(want, &run); diff != "" {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output does not match the golden file", Diff: diff}
	}
	msg := "Matches golden file"
	if got.LiftError != "" {
		msg = "Rejected as expected: " + got.LiftError
	}
	return &FileTestResult{File: file, Status: "PASS", Message: msg}
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	for _, result := range results {
		if *verbose || result.Status != "PASS" {
			fmt.Println("----------------------------------------------------------------------")
			fmt.Printf("Testing %s...\n", cFile.Sprint(result.File))
		}
		switch result.Status {
		case "PASS":
			passed++
			if *verbose {
				fmt.Printf("  [%s] %s\n", cPass.Sprint("PASS"), result.Message)
			}
		case "FAIL":
			failed++
			fmt.Printf("  [%s] %s\n", cFail.Sprint("FAIL"), result.Message)
			if result.Diff != "" {
				fmt.Println(formatDiff(result.Diff))
			}
		case "SKIP":
			skipped++
			fmt.Printf("  [%s] %s\n", cSkip.Sprint("SKIP"), result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%s] %s\n", cFail.Sprint("ERROR"), result.Message)
		}
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("Test Summary: %s, %s, %s, %s, %d Total\n",
		cPass.Sprintf("%d Passed", passed), cFail.Sprintf("%d Failed", failed),
		cSkip.Sprintf("%d Skipped", skipped), cFail.Sprintf("%d Errored", errored), len(results))
}

func formatDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "-"):
			sb.WriteString("    " + color.RedString("%s", line) + "\n")
		case strings.HasPrefix(strings.TrimSpace(line), "+"):
			sb.WriteString("    " + color.GreenString("%s", line) + "\n")
		default:
			sb.WriteString("    " + line + "\n")
		}
	}
	return sb.String()
}

func writeJSONReport(results []*FileTestResult) {
	resultsMap := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}
	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s Failed to marshal JSON report: %v\n", cFail.Sprint("[ERROR]"), err)
		return
	}
	outputFile := *outputJSON
	if *jsonDir != "" {
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}
	if err := os.WriteFile(outputFile, jsonData, 0o644); err != nil {
		log.Printf("%s Failed to write JSON report to %s: %v\n", cFail.Sprint("[ERROR]"), outputFile, err)
	}
}

func hasFailures(results []*FileTestResult) bool {
	for _, r := range results {
		if r.Status == "FAIL" || r.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range strings.Fields(patterns) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
