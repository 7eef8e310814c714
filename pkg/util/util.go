package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/token"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	caretColor   = color.New(color.FgGreen)
)

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var (
	mu          sync.Mutex
	sourceFiles []SourceFileRecord
	stream      io.Writer = os.Stderr
	exit                  = os.Exit
)

// SetSourceFiles stores the source code for all input files for rich error messages
func SetSourceFiles(files []SourceFileRecord) {
	mu.Lock()
	defer mu.Unlock()
	sourceFiles = files
}

// SetOutput redirects diagnostics; it returns a function restoring the previous writer.
func SetOutput(w io.Writer) func() {
	mu.Lock()
	defer mu.Unlock()
	prev := stream
	stream = w
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stream = prev
	}
}

func findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) {
		return "unknown", tok.Line, tok.Column
	}
	return sourceFiles[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret under the token
func printErrorLine(w io.Writer, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) || tok.Line == 0 {
		return
	}

	content := sourceFiles[tok.FileIndex].Content
	lineStart := min(tok.Offset, len(content))
	for lineStart > 0 && content[lineStart-1] != '\n' {
		lineStart--
	}
	lineEnd := lineStart
	for lineEnd < len(content) && content[lineEnd] != '\n' {
		lineEnd++
	}

	fmt.Fprintf(w, "  %s\n", string(content[lineStart:lineEnd]))
	fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", max(tok.Column-1, 0)), caretColor.Sprint("^"))
}

func report(severity *color.Color, label string, tok token.Token, suffix, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	filename, line, col := findFileAndLine(tok)
	if line > 0 {
		fmt.Fprintf(stream, "%s:%d:%d: %s ", filename, line, col, severity.Sprint(label))
	} else {
		fmt.Fprintf(stream, "%s: %s ", filename, severity.Sprint(label))
	}
	fmt.Fprintf(stream, format, args...)
	fmt.Fprintln(stream, suffix)
	printErrorLine(stream, tok)
}

// Error prints a formatted error message and exits the program
func Error(tok token.Token, format string, args ...any) {
	report(errorColor, "error:", tok, "", format, args...)
	exit(1)
}

// Report prints an error without exiting.
func Report(tok token.Token, format string, args ...any) {
	report(errorColor, "error:", tok, "", format, args...)
}

// Warn prints a formatted warning message if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...any) {
	if cfg == nil || !cfg.IsWarningEnabled(wt) {
		return
	}
	report(warningColor, "warning:", tok, fmt.Sprintf(" [-W%s]", cfg.Warnings[wt].Name), format, args...)
}

// Info prints a progress line unless the configuration asks for quiet output.
func Info(cfg *config.Config, format string, args ...any) {
	if cfg != nil && cfg.Quiet {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stream, "%s %s\n", infoColor.Sprint("bflift: info:"), fmt.Sprintf(format, args...))
}

// Fatal reports a condition not tied to a source position and exits.
func Fatal(format string, args ...any) {
	mu.Lock()
	fmt.Fprintf(stream, "bflift: %s %s\n", errorColor.Sprint("error:"), fmt.Sprintf(format, args...))
	mu.Unlock()
	exit(1)
}
