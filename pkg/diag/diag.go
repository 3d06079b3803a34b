// Package diag defines compiler diagnostics, their codes, and the text
// format used on the watch output.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ritzau/tswatch/pkg/tspath"
)

// Category classifies a diagnostic
type Category int

const (
	Error Category = iota
	Warning
	Message
)

func (c Category) String() string {
	switch c {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "message"
	}
}

// Diagnostic codes reported by the engine.
const (
	CodeExpected            = 1005
	CodeDeclarationExpected = 1128
	CodeCannotFindModule    = 2307
	CodeCannotFindTypeDef   = 2688
	CodeCannotReadFile      = 5012
	CodeUnknownOption       = 5023
	CodeOptionWrongType     = 5024
	CodeEmitFailed          = 5033
	CodeOptionsMutuallyExcl = 5053
	CodeOverwritesInput     = 5055
	CodeInvalidArgument     = 6046
	CodeFileNotFound        = 6053
	CodeUnsupportedExt      = 6054
	CodeStartingWatch       = 6031
	CodeFileChangeDetected  = 6032
	CodeCompilationComplete = 6042
	CodeFoundErrors         = 6194
)

// ExitStatus is the completion status of a build
type ExitStatus int

const (
	Success ExitStatus = iota
	DiagnosticsPresentOutputsSkipped
	DiagnosticsPresentOutputsGenerated
)

func (s ExitStatus) String() string {
	switch s {
	case Success:
		return "Success"
	case DiagnosticsPresentOutputsSkipped:
		return "DiagnosticsPresent_OutputsSkipped"
	case DiagnosticsPresentOutputsGenerated:
		return "DiagnosticsPresent_OutputsGenerated"
	default:
		return fmt.Sprintf("ExitStatus(%d)", int(s))
	}
}

// Diagnostic is a single compiler message. Line and Column are 1-based
// and only meaningful when File is set.
type Diagnostic struct {
	Category Category `json:"category"`
	Code     int      `json:"code"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
}

// New creates a global (unanchored) error diagnostic.
func New(code int, format string, args ...any) Diagnostic {
	return Diagnostic{Category: Error, Code: code, Message: fmt.Sprintf(format, args...)}
}

// At creates an error diagnostic anchored in file at line/column.
func At(file string, line, col, code int, format string, args ...any) Diagnostic {
	return Diagnostic{
		Category: Error,
		Code:     code,
		File:     file,
		Line:     line,
		Column:   col,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FileNotFound is the diagnostic for a missing referenced or config file.
func FileNotFound(path string) Diagnostic {
	return New(CodeFileNotFound, "File '%s' not found.", path)
}

// Format renders d as a single line without the trailing newline.
// File names are shown relative to cwd.
func (d Diagnostic) Format(cwd string) string {
	var b strings.Builder
	if d.File != "" {
		fmt.Fprintf(&b, "%s(%d,%d): ", tspath.RelativeTo(cwd, d.File), d.Line, d.Column)
	}
	fmt.Fprintf(&b, "%s TS%d: %s", d.Category, d.Code, d.Message)
	return b.String()
}

// Key identifies a diagnostic for set comparisons.
func (d Diagnostic) Key() string {
	return fmt.Sprintf("%s|%d|%d|%d|%s", d.File, d.Line, d.Column, d.Code, d.Message)
}

// Sort orders diagnostics by file, position and code. Global diagnostics
// come first.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Code < b.Code
	})
}

// CountErrors returns the number of error-category diagnostics.
func CountErrors(ds []Diagnostic) int {
	n := 0
	for _, d := range ds {
		if d.Category == Error {
			n++
		}
	}
	return n
}

// Position converts a byte offset in text into a 1-based line and column.
func Position(text []byte, offset int) (line, col int) {
	if offset > len(text) {
		offset = len(text)
	}
	line, col = 1, 1
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
