package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// Sink receives formatted text. host.System satisfies it.
type Sink interface {
	Write(s string)
}

// Reporter formats diagnostics, emit notices and watch status lines.
type Reporter struct {
	sink    Sink
	cwd     string
	newLine string

	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	green  *color.Color
	gray   *color.Color
}

// NewReporter creates a reporter writing to sink. File names in
// diagnostics are shown relative to cwd. Colour is only used when
// colored is set; test hosts always get plain text.
func NewReporter(sink Sink, cwd, newLine string, colored bool) *Reporter {
	r := &Reporter{
		sink:    sink,
		cwd:     cwd,
		newLine: newLine,
		red:     color.New(color.FgRed),
		yellow:  color.New(color.FgYellow),
		cyan:    color.New(color.FgCyan),
		green:   color.New(color.FgGreen),
		gray:    color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{r.red, r.yellow, r.cyan, r.green, r.gray} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// FormatDiagnostic renders one diagnostic line without the newline.
func (r *Reporter) FormatDiagnostic(d diag.Diagnostic) string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(r.cyan.Sprintf("%s(%d,%d)", tspath.RelativeTo(r.cwd, d.File), d.Line, d.Column))
		b.WriteString(": ")
	}
	category := r.red
	switch d.Category {
	case diag.Warning:
		category = r.yellow
	case diag.Message:
		category = r.gray
	}
	b.WriteString(category.Sprint(d.Category.String()))
	b.WriteString(r.gray.Sprintf(" TS%d", d.Code))
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Diagnostics writes every diagnostic on its own line.
func (r *Reporter) Diagnostics(ds []diag.Diagnostic) {
	for _, d := range ds {
		r.sink.Write(r.FormatDiagnostic(d) + r.newLine)
	}
}

// Notices writes preformatted emit notice lines.
func (r *Reporter) Notices(lines string) {
	if lines != "" {
		r.sink.Write(lines)
	}
}

// Status writes a timestamped watch status line.
func (r *Reporter) Status(now time.Time, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c := r.gray
	switch code {
	case diag.CodeCompilationComplete:
		c = r.green
	case diag.CodeFoundErrors:
		c = r.red
	}
	r.sink.Write(fmt.Sprintf("%s - %s%s", r.gray.Sprint(now.Format("15:04:05")), c.Sprint(msg), r.newLine))
}

// Summary writes the status that closes a compilation.
func (r *Reporter) Summary(now time.Time, errors int) {
	switch errors {
	case 0:
		r.Status(now, diag.CodeCompilationComplete, "Compilation complete. Watching for file changes.")
	case 1:
		r.Status(now, diag.CodeFoundErrors, "Found 1 error. Watching for file changes.")
	default:
		r.Status(now, diag.CodeFoundErrors, "Found %d errors. Watching for file changes.", errors)
	}
}
