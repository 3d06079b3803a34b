package output

import (
	"strings"
	"testing"
	"time"

	"github.com/ritzau/tswatch/pkg/diag"
)

type buffer struct{ strings.Builder }

func (b *buffer) Write(s string) { b.WriteString(s) }

func TestPlainDiagnosticsMatchFormat(t *testing.T) {
	ds := []diag.Diagnostic{
		diag.At("/a/b/file1.ts", 1, 20, diag.CodeCannotFindModule, "Cannot find module '%s'.", "./moduleFile"),
		diag.FileNotFound("/a/b/tsconfig.json"),
	}
	var b buffer
	r := NewReporter(&b, "/", "\r\n", false)
	r.Diagnostics(ds)

	want := ds[0].Format("/") + "\r\n" + ds[1].Format("/") + "\r\n"
	if b.String() != want {
		t.Errorf("got %q, want %q", b.String(), want)
	}
	if !strings.HasPrefix(b.String(), "a/b/file1.ts(1,20): error TS2307:") {
		t.Errorf("unexpected prefix in %q", b.String())
	}
}

func TestColoredDiagnosticsKeepText(t *testing.T) {
	d := diag.At("/p/a.ts", 2, 3, diag.CodeFileNotFound, "File '%s' not found.", "/p/b.ts")
	r := NewReporter(&buffer{}, "/p", "\n", true)
	got := r.FormatDiagnostic(d)
	if !strings.Contains(got, "\x1b[") {
		t.Errorf("expected escape codes in %q", got)
	}
	if !strings.Contains(got, "a.ts(2,3)") || !strings.Contains(got, "File '/p/b.ts' not found.") {
		t.Errorf("colored output lost text: %q", got)
	}
}

func TestSummary(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 5, 7, 0, time.UTC)
	tests := []struct {
		errors int
		want   string
	}{
		{0, "09:05:07 - Compilation complete. Watching for file changes.\n"},
		{1, "09:05:07 - Found 1 error. Watching for file changes.\n"},
		{3, "09:05:07 - Found 3 errors. Watching for file changes.\n"},
	}
	for _, tt := range tests {
		var b buffer
		NewReporter(&b, "/", "\n", false).Summary(now, tt.errors)
		if b.String() != tt.want {
			t.Errorf("Summary(%d) = %q, want %q", tt.errors, b.String(), tt.want)
		}
	}
}
