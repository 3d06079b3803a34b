// Package emit writes the JavaScript outputs of a program. Only affected
// inputs are regenerated; outputs of unaffected files are never touched.
package emit

import (
	"errors"
	"strings"

	"github.com/ritzau/tswatch/pkg/affected"
	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/host"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/program"
	"github.com/ritzau/tswatch/pkg/registry"
	"github.com/ritzau/tswatch/pkg/tsconfig"
	"github.com/ritzau/tswatch/pkg/tspath"
)

var log = logging.New("emit")

// Artifact is one written output file.
type Artifact struct {
	Path string
	// Sources are the canonical keys of the inputs it was generated from.
	Sources []string
}

// Result describes one emit pass.
type Result struct {
	Artifacts   []Artifact
	Diagnostics []diag.Diagnostic
	// Skipped is set when noEmitOnError suppressed the emit.
	Skipped bool
}

// Notices returns the "TSFILE: <path>" line for every written artifact,
// each terminated by newLine.
func (r Result) Notices(newLine string) string {
	var b strings.Builder
	for _, a := range r.Artifacts {
		b.WriteString("TSFILE: ")
		b.WriteString(a.Path)
		b.WriteString(newLine)
	}
	return b.String()
}

// Emitter writes outputs through a host.
type Emitter struct {
	sys host.System
	gen Generator
}

// New creates an emitter. A nil gen uses ESBuild.
func New(sys host.System, gen Generator) *Emitter {
	if gen == nil {
		gen = ESBuild{}
	}
	return &Emitter{sys: sys, gen: gen}
}

// Emit writes the outputs for the affected files of p: one artifact per
// affected input, or the whole bundle when outFile/out is set and
// anything is affected.
func (e *Emitter) Emit(p *program.Program, aff affected.Result) Result {
	var res Result
	opts := p.Options
	if opts.NoEmit || aff.Empty() {
		return res
	}
	if opts.NoEmitOnError && p.HasErrors() {
		log.Debug("Skipping emit, program has errors")
		res.Skipped = true
		return res
	}

	nl := newLine(e.sys, opts.NewLine)
	if bundle := opts.Bundle(); bundle != "" {
		e.emitBundle(p, bundle, nl, &res)
		return res
	}

	commonDir := sourceRoot(p, e.sys.UseCaseSensitiveFileNames())
	for _, key := range aff.Files {
		sf, ok := p.File(key)
		if !ok || !emittable(p, sf) {
			continue
		}
		out := OutputPath(sf.FileName, opts, commonDir)
		if tspath.Canonical(out, e.sys.UseCaseSensitiveFileNames()) == sf.Path {
			res.Diagnostics = append(res.Diagnostics, diag.New(diag.CodeOverwritesInput,
				"Cannot write file '%s' because it would overwrite input file.", out))
			continue
		}
		o, err := e.gen.Generate(sf, opts)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, generateDiagnostics(sf, err)...)
			continue
		}
		e.write(out, o, []string{key}, nl, &res)
	}
	return res
}

func (e *Emitter) emitBundle(p *program.Program, bundle, nl string, res *Result) {
	var code []byte
	var sources []string
	for _, sf := range p.Files {
		if !emittable(p, sf) {
			continue
		}
		o, err := e.gen.Generate(sf, p.Options)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, generateDiagnostics(sf, err)...)
			continue
		}
		code = append(code, o.Code...)
		sources = append(sources, sf.Path)
	}
	// the bundle keeps no per-file source map
	e.write(bundle, Output{Code: code}, sources, nl, res)
}

func (e *Emitter) write(out string, o Output, sources []string, nl string, res *Result) {
	code := withNewLine(o.Code, nl)
	if len(o.Map) > 0 {
		mapPath := out + ".map"
		if err := e.sys.WriteFile(mapPath, o.Map); err != nil {
			res.Diagnostics = append(res.Diagnostics, writeDiagnostic(mapPath, err))
			return
		}
		code = append(code, []byte("//# sourceMappingURL="+tspath.Base(mapPath)+nl)...)
		res.Artifacts = append(res.Artifacts, Artifact{Path: mapPath, Sources: sources})
	}
	if err := e.sys.WriteFile(out, code); err != nil {
		res.Diagnostics = append(res.Diagnostics, writeDiagnostic(out, err))
		return
	}
	log.Debug("Wrote output", "path", out)
	res.Artifacts = append(res.Artifacts, Artifact{Path: out, Sources: sources})
}

func emittable(p *program.Program, sf *registry.SourceFile) bool {
	return !sf.IsDeclaration && !p.IsLib(sf.Path) && !p.IsExternal(sf.Path)
}

// OutputPath maps an input file to its JavaScript output. With outDir the
// path relative to commonDir is kept below outDir.
func OutputPath(fileName string, opts tsconfig.Options, commonDir string) string {
	out := tspath.ChangeExtension(fileName, ".js")
	if opts.OutDir == "" {
		return out
	}
	base := commonDir
	if opts.RootDir != "" {
		base = opts.RootDir
	}
	return tspath.Combine(opts.OutDir, tspath.RelativeTo(base, out))
}

// sourceRoot is the deepest directory holding every emitted input.
func sourceRoot(p *program.Program, caseSensitive bool) string {
	var names []string
	for _, sf := range p.Files {
		if emittable(p, sf) {
			names = append(names, sf.FileName)
		}
	}
	return tspath.CommonDir(names, caseSensitive)
}

func newLine(sys host.System, option string) string {
	switch option {
	case "crlf":
		return "\r\n"
	case "lf":
		return "\n"
	}
	return sys.NewLine()
}

func withNewLine(code []byte, nl string) []byte {
	if nl == "\n" {
		return append([]byte(nil), code...)
	}
	return []byte(strings.ReplaceAll(string(code), "\n", nl))
}

func generateDiagnostics(sf *registry.SourceFile, err error) []diag.Diagnostic {
	var ge *GenerateError
	if !errors.As(err, &ge) {
		return []diag.Diagnostic{diag.New(diag.CodeEmitFailed, "Could not generate output for '%s': %v.", sf.FileName, err)}
	}
	out := make([]diag.Diagnostic, 0, len(ge.Messages))
	for _, m := range ge.Messages {
		out = append(out, diag.At(sf.FileName, m.Line, m.Column, diag.CodeEmitFailed, "%s", m.Text))
	}
	return out
}

func writeDiagnostic(path string, err error) diag.Diagnostic {
	return diag.New(diag.CodeEmitFailed, "Could not write file '%s': %v.", path, err)
}
