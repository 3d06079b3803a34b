package tsconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ritzau/tswatch/pkg/diag"
)

// Options are the compiler options the engine understands.
type Options struct {
	Target           string   `json:"target,omitempty"`
	Module           string   `json:"module,omitempty"`
	ModuleResolution string   `json:"moduleResolution,omitempty"`
	Lib              []string `json:"lib,omitempty"`
	NoLib            bool     `json:"noLib,omitempty"`
	Types            []string `json:"types,omitempty"`
	TypesSet         bool     `json:"-"` // an explicit "types" list disables automatic @types inclusion
	TypeRoots        []string `json:"typeRoots,omitempty"` // nil means node_modules/@types of every ancestor
	OutFile          string   `json:"outFile,omitempty"`
	Out              string   `json:"out,omitempty"`
	OutDir           string   `json:"outDir,omitempty"`
	RootDir          string   `json:"rootDir,omitempty"`
	IsolatedModules  bool     `json:"isolatedModules,omitempty"`
	AllowJs          bool     `json:"allowJs,omitempty"`
	Declaration      bool     `json:"declaration,omitempty"`
	NoEmit           bool     `json:"noEmit,omitempty"`
	NoEmitOnError    bool     `json:"noEmitOnError,omitempty"`
	ListEmittedFiles bool     `json:"listEmittedFiles,omitempty"`
	AllowNonTs       bool     `json:"allowNonTsExtensions,omitempty"`
	SourceMap        bool     `json:"sourceMap,omitempty"`
	NoImplicitAny    bool     `json:"noImplicitAny,omitempty"`
	Strict           bool     `json:"strict,omitempty"`
	NewLine          string   `json:"newLine,omitempty"`
	ForceConsistent  bool     `json:"forceConsistentCasingInFileNames,omitempty"`
	SkipLibCheck     bool     `json:"skipLibCheck,omitempty"`
}

// Bundle returns the consolidated output path (outFile, else out).
func (o Options) Bundle() string {
	if o.OutFile != "" {
		return o.OutFile
	}
	return o.Out
}

// ResolvedModuleResolution returns the effective resolution strategy.
func (o Options) ResolvedModuleResolution() string {
	if o.ModuleResolution != "" {
		return o.ModuleResolution
	}
	switch o.Module {
	case "amd", "system", "umd", "es6", "es2015":
		return "classic"
	}
	return "node"
}

// EmitSignature captures every option whose change invalidates all
// outputs.
func (o Options) EmitSignature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%t|%t|%t|%s",
		o.Target, o.Module, o.OutFile, o.Out, o.OutDir, o.RootDir,
		o.Declaration, o.SourceMap, o.NoEmit, o.NewLine)
}

// ResolutionSignature captures every option whose change requires all
// module specifiers and libraries to be resolved again.
func (o Options) ResolutionSignature() string {
	return fmt.Sprintf("%s|%s|%t|%t|%s|%s|%t",
		o.ResolvedModuleResolution(), strings.Join(o.Lib, ","), o.NoLib,
		o.TypesSet, strings.Join(o.Types, ","), strings.Join(o.TypeRoots, ","), o.AllowJs)
}

type optionKind int

const (
	kindString optionKind = iota
	kindBool
	kindList
	kindPath
)

func (k optionKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindList:
		return "Array"
	default:
		return "string"
	}
}

type optionDecl struct {
	kind   optionKind
	values []string // allowed values for enum-like strings
	set    func(o *Options, v any, base string)
}

func stringOpt(field func(*Options) *string) func(*Options, any, string) {
	return func(o *Options, v any, _ string) { *field(o) = strings.ToLower(v.(string)) }
}

func pathOpt(field func(*Options) *string) func(*Options, any, string) {
	return func(o *Options, v any, base string) { *field(o) = resolvePath(base, v.(string)) }
}

func boolOpt(field func(*Options) *bool) func(*Options, any, string) {
	return func(o *Options, v any, _ string) { *field(o) = v.(bool) }
}

var optionTable = map[string]optionDecl{
	"target": {kind: kindString, values: []string{"es3", "es5", "es6", "es2015", "es2016", "es2017", "esnext"},
		set: stringOpt(func(o *Options) *string { return &o.Target })},
	"module": {kind: kindString, values: []string{"none", "commonjs", "amd", "system", "umd", "es6", "es2015", "esnext"},
		set: stringOpt(func(o *Options) *string { return &o.Module })},
	"moduleResolution": {kind: kindString, values: []string{"node", "classic"},
		set: stringOpt(func(o *Options) *string { return &o.ModuleResolution })},
	"newLine": {kind: kindString, values: []string{"crlf", "lf"},
		set: stringOpt(func(o *Options) *string { return &o.NewLine })},
	"lib": {kind: kindList, set: func(o *Options, v any, _ string) {
		o.Lib = lowerAll(toStrings(v))
	}},
	"types": {kind: kindList, set: func(o *Options, v any, _ string) {
		o.Types = toStrings(v)
		o.TypesSet = true
	}},
	"typeRoots": {kind: kindList, set: func(o *Options, v any, base string) {
		o.TypeRoots = []string{}
		for _, r := range toStrings(v) {
			o.TypeRoots = append(o.TypeRoots, resolvePath(base, r))
		}
	}},
	"outFile":                          {kind: kindPath, set: pathOpt(func(o *Options) *string { return &o.OutFile })},
	"out":                              {kind: kindPath, set: pathOpt(func(o *Options) *string { return &o.Out })},
	"outDir":                           {kind: kindPath, set: pathOpt(func(o *Options) *string { return &o.OutDir })},
	"rootDir":                          {kind: kindPath, set: pathOpt(func(o *Options) *string { return &o.RootDir })},
	"noLib":                            {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.NoLib })},
	"isolatedModules":                  {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.IsolatedModules })},
	"allowJs":                          {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.AllowJs })},
	"declaration":                      {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.Declaration })},
	"noEmit":                           {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.NoEmit })},
	"noEmitOnError":                    {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.NoEmitOnError })},
	"listEmittedFiles":                 {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.ListEmittedFiles })},
	"allowNonTsExtensions":             {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.AllowNonTs })},
	"sourceMap":                        {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.SourceMap })},
	"noImplicitAny":                    {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.NoImplicitAny })},
	"strict":                           {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.Strict })},
	"forceConsistentCasingInFileNames": {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.ForceConsistent })},
	"skipLibCheck":                     {kind: kindBool, set: boolOpt(func(o *Options) *bool { return &o.SkipLibCheck })},
}

// mutually exclusive option pairs, reported at both keys
var exclusivePairs = [][2]string{
	{"allowJs", "declaration"},
	{"out", "outFile"},
	{"isolatedModules", "declaration"},
}

func toStrings(v any) []string {
	var out []string
	for _, e := range v.([]any) {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func lowerAll(ss []string) []string {
	for i, s := range ss {
		ss[i] = strings.ToLower(s)
	}
	return ss
}

// optionEntry is one "name": value pair with the positions of key and
// value in the config text (or -1 when options come from code).
type optionEntry struct {
	name      string
	value     any
	keyOffset int
	valOffset int
}

type reporter func(offset int, code int, format string, args ...any)

func checkValue(decl optionDecl, name string, v any) (ok bool, code int, msg string) {
	switch decl.kind {
	case kindBool:
		if _, isBool := v.(bool); !isBool {
			return false, diag.CodeOptionWrongType, fmt.Sprintf("Compiler option '%s' requires a value of type boolean.", name)
		}
	case kindList:
		arr, isArr := v.([]any)
		if !isArr {
			return false, diag.CodeOptionWrongType, fmt.Sprintf("Compiler option '%s' requires a value of type Array.", name)
		}
		for _, e := range arr {
			if _, isStr := e.(string); !isStr {
				return false, diag.CodeOptionWrongType, fmt.Sprintf("Compiler option '%s' requires a value of type string.", name)
			}
		}
	default:
		s, isStr := v.(string)
		if !isStr {
			return false, diag.CodeOptionWrongType, fmt.Sprintf("Compiler option '%s' requires a value of type string.", name)
		}
		if len(decl.values) > 0 && !contains(decl.values, strings.ToLower(s)) {
			return false, diag.CodeInvalidArgument, fmt.Sprintf("Argument for '--%s' option must be: %s.", name, quoteAll(decl.values))
		}
	}
	return true, 0, ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func quoteAll(list []string) string {
	q := make([]string, len(list))
	for i, v := range list {
		q[i] = "'" + v + "'"
	}
	return strings.Join(q, ", ")
}

// applyOptions validates entries in order and sets the valid ones on o.
// Option names are case-sensitive.
func applyOptions(o *Options, entries []optionEntry, base string, report reporter) {
	seen := make(map[string]optionEntry)
	for _, e := range entries {
		decl, known := optionTable[e.name]
		if !known {
			report(e.keyOffset, diag.CodeUnknownOption, "Unknown compiler option '%s'.", e.name)
			continue
		}
		if ok, code, msg := checkValue(decl, e.name, e.value); !ok {
			report(e.valOffset, code, "%s", msg)
			continue
		}
		decl.set(o, e.value, base)
		seen[e.name] = e
	}

	for _, pair := range exclusivePairs {
		a, okA := seen[pair[0]]
		b, okB := seen[pair[1]]
		if !okA || !okB || !truthy(a.value) || !truthy(b.value) {
			continue
		}
		report(a.keyOffset, diag.CodeOptionsMutuallyExcl, "Option '%s' cannot be specified with option '%s'.", pair[0], pair[1])
		report(b.keyOffset, diag.CodeOptionsMutuallyExcl, "Option '%s' cannot be specified with option '%s'.", pair[0], pair[1])
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	default:
		return v != nil
	}
}

// ParseOptions builds Options from a plain option bag, as passed by API
// callers or the command line. Relative paths resolve against base.
// Diagnostics are global (not anchored to a file).
func ParseOptions(raw map[string]any, base string) (Options, []diag.Diagnostic) {
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)

	entries := make([]optionEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, optionEntry{name: n, value: normalizeValue(raw[n]), keyOffset: -1, valOffset: -1})
	}

	var opts Options
	var diags []diag.Diagnostic
	applyOptions(&opts, entries, base, func(_ int, code int, format string, args ...any) {
		diags = append(diags, diag.New(code, format, args...))
	})
	return opts, diags
}

// normalizeValue turns Go-typed values ([]string, int) into their JSON
// equivalents so validation treats API and file options alike.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return float64(t)
	}
	return v
}
