package program

import (
	"io"
	"reflect"
	"sort"
	"testing"

	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/frontend"
	"github.com/ritzau/tswatch/pkg/host/memhost"
	"github.com/ritzau/tswatch/pkg/logging"
	"github.com/ritzau/tswatch/pkg/registry"
	"github.com/ritzau/tswatch/pkg/tsconfig"
)

func init() {
	logging.SetOutput(io.Discard)
}

func newRegistry(t *testing.T, h *memhost.Host) *registry.Registry {
	t.Helper()
	fe, err := frontend.New(0)
	if err != nil {
		t.Fatalf("frontend.New failed: %v", err)
	}
	return registry.New(fe, h.UseCaseSensitiveFileNames())
}

func build(t *testing.T, h *memhost.Host, roots []string, opts tsconfig.Options) *Program {
	t.Helper()
	return Build(BuildInput{System: h, RootNames: roots, Options: opts, Registry: newRegistry(t, h)})
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func checkFiles(t *testing.T, p *Program, want ...string) {
	t.Helper()
	if got := sorted(p.FileNames()); !reflect.DeepEqual(got, sorted(want)) {
		t.Errorf("program files = %v, want %v", got, sorted(want))
	}
}

func lines(p *Program) []string {
	var out []string
	for _, d := range p.Diagnostics {
		out = append(out, d.Format("/"))
	}
	return out
}

func TestBuildWithoutConfig(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/b/c/app.ts", `
                import {f} from "./module"
                console.log(f)
                `),
		memhost.File("/a/b/c/module.d.ts", `export let x: number`),
		memhost.LibFile,
	}, memhost.Options{})

	p := build(t, h, []string{"/a/b/c/app.ts"}, tsconfig.Options{})
	checkFiles(t, p, "/a/b/c/app.ts", "/a/b/c/module.d.ts", memhost.LibFile.Path)
	if p.Files[0].FileName != memhost.LibFile.Path {
		t.Errorf("library should come first, got %v", p.FileNames())
	}
	if !reflect.DeepEqual(p.Graph.EdgesOf("/a/b/c/app.ts"), []string{"/a/b/c/module.d.ts"}) {
		t.Errorf("edges = %v", p.Graph.EdgesOf("/a/b/c/app.ts"))
	}
	if !p.Graph.IsGlobal(memhost.LibFile.Path) || p.Graph.IsGlobal("/a/b/c/app.ts") {
		t.Error("unexpected global flags")
	}
}

func TestDependenciesPrecedeDependents(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/a.ts", `import {b} from "./b"; export const a = b;`),
		memhost.File("/p/b.ts", `import {c} from "./c"; export const b = c;`),
		memhost.File("/p/c.ts", `export const c = 1;`),
	}, memhost.Options{})

	p := build(t, h, []string{"/p/a.ts"}, tsconfig.Options{})
	want := []string{"/p/c.ts", "/p/b.ts", "/p/a.ts"}
	if !reflect.DeepEqual(p.FileNames(), want) {
		t.Errorf("order = %v, want %v", p.FileNames(), want)
	}
}

func TestMissingModuleDiagnostic(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/b/file1.ts", "import * as T from './moduleFile'; T.bar();"),
		memhost.LibFile,
	}, memhost.Options{})

	p := build(t, h, []string{"/a/b/file1.ts"}, tsconfig.Options{})
	want := "a/b/file1.ts(1,20): error TS2307: Cannot find module './moduleFile'."
	if got := lines(p); !reflect.DeepEqual(got, []string{want}) {
		t.Errorf("diagnostics = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(p.FailedLookupDirs, []string{"/a/b"}) {
		t.Errorf("FailedLookupDirs = %v", p.FailedLookupDirs)
	}
}

func TestMissingRootAndReference(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/b/commonFile1.ts", `/// <reference path="commonFile2.ts"/>
let x = y`),
		memhost.LibFile,
	}, memhost.Options{})

	p := build(t, h, []string{"/a/b/commonFile1.ts", "/a/b/missing.ts"}, tsconfig.Options{})
	checkFiles(t, p, "/a/b/commonFile1.ts", memhost.LibFile.Path)
	if len(p.RootNames) != 2 {
		t.Errorf("RootNames must keep missing roots: %v", p.RootNames)
	}
	want := []string{
		"error TS6053: File '/a/b/missing.ts' not found.",
		"a/b/commonFile1.ts(1,22): error TS6053: File '/a/b/commonFile2.ts' not found.",
	}
	if got := lines(p); !reflect.DeepEqual(got, want) {
		t.Errorf("diagnostics = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(p.MissingFiles, []string{"/a/b/commonFile2.ts", "/a/b/missing.ts"}) {
		t.Errorf("MissingFiles = %v", p.MissingFiles)
	}
}

func TestReferenceWithoutExtension(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/a.ts", `/// <reference path="./b"/>
var a = 1;`),
		memhost.File("/p/b.d.ts", `declare var b: number;`),
	}, memhost.Options{})

	p := build(t, h, []string{"/p/a.ts"}, tsconfig.Options{})
	checkFiles(t, p, "/p/a.ts", "/p/b.d.ts")
	if len(p.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics %v", lines(p))
	}
}

func TestCircularReferences(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/b/file1.ts", `
                    /// <reference path="./file2.ts" />
                    export var t1 = 10;`),
		memhost.File("/a/b/file2.ts", `
                    /// <reference path="./file1.ts" />
                    export var t2 = 10;`),
	}, memhost.Options{})

	p := build(t, h, []string{"/a/b/file1.ts", "/a/b/file2.ts"}, tsconfig.Options{})
	checkFiles(t, p, "/a/b/file1.ts", "/a/b/file2.ts")
	if !reflect.DeepEqual(p.Graph.DependentsOf("/a/b/file1.ts"), []string{"/a/b/file2.ts"}) ||
		!reflect.DeepEqual(p.Graph.DependentsOf("/a/b/file2.ts"), []string{"/a/b/file1.ts"}) {
		t.Error("expected a two-file cycle")
	}
}

func TestModuleResolutionStrategies(t *testing.T) {
	entries := []memhost.Entry{
		memhost.File("/a/b/file1.ts", `import * as T from "module1"`),
		memhost.File("/a/b/node_modules/module1.ts", `export interface T {}`),
		memhost.File("/a/module1.ts", `export interface T {}`),
	}

	h := memhost.New(entries, memhost.Options{})
	p := build(t, h, []string{"/a/b/file1.ts"}, tsconfig.Options{ModuleResolution: "node"})
	checkFiles(t, p, "/a/b/file1.ts", "/a/b/node_modules/module1.ts")
	if !p.IsExternal("/a/b/node_modules/module1.ts") {
		t.Error("node_modules file should be external")
	}

	p = build(t, h, []string{"/a/b/file1.ts"}, tsconfig.Options{ModuleResolution: "classic"})
	checkFiles(t, p, "/a/b/file1.ts", "/a/module1.ts")
}

func TestPackageJSONTypes(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/app.ts", `import {x} from "lib"`),
		memhost.File("/p/node_modules/lib/package.json", `{"name": "lib", "types": "dist/main.d.ts"}`),
		memhost.File("/p/node_modules/lib/dist/main.d.ts", `export declare const x: number;`),
	}, memhost.Options{})

	p := build(t, h, []string{"/p/app.ts"}, tsconfig.Options{})
	checkFiles(t, p, "/p/app.ts", "/p/node_modules/lib/dist/main.d.ts")
}

func TestLibOption(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/compiler/lib.es5.d.ts", "declare const eval: any"),
		memhost.File("/compiler/lib.es2015.promise.d.ts", "declare class Promise<T> {}"),
		memhost.File("/src/app.ts", "var x: Promise<string>;"),
	}, memhost.Options{ExecutingFilePath: "/compiler/tsc.js"})

	p := build(t, h, []string{"/src/app.ts"}, tsconfig.Options{Lib: []string{"es5"}})
	checkFiles(t, p, "/compiler/lib.es5.d.ts", "/src/app.ts")

	p = build(t, h, []string{"/src/app.ts"}, tsconfig.Options{Lib: []string{"es5", "es2015.promise"}})
	checkFiles(t, p, "/compiler/lib.es5.d.ts", "/compiler/lib.es2015.promise.d.ts", "/src/app.ts")
	if !p.IsLib("/compiler/lib.es2015.promise.d.ts") {
		t.Error("expected lib file")
	}

	p = build(t, h, []string{"/src/app.ts"}, tsconfig.Options{Lib: []string{"dom"}})
	if got := lines(p); len(got) != 1 || got[0] != "error TS6053: File '/compiler/lib.dom.d.ts' not found." {
		t.Errorf("diagnostics = %v", got)
	}
}

func TestTypesFromConfigDirectory(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/b/app.ts", "let x = 1"),
		memhost.File("/a/b/node_modules/@types/node/index.d.ts", "declare var process: any"),
		memhost.Folder("/a/c"),
	}, memhost.Options{CurrentDirectory: "/a/c"})

	p := Build(BuildInput{
		System:    h,
		RootNames: []string{"/a/b/app.ts"},
		Options:   tsconfig.Options{Types: []string{"node"}, TypesSet: true, TypeRoots: []string{}},
		Registry:  newRegistry(t, h),
		BaseDir:   "/a/b",
	})
	checkFiles(t, p, "/a/b/app.ts", "/a/b/node_modules/@types/node/index.d.ts")
}

func TestAutomaticTypesWithEmptyFileList(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/app.ts", "let x = 1"),
		memhost.File("/a/node_modules/@types/typings/index.d.ts", `export * from "./lib"`),
		memhost.File("/a/node_modules/@types/typings/lib.d.ts", `export const x: number`),
	}, memhost.Options{CurrentDirectory: "/a"})

	p := build(t, h, nil, tsconfig.Options{})
	checkFiles(t, p, "/a/node_modules/@types/typings/index.d.ts", "/a/node_modules/@types/typings/lib.d.ts")
	if !reflect.DeepEqual(p.TypeRootDirs, []string{"/a/node_modules/@types"}) {
		t.Errorf("TypeRootDirs = %v", p.TypeRootDirs)
	}
}

func TestMissingTypeReference(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/a.ts", `/// <reference types="jquery"/>
let x = 1`),
	}, memhost.Options{})

	p := build(t, h, []string{"/p/a.ts"}, tsconfig.Options{})
	if len(p.Diagnostics) != 1 || p.Diagnostics[0].Code != diag.CodeCannotFindTypeDef || p.Diagnostics[0].Column != 23 {
		t.Errorf("diagnostics = %v", lines(p))
	}
}

func TestFilesWithoutExtensions(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/a/compile", "let x = 1"),
		memhost.LibFile,
	}, memhost.Options{})

	p := build(t, h, []string{"/a/compile"}, tsconfig.Options{AllowNonTs: true})
	checkFiles(t, p, "/a/compile", memhost.LibFile.Path)

	p = build(t, h, []string{"/a/compile"}, tsconfig.Options{})
	if len(p.Diagnostics) != 1 || p.Diagnostics[0].Code != diag.CodeUnsupportedExt {
		t.Errorf("diagnostics = %v", lines(p))
	}
}

func TestNoLibAndMissingDefaultLib(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/a.ts", "let x = 1"),
		memhost.LibFile,
	}, memhost.Options{})
	p := build(t, h, []string{"/p/a.ts"}, tsconfig.Options{NoLib: true})
	checkFiles(t, p, "/p/a.ts")

	h = memhost.New([]memhost.Entry{memhost.File("/p/a.ts", "let x = 1")}, memhost.Options{})
	p = build(t, h, []string{"/p/a.ts"}, tsconfig.Options{})
	checkFiles(t, p, "/p/a.ts")
	if len(p.Diagnostics) != 0 {
		t.Errorf("a missing default library is silent, got %v", lines(p))
	}
}

func TestCleanFilesAreNotReread(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/a.ts", `import {b} from "./b"; export const a = b;`),
		memhost.File("/p/b.ts", `export const b = 1;`),
	}, memhost.Options{})
	reg := newRegistry(t, h)
	in := BuildInput{System: h, RootNames: []string{"/p/a.ts"}, Registry: reg}
	first := Build(in)

	if err := h.WriteFile("/p/b.ts", []byte(`export const b = "changed";`)); err != nil {
		t.Fatal(err)
	}
	in.Dirty = map[string]bool{}
	second := Build(in)
	b1, _ := first.File("/p/b.ts")
	b2, _ := second.File("/p/b.ts")
	if b1 != b2 {
		t.Error("clean file should reuse the registry entry")
	}

	in.Dirty = map[string]bool{"/p/b.ts": true}
	third := Build(in)
	b3, _ := third.File("/p/b.ts")
	if b3 == b1 || b3.Version != 2 {
		t.Errorf("dirty file should be re-read, got version %d", b3.Version)
	}

	d := registry.DiffSnapshots(first.Snapshot(), third.Snapshot())
	if len(d.Changed) != 1 || !d.Changed[0].ShapeChanged() {
		t.Errorf("diff = %+v", d)
	}
}

func TestRegistryIsPrunedToProgram(t *testing.T) {
	h := memhost.New([]memhost.Entry{
		memhost.File("/p/a.ts", `import {b} from "./b"; export const a = b;`),
		memhost.File("/p/b.ts", `export const b = 1;`),
	}, memhost.Options{})
	reg := newRegistry(t, h)
	Build(BuildInput{System: h, RootNames: []string{"/p/a.ts"}, Registry: reg})
	if reg.Len() != 2 {
		t.Fatalf("registry holds %d files", reg.Len())
	}

	h.WriteFile("/p/a.ts", []byte(`export const a = 1;`))
	Build(BuildInput{System: h, RootNames: []string{"/p/a.ts"}, Registry: reg, Dirty: map[string]bool{"/p/a.ts": true}})
	if _, ok := reg.Get("/p/b.ts"); ok {
		t.Error("unreferenced file should leave the registry")
	}
}
