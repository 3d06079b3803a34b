// Package frontend parses TypeScript sources with tree-sitter and extracts
// what the watch engine needs: dependency edges, module kind, syntax
// errors and a shape hash of the file's externally visible declarations.
package frontend

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"lukechampine.com/blake3"

	"github.com/ritzau/tswatch/pkg/diag"
	"github.com/ritzau/tswatch/pkg/tspath"
)

// Import is a module specifier. Line/Column locate the opening quote.
type Import struct {
	Specifier string
	Line      int
	Column    int
}

// Reference is a triple-slash directive. Line/Column locate the value.
type Reference struct {
	Path   string
	Line   int
	Column int
}

// Info is the result of parsing one file.
type Info struct {
	ContentHash    string
	Shape          string
	IsGlobal       bool
	Imports        []Import
	References     []Reference
	TypeReferences []Reference
	NoDefaultLib   bool
	Diagnostics    []diag.Diagnostic
}

// Frontend parses a file's content.
type Frontend interface {
	Parse(fileName string, content []byte) (*Info, error)
}

// DefaultCacheSize bounds the number of parse results kept by TreeSitter.
const DefaultCacheSize = 4096

// TreeSitter is the default Frontend.
type TreeSitter struct {
	mu     sync.Mutex
	ts     *sitter.Parser
	tsx    *sitter.Parser
	cache  *lru.Cache[string, *Info]
	parses int
}

var _ Frontend = (*TreeSitter)(nil)

// New creates a TreeSitter frontend caching up to cacheSize results.
func New(cacheSize int) (*TreeSitter, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Info](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating parse cache: %w", err)
	}

	tsParser := sitter.NewParser()
	tsParser.SetLanguage(typescript.GetLanguage())
	tsxParser := sitter.NewParser()
	tsxParser.SetLanguage(tsx.GetLanguage())

	return &TreeSitter{ts: tsParser, tsx: tsxParser, cache: cache}, nil
}

// ContentHash returns the hex BLAKE3 digest of content.
func ContentHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Parse implements Frontend. Results are cached by content hash and
// grammar, so a delete/re-add round trip does not reparse; diagnostics
// are re-anchored to fileName on every call.
func (f *TreeSitter) Parse(fileName string, content []byte) (*Info, error) {
	ext := tspath.Extension(fileName)
	jsx := ext == ".tsx" || ext == ".jsx"
	hash := ContentHash(content)
	key := hash
	if jsx {
		key = "tsx:" + hash
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	info, ok := f.cache.Get(key)
	if !ok {
		parser := f.ts
		if jsx {
			parser = f.tsx
		}
		tree, err := parser.ParseCtx(context.Background(), nil, content)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", fileName, err)
		}
		info = analyze(tree.RootNode(), content)
		info.ContentHash = hash
		tree.Close()
		f.parses++
		f.cache.Add(key, info)
	}

	out := *info
	out.Diagnostics = make([]diag.Diagnostic, len(info.Diagnostics))
	for i, d := range info.Diagnostics {
		d.File = fileName
		out.Diagnostics[i] = d
	}
	return &out, nil
}

func analyze(root *sitter.Node, src []byte) *Info {
	info := &Info{IsGlobal: true}

	for i := 0; i < int(root.ChildCount()); i++ {
		n := root.Child(i)
		switch n.Type() {
		case "comment":
			collectDirective(info, n, src)
		case "import_statement":
			info.IsGlobal = false
			if s := importSource(n); s != nil {
				info.Imports = append(info.Imports, importOf(s, src))
			}
		case "export_statement":
			info.IsGlobal = false
			if s := n.ChildByFieldName("source"); s != nil {
				info.Imports = append(info.Imports, importOf(s, src))
			}
		}
	}

	info.Diagnostics = syntaxErrors(root, src)
	info.Shape = shapeOf(root, src, info.IsGlobal)
	return info
}

func importSource(n *sitter.Node) *sitter.Node {
	if s := n.ChildByFieldName("source"); s != nil {
		return s
	}
	// import x = require("./m")
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "import_require_clause" {
			return c.ChildByFieldName("source")
		}
	}
	return nil
}

func importOf(s *sitter.Node, src []byte) Import {
	p := s.StartPoint()
	return Import{
		Specifier: unquote(s.Content(src)),
		Line:      int(p.Row) + 1,
		Column:    int(p.Column) + 1,
	}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'' || s[0] == '`') {
		return s[1 : len(s)-1]
	}
	return s
}

var (
	directiveRe    = regexp.MustCompile(`^///\s*<reference\s+`)
	directiveArgRe = regexp.MustCompile(`(path|types|no-default-lib)\s*=\s*("([^"]*)"|'([^']*)')`)
)

func collectDirective(info *Info, n *sitter.Node, src []byte) {
	text := n.Content(src)
	if !directiveRe.MatchString(text) {
		return
	}
	m := directiveArgRe.FindStringSubmatchIndex(text)
	if m == nil {
		return
	}
	name := text[m[2]:m[3]]
	valStart, valEnd := m[6], m[7]
	if valStart < 0 {
		valStart, valEnd = m[8], m[9]
	}
	value := text[valStart:valEnd]
	p := n.StartPoint()
	ref := Reference{Path: value, Line: int(p.Row) + 1, Column: int(p.Column) + valStart + 1}

	switch name {
	case "path":
		info.References = append(info.References, ref)
	case "types":
		info.TypeReferences = append(info.TypeReferences, ref)
	case "no-default-lib":
		info.NoDefaultLib = value == "true"
	}
}

func syntaxErrors(root *sitter.Node, src []byte) []diag.Diagnostic {
	if !root.HasError() {
		return nil
	}
	var out []diag.Diagnostic
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if !n.HasError() && !n.IsMissing() {
			return
		}
		p := n.StartPoint()
		line, col := int(p.Row)+1, int(p.Column)+1
		switch {
		case n.IsMissing():
			out = append(out, diag.At("", line, col, diag.CodeExpected, "'%s' expected.", n.Type()))
			return
		case n.Type() == "ERROR":
			out = append(out, diag.At("", line, col, diag.CodeDeclarationExpected, "Declaration or statement expected."))
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

// IsSupportedSource reports whether p is a file the frontend parses.
func IsSupportedSource(p string, allowJS bool) bool {
	return tspath.HasTSExtension(p) || (allowJS && tspath.HasJSExtension(p))
}
