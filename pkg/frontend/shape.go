package frontend

import (
	"encoding/hex"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"lukechampine.com/blake3"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// shapeOf hashes the declaration surface other files can observe. For a
// module that is its exports; for a global script every top-level
// declaration. Function and method bodies and variable initialisers
// (beyond their inferred type) do not contribute.
func shapeOf(root *sitter.Node, src []byte, global bool) string {
	h := blake3.New(32, nil)
	if global {
		h.Write([]byte("global\n"))
	} else {
		h.Write([]byte("module\n"))
	}

	locals := make(map[string]*sitter.Node)
	if !global {
		for i := 0; i < int(root.ChildCount()); i++ {
			n := root.Child(i)
			if name := declName(n, src); name != "" {
				locals[name] = n
			}
		}
	}

	for i := 0; i < int(root.ChildCount()); i++ {
		n := root.Child(i)
		var sig string
		switch {
		case global:
			sig = signature(n, src)
		case n.Type() == "export_statement":
			sig = exportSignature(n, src, locals)
		case n.Type() == "ambient_declaration":
			sig = collapse(n.Content(src))
		}
		if sig != "" {
			h.Write([]byte(sig))
			h.Write([]byte{'\n'})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func exportSignature(n *sitter.Node, src []byte, locals map[string]*sitter.Node) string {
	if d := n.ChildByFieldName("declaration"); d != nil {
		prefix := "export "
		if isDefault(n) {
			prefix = "export default "
		}
		return prefix + signature(d, src)
	}
	if n.ChildByFieldName("source") != nil {
		return collapse(n.Content(src))
	}
	if v := n.ChildByFieldName("value"); v != nil {
		return "export default " + inferType(v, src, false)
	}

	// export { a, b as c }; export = x
	var b strings.Builder
	b.WriteString(collapse(n.Content(src)))
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "export_clause":
			for j := 0; j < int(c.ChildCount()); j++ {
				spec := c.Child(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				if name := spec.ChildByFieldName("name"); name != nil {
					if local, ok := locals[name.Content(src)]; ok {
						b.WriteString("\n" + signature(local, src))
					}
				}
			}
		case "identifier":
			if local, ok := locals[c.Content(src)]; ok {
				b.WriteString("\n" + signature(local, src))
			}
		}
	}
	return b.String()
}

func isDefault(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "default" {
			return true
		}
	}
	return false
}

func declName(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if c.Type() == "variable_declarator" {
				if name := c.ChildByFieldName("name"); name != nil {
					return name.Content(src)
				}
			}
		}
		return ""
	}
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	return ""
}

// signature renders a top-level declaration without implementation detail.
// Statements that declare nothing yield "".
func signature(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature":
		return withoutBody(n, src)
	case "class_declaration", "abstract_class_declaration", "class":
		return classSignature(n, src)
	case "lexical_declaration", "variable_declaration":
		return variableSignature(n, src)
	case "interface_declaration", "type_alias_declaration", "enum_declaration",
		"ambient_declaration", "module", "internal_module", "import_alias":
		return collapse(n.Content(src))
	case "expression_statement":
		// namespace Foo {} parses as an expression statement wrapping internal_module
		if c := n.Child(0); c != nil && c.Type() == "internal_module" {
			return collapse(c.Content(src))
		}
	}
	return ""
}

func withoutBody(n *sitter.Node, src []byte) string {
	body := n.ChildByFieldName("body")
	if body == nil {
		return collapse(n.Content(src))
	}
	return collapse(string(src[n.StartByte():body.StartByte()]))
}

func classSignature(n *sitter.Node, src []byte) string {
	body := n.ChildByFieldName("body")
	if body == nil {
		return collapse(n.Content(src))
	}
	var b strings.Builder
	b.WriteString(collapse(string(src[n.StartByte():body.StartByte()])))
	b.WriteString(" {")
	for i := 0; i < int(body.ChildCount()); i++ {
		m := body.Child(i)
		switch m.Type() {
		case "method_definition", "method_signature", "abstract_method_signature":
			b.WriteString(" " + withoutBody(m, src) + ";")
		case "public_field_definition":
			b.WriteString(" " + fieldSignature(m, src) + ";")
		case "index_signature":
			b.WriteString(" " + collapse(m.Content(src)) + ";")
		}
	}
	b.WriteString(" }")
	return b.String()
}

func fieldSignature(m *sitter.Node, src []byte) string {
	value := m.ChildByFieldName("value")
	if value == nil {
		return collapse(m.Content(src))
	}
	head := collapse(string(src[m.StartByte():value.StartByte()]))
	head = strings.TrimSpace(strings.TrimSuffix(head, "="))
	if m.ChildByFieldName("type") != nil {
		return head
	}
	return head + ": " + inferType(value, src, false)
}

func variableSignature(n *sitter.Node, src []byte) string {
	kind := ""
	if c := n.Child(0); c != nil {
		kind = c.Type() // let, const or var
	}
	var parts []string
	for i := 0; i < int(n.ChildCount()); i++ {
		d := n.Child(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		name := d.ChildByFieldName("name")
		if name == nil {
			continue
		}
		part := collapse(name.Content(src))
		if t := d.ChildByFieldName("type"); t != nil {
			part += collapse(t.Content(src))
		} else if v := d.ChildByFieldName("value"); v != nil {
			part += ": " + inferType(v, src, kind == "const")
		}
		parts = append(parts, part)
	}
	return kind + " " + strings.Join(parts, ", ")
}

// inferType approximates the declared type of an initialiser. Constants
// keep their literal type; mutable bindings widen to the primitive.
func inferType(v *sitter.Node, src []byte, literal bool) string {
	switch v.Type() {
	case "number":
		if literal {
			return v.Content(src)
		}
		return "number"
	case "string", "template_string":
		if literal && v.Type() == "string" {
			return v.Content(src)
		}
		return "string"
	case "true", "false":
		if literal {
			return v.Type()
		}
		return "boolean"
	case "null":
		return "null"
	case "undefined":
		return "undefined"
	case "arrow_function", "function", "function_expression", "generator_function":
		return withoutBody(v, src)
	case "as_expression", "satisfies_expression":
		if t := v.Child(int(v.ChildCount()) - 1); t != nil {
			return collapse(t.Content(src))
		}
	case "new_expression":
		if c := v.ChildByFieldName("constructor"); c != nil {
			return collapse(c.Content(src))
		}
	}
	return collapse(v.Content(src))
}
