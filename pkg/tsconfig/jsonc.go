package tsconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-json-experiment/json/jsontext"
)

// object is a decoded JSON object that remembers key order and where
// each key and value starts in the source text.
type object struct {
	keys       []string
	values     map[string]any
	keyOffsets map[string]int
	valOffsets map[string]int
}

func newObject() *object {
	return &object{
		values:     make(map[string]any),
		keyOffsets: make(map[string]int),
		valOffsets: make(map[string]int),
	}
}

func (o *object) set(key string, v any, keyOff, valOff int) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
	o.keyOffsets[key] = keyOff
	o.valOffsets[key] = valOff
}

// plain converts the object tree into map[string]any / []any values.
func (o *object) plain() map[string]any {
	m := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		m[k] = plainValue(o.values[k])
	}
	return m
}

func plainValue(v any) any {
	switch t := v.(type) {
	case *object:
		return t.plain()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	}
	return v
}

// syntaxError is a JSON error at a byte offset of the sanitized text.
type syntaxError struct {
	offset int
	msg    string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.offset, e.msg)
}

// sanitize blanks out comments and trailing commas. Every byte keeps its
// offset and newlines are preserved, so positions computed on the result
// are positions in the original text.
func sanitize(text []byte) []byte {
	out := append([]byte(nil), text...)
	inString := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			for i < len(out) && !(out[i] == '*' && i+1 < len(out) && out[i+1] == '/') {
				if out[i] != '\n' && out[i] != '\r' {
					out[i] = ' '
				}
				i++
			}
			if i < len(out) {
				out[i], out[i+1] = ' ', ' '
				i++
			}
		}
	}

	// trailing commas, now that comments are gone
	inString = false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if c != ',' {
			continue
		}
		j := skipSpace(out, i+1)
		if j < len(out) && (out[j] == '}' || out[j] == ']') {
			out[i] = ' '
		}
	}
	return out
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return i
}

// tokenStart finds where the next token begins after offset, skipping
// whitespace and separators.
func tokenStart(b []byte, offset int) int {
	for offset < len(b) {
		switch b[offset] {
		case ' ', '\t', '\n', '\r', ',', ':':
			offset++
		default:
			return offset
		}
	}
	return offset
}

type jsonParser struct {
	text []byte
	dec  *jsontext.Decoder
}

// parseJSONC decodes a commented JSON document. On a syntax error the
// returned object holds everything decoded before the error.
func parseJSONC(raw []byte) (*object, []byte, error) {
	text := sanitize(raw)
	p := &jsonParser{
		text: text,
		dec:  jsontext.NewDecoder(bytes.NewReader(text), jsontext.AllowDuplicateNames(true), jsontext.AllowInvalidUTF8(true)),
	}

	root := newObject()
	start := tokenStart(text, 0)
	if start >= len(text) {
		return root, text, nil
	}
	tok, err := p.dec.ReadToken()
	if err != nil {
		return root, text, p.wrap(err, start, "'{' expected.")
	}
	if tok.Kind() != '{' {
		return root, text, &syntaxError{offset: start, msg: "'{' expected."}
	}
	if err := p.fillObject(root); err != nil {
		return root, text, err
	}
	return root, text, nil
}

func (p *jsonParser) offset() int {
	return tokenStart(p.text, int(p.dec.InputOffset()))
}

func (p *jsonParser) wrap(err error, fallback int, msg string) error {
	var se *jsontext.SyntacticError
	if errors.As(err, &se) {
		return &syntaxError{offset: int(se.ByteOffset), msg: msg}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &syntaxError{offset: len(p.text), msg: msg}
	}
	return &syntaxError{offset: fallback, msg: msg}
}

// fillObject reads members until the closing brace; the opening brace
// has been consumed.
func (p *jsonParser) fillObject(obj *object) error {
	for {
		keyOff := p.offset()
		tok, err := p.dec.ReadToken()
		if err != nil {
			return p.wrap(err, keyOff, "'}' expected.")
		}
		if tok.Kind() == '}' {
			return nil
		}
		key := tok.String()

		valOff := p.offset()
		v, err := p.value()
		if err != nil {
			// keep what we have so far of nested containers
			if v != nil {
				obj.set(key, v, keyOff, valOff)
			}
			return err
		}
		obj.set(key, v, keyOff, valOff)
	}
}

func (p *jsonParser) value() (any, error) {
	off := p.offset()
	tok, err := p.dec.ReadToken()
	if err != nil {
		return nil, p.wrap(err, off, "',' expected.")
	}
	switch tok.Kind() {
	case '{':
		obj := newObject()
		return obj, p.fillObject(obj)
	case '[':
		var arr []any
		for {
			elemOff := p.offset()
			if p.dec.PeekKind() == ']' {
				if _, err := p.dec.ReadToken(); err != nil {
					return arr, p.wrap(err, elemOff, "']' expected.")
				}
				if arr == nil {
					arr = []any{}
				}
				return arr, nil
			}
			v, err := p.value()
			if err != nil {
				if v != nil {
					arr = append(arr, v)
				}
				return arr, err
			}
			arr = append(arr, v)
		}
	case '"':
		return tok.String(), nil
	case '0':
		return tok.Float(), nil
	case 't', 'f':
		return tok.Bool(), nil
	case 'n':
		return nil, nil
	}
	return nil, &syntaxError{offset: off, msg: "Expression expected."}
}
