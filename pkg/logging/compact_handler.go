package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// CompactOptions configures a CompactHandler.
type CompactOptions struct {
	Level slog.Leveler
	// Root is the project directory; path attributes below it are
	// printed relative to it.
	Root string
	// Color highlights the level label.
	Color bool
}

// CompactHandler writes one line per record for a terminal:
//
//	[LEVEL] HH:MM:SS component: message | build=1a2b3c4d key=value
//
// Build and request ids are cut to eight characters.
type CompactHandler struct {
	opts  CompactOptions
	mu    *sync.Mutex
	out   io.Writer
	attrs []slog.Attr
	group string
}

// NewCompactHandler creates a compact console handler.
func NewCompactHandler(w io.Writer, opts CompactOptions) *CompactHandler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	opts.Root = strings.TrimSuffix(opts.Root, "/")
	return &CompactHandler{opts: opts, mu: &sync.Mutex{}, out: w}
}

var levelColors = map[string]*color.Color{
	"TRACE": color.New(color.FgHiBlack),
	"DEBUG": color.New(color.FgCyan),
	"INFO":  color.New(color.FgGreen),
	"WARN":  color.New(color.FgYellow),
	"ERROR": color.New(color.FgRed, color.Bold),
}

func levelLabel(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	}
	return "ERROR"
}

func (h *CompactHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *CompactHandler) Handle(_ context.Context, r slog.Record) error {
	var component string
	var ids, attrs []slog.Attr
	collect := func(a slog.Attr) bool {
		switch {
		case a.Equal(slog.Attr{}):
		case a.Key == "component":
			component = a.Value.String()
		case a.Key == "buildID" || a.Key == "requestID":
			ids = append(ids, a)
		default:
			attrs = append(attrs, a)
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		return collect(h.grouped(a))
	})

	label := levelLabel(r.Level)
	pad := strings.Repeat(" ", len("ERROR")-len(label))
	if h.opts.Color {
		label = levelColors[label].Sprint(label)
	}
	buf := make([]byte, 0, 256)
	buf = fmt.Appendf(buf, "[%s]%s %s ", label, pad, r.Time.Format(time.TimeOnly))
	if component != "" {
		buf = append(buf, component...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Message...)

	for i, a := range append(ids, attrs...) {
		if i == 0 {
			buf = append(buf, " |"...)
		}
		buf = append(buf, ' ')
		buf = h.appendAttr(buf, a)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *CompactHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	v := a.Value.Resolve()
	switch a.Key {
	case "buildID", "requestID":
		id := v.String()
		if len(id) > 8 {
			id = id[:8]
		}
		return fmt.Appendf(buf, "%s=%s", strings.TrimSuffix(a.Key, "ID"), id)
	case "path", "file", "config":
		if v.Kind() == slog.KindString {
			return appendValue(append(buf, a.Key+"="...), h.relative(v.String()))
		}
	case "error":
		return fmt.Appendf(buf, "error=%q", v.Any())
	}

	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	switch v.Kind() {
	case slog.KindString:
		return appendValue(buf, v.String())
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Millisecond).String()...)
	case slog.KindTime:
		return append(buf, v.Time().Format(time.RFC3339)...)
	}
	return fmt.Appendf(buf, "%v", v.Any())
}

// relative shortens p when it lies under the project root.
func (h *CompactHandler) relative(p string) string {
	if h.opts.Root == "" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, h.opts.Root+"/"); ok {
		return rest
	}
	return p
}

func appendValue(buf []byte, s string) []byte {
	if strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Appendf(buf, "%q", s)
	}
	return append(buf, s...)
}

// grouped qualifies a with the open group; component and ids stay bare.
func (h *CompactHandler) grouped(a slog.Attr) slog.Attr {
	switch a.Key {
	case "component", "buildID", "requestID":
		return a
	}
	if h.group != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

func (h *CompactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.grouped(a))
	}
	return &c
}

func (h *CompactHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.group = name
	return &c
}
