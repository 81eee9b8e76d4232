package clog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TextHandler prints one colored line per record followed by indented
// key=value pairs. Meant for local development.
type TextHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	color  bool
	attrs  []slog.Attr
	groups []string
}

type TextOption func(*TextHandler)

func WithLevel(level slog.Level) TextOption {
	return func(h *TextHandler) { h.level = level }
}

func WithColor(on bool) TextOption {
	return func(h *TextHandler) { h.color = on }
}

func NewTextHandler(w io.Writer, opts ...TextOption) *TextHandler {
	h := &TextHandler{mu: &sync.Mutex{}, w: w, level: slog.LevelInfo, color: true}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.groups = append(append([]string{}, h.groups...), name)
	return &nh
}

func (h *TextHandler) Handle(_ context.Context, record slog.Record) error {
	kv := map[string]string{}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	for _, a := range h.attrs {
		kv[prefix+a.Key] = a.Value.String()
	}
	record.Attrs(func(a slog.Attr) bool {
		kv[prefix+a.Key] = a.Value.String()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	paint := func(attr color.Attribute, format string, args ...any) string {
		c := color.New(attr)
		if !h.color {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
		return c.Sprintf(format, args...)
	}

	line := record.Time.Format(time.RFC3339) + " " + paint(levelColor(record.Level), "%-5s", record.Level.String())
	for _, key := range []string{"method", "path", "status"} {
		if v, ok := kv[key]; ok {
			line += " " + v
			delete(kv, key)
		}
	}
	line += " " + paint(color.FgGreen, "%s", record.Message)
	if e, ok := kv[ErrorAttributeKey]; ok {
		line += " " + paint(color.FgRed, "%s", e)
		delete(kv, ErrorAttributeKey)
	}
	if _, err := fmt.Fprintln(h.w, line); err != nil {
		return err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(h.w, "    %s=%s\n", k, kv[k]); err != nil {
			return err
		}
	}
	return nil
}

func levelColor(l slog.Level) color.Attribute {
	switch {
	case l >= slog.LevelError:
		return color.FgRed
	case l >= slog.LevelWarn:
		return color.FgYellow
	case l >= slog.LevelInfo:
		return color.FgBlue
	default:
		return color.FgCyan
	}
}
