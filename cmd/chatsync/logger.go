// ABOUTME: slog setup for the chatsync CLI: JSON, or a compact console format on stderr
// ABOUTME: Console lines are tagged with the emitting component so they read apart from chat output

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/AryaPawar0402/chatsync/internal/config"
)

// parseLevel maps the configured level name; unknown names fall back to warn
// so an interactive session is not flooded.
func parseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelWarn
	}
	return level
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&consoleHandler{out: out, mu: &sync.Mutex{}, level: level})
}

type levelTag struct {
	text  string
	color *color.Color
}

var levelTags = map[slog.Level]levelTag{
	slog.LevelDebug: {"DBG", color.New(color.FgMagenta)},
	slog.LevelInfo:  {"INF", color.New(color.FgCyan)},
	slog.LevelWarn:  {"WRN", color.New(color.FgYellow)},
	slog.LevelError: {"ERR", color.New(color.FgRed, color.Bold)},
}

// consoleHandler writes "LVL [component] message key=value" lines. The
// component attribute becomes the tag instead of a trailing pair.
type consoleHandler struct {
	out       io.Writer
	mu        *sync.Mutex
	level     slog.Level
	component string
	prefix    string
	attrs     string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if tag, ok := levelTags[r.Level]; ok {
		b.WriteString(tag.color.Sprint(tag.text))
	} else {
		b.WriteString(r.Level.String())
	}
	if h.component != "" {
		b.WriteString(color.HiBlackString(" [" + h.component + "]"))
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	b.WriteString(a.Value.Resolve().String())
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		if a.Key == "component" && h.prefix == "" {
			next.component = a.Value.String()
			continue
		}
		writeAttr(&b, h.prefix, a)
	}
	next.attrs = b.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}
