// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package console renders log records and summaries for a terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// LevelSuccess sits between Info and Warn and is shown in green.
const LevelSuccess = slog.Level(2)

// Palette holds the styles used for each kind of output.
type Palette struct {
	Debug   lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Error   lipgloss.Style
	Faint   lipgloss.Style
	Header  lipgloss.Style
}

// NewPalette returns styles for w. With noColor every style is plain.
func NewPalette(w io.Writer, noColor bool) *Palette {
	r := lipgloss.NewRenderer(w)
	if noColor {
		plain := r.NewStyle()
		return &Palette{plain, plain, plain, plain, plain, plain, plain}
	}
	return &Palette{
		Debug:   r.NewStyle().Faint(true),
		Info:    r.NewStyle().Foreground(lipgloss.Color("6")),
		Success: r.NewStyle().Foreground(lipgloss.Color("2")),
		Warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("1")),
		Faint:   r.NewStyle().Faint(true),
		Header:  r.NewStyle().Bold(true).Underline(true),
	}
}

// Level returns the style for a log level.
func (p *Palette) Level(l slog.Level) lipgloss.Style {
	switch {
	case l >= slog.LevelError:
		return p.Error
	case l >= slog.LevelWarn:
		return p.Warn
	case l >= LevelSuccess:
		return p.Success
	case l >= slog.LevelInfo:
		return p.Info
	}
	return p.Debug
}

// Options configures a Handler.
type Options struct {
	Level   slog.Leveler
	NoColor bool
}

// Handler is a slog.Handler printing one coloured line per record:
// the message followed by its attributes as key=value.
type Handler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	palette *Palette
	attrs   []slog.Attr
	groups  []string
}

var _ slog.Handler = (*Handler)(nil)

func NewHandler(w io.Writer, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level, palette: NewPalette(w, opts.NoColor)}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	msg := r.Message
	switch {
	case r.Level >= slog.LevelError:
		msg = "error: " + msg
	case r.Level >= slog.LevelWarn:
		msg = "warning: " + msg
	}
	b.WriteString(h.palette.Level(r.Level).Render(msg))

	var fields []string
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		fields = appendAttr(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, prefix, a)
		return true
	})
	if len(fields) > 0 {
		b.WriteString(" ")
		b.WriteString(h.palette.Faint.Render(strings.Join(fields, " ")))
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	prefix := strings.Join(h.groups, ".")
	cp.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)
	return &cp
}

func appendAttr(fields []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			fields = appendAttr(fields, key, ga)
		}
		return fields
	}
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\"=") {
		val = fmt.Sprintf("%q", val)
	}
	return append(fields, key+"="+val)
}

// LoggerOptions selects the handler built by NewLogger.
type LoggerOptions struct {
	Verbose bool
	NoColor bool
	JSON    bool
}

// NewLogger returns a console logger, or a JSON logger when opts.JSON is set.
func NewLogger(w io.Writer, opts LoggerOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(NewHandler(w, &Options{Level: level, NoColor: opts.NoColor}))
}

// Success logs msg at LevelSuccess.
func Success(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelSuccess, msg, args...)
}

// Area formats square meters for people, switching to hectares above one hectare.
func Area(squareMeters float64) string {
	if squareMeters > 10000 {
		return humanize.CommafWithDigits(squareMeters/10000, 2) + " ha"
	}
	return humanize.CommafWithDigits(squareMeters, 1) + " m²"
}

// Count formats n with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}
