// Package logger builds the process-wide leveled, colorized, timestamped
// slog sink (spec.md §2 "Logger surface"). main installs the logger New
// builds as the slog default, making it the one piece of process-global
// writable state every other package is allowed to reach for directly
// (slog.Default / slog.Warn); everything else (config, compiled rules, the MIME table)
// is constructed once in main and passed down explicitly.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
)

// EnvLogLevel mirrors tspages/config/config.go's TSPAGES_LOG_LEVEL
// convention, renamed for this project. spec.md §6 requires the process
// read it only when unset, never overwrite a value the user already
// exported — so New only reads it, it never calls os.Setenv.
const EnvLogLevel = "SERVELOCAL_LOG_LEVEL"

// levelFromEnv resolves the default slog.Level: an explicit level wins,
// else EnvLogLevel if the caller left it unset, else info.
func levelFromEnv(explicit string) slog.Level {
	text := explicit
	if text == "" {
		text = os.Getenv(EnvLogLevel)
	}
	var lvl slog.Level
	if text == "" || lvl.UnmarshalText([]byte(text)) != nil {
		return slog.LevelInfo
	}
	return lvl
}

// New builds the base logger. levelText, if non-empty, overrides
// EnvLogLevel (e.g. from a future --log-level flag); an empty string
// defers to the environment variable, then "info".
func New(w io.Writer, levelText string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(&handler{w: w, level: levelFromEnv(levelText)})
}

// handler is a minimal slog.Handler that writes "HH:MM:SS LEVEL msg
// key=val ..." lines with the level colorized by severity, matching the
// same color-by-severity idiom internal/httplog.Wrap applies to request
// lines.
type handler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(levelColor(r.Level).Sprint(r.Level.String()))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = name
	return &next
}

var (
	colorDebug = color.New(color.FgMagenta)
	colorInfo  = color.New(color.FgGreen)
	colorWarn  = color.New(color.FgYellow, color.Bold)
	colorError = color.New(color.FgRed, color.Bold)
)

func levelColor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return colorError
	case l >= slog.LevelWarn:
		return colorWarn
	case l >= slog.LevelInfo:
		return colorInfo
	default:
		return colorDebug
	}
}
