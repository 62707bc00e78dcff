// Package logging wires the jumper's structured logging, following the
// slog+tint pairing used by the rendezvous-client reference (betamos-rdv):
// structured attributes for machine consumption, colorized output for a
// human watching a terminal.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// Level names accepted by --loglevel (spec.md 6). "off" disables logging
// entirely: New routes every record to io.Discard.
const (
	LevelOff   = "off"
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
)

// ParseLevel maps a --loglevel flag value to an slog.Level. Unknown values
// default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelOff, LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New builds the process-wide logger. off fully silences output;
// everything else renders through tint to w.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.ToLower(strings.TrimSpace(level)) == LevelOff {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(level),
		TimeFormat: "15:04:05",
	})
	return slog.New(handler)
}

// WithPeer returns a logger scoped to a single remote overlay address, the
// attribute every log line in the Controller/Rendezvous/Traversal path
// carries (spec.md 7).
func WithPeer(l *slog.Logger, peer string) *slog.Logger {
	return l.With(slog.String("peer", peer))
}

// WithTransport adds the transport-in-use attribute.
func WithTransport(l *slog.Logger, transport string) *slog.Logger {
	return l.With(slog.String("transport", transport))
}

// WithErrKind adds the typed error-kind attribute used when logging a
// failed attempt (spec.md 7); the Controller derives kind from the error
// with its errKind classifier (e.g. "StunMismatch", "TraversalHandshake").
func WithErrKind(l *slog.Logger, kind string) *slog.Logger {
	return l.With(slog.String("err_kind", kind))
}
