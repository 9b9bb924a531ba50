// Package obslog wires up the structured logger shared by every dispatch
// fabric component, with leveled, field-tagged zerolog events rather than
// plain stderr writes.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a component-scoped logger writing to w (os.Stderr in
// production, a bytes.Buffer in tests that want to assert on log output).
func New(component string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewConsole returns a human-readable console logger, used by the CLI
// binaries (loadgen, gateway) where a developer is watching the terminal
// rather than shipping logs to a collector.
func NewConsole(component string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(cw).With().Timestamp().Str("component", component).Logger()
}
