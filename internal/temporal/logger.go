package temporal

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"

	"github.com/dusk-indust/replaylab/internal/logging"
)

// Compile-time interface check.
var _ log.Logger = (*zerologAdapter)(nil)

// zerologAdapter routes SDK logs through the process logger.
type zerologAdapter struct {
	l zerolog.Logger
}

// NewLogger returns an SDK logger backed by zerolog.
func NewLogger() log.Logger {
	return &zerologAdapter{l: logging.Component("temporal")}
}

func (z *zerologAdapter) Debug(msg string, keyvals ...interface{}) {
	z.l.Debug().Fields(keyvals).Msg(msg)
}

func (z *zerologAdapter) Info(msg string, keyvals ...interface{}) {
	z.l.Info().Fields(keyvals).Msg(msg)
}

func (z *zerologAdapter) Warn(msg string, keyvals ...interface{}) {
	z.l.Warn().Fields(keyvals).Msg(msg)
}

func (z *zerologAdapter) Error(msg string, keyvals ...interface{}) {
	z.l.Error().Fields(keyvals).Msg(msg)
}
