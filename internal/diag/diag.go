// Package diag provides the module's structured logger, grounded on
// wippyai-wasm-runtime's engine/logger.go and linker/logger.go: a package
// singleton defaulting to a no-op logger, overridable via SetLogger before
// any builder or interpreter calls are made.
package diag

import (
	"sync"

	"go.uber.org/zap"

	"github.com/optree-lang/optree/internal/metrics"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the module's logger. It is a no-op logger until SetLogger
// is called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the module's logger. Call before building or running
// any root program; logger field values recorded on earlier calls are not
// retroactively applied.
func SetLogger(l *zap.Logger) {
	logger = l
}

// TierTransition logs a program being promoted to a new dispatch tier and
// records it in internal/metrics.
func TierTransition(programName string, from, to string, invocationCount uint64) {
	Logger().Info("tier transition",
		zap.String("program", programName),
		zap.String("from", from),
		zap.String("to", to),
		zap.Uint64("invocation_count", invocationCount),
	)
	metrics.RecordTierTransition(from, to)
}

// Quickened logs a quickening family specializing or de-specializing a
// bytecode slot and records it in internal/metrics.
func Quickened(family string, bci int, shape string, applied bool) {
	Logger().Debug("quickening",
		zap.String("family", family),
		zap.Int("bci", bci),
		zap.String("shape", shape),
		zap.Bool("applied", applied),
	)
	action := "apply"
	if shape == "" {
		action = "undo"
	}
	metrics.RecordQuicken(action, applied)
}

// HandlerDispatch logs an exception being routed to a handler (or failing to
// find one) and records it in internal/metrics.
func HandlerDispatch(bci int, handlerBci int, found bool) {
	Logger().Debug("exception dispatch",
		zap.Int("throw_bci", bci),
		zap.Int("handler_bci", handlerBci),
		zap.Bool("found", found),
	)
	metrics.RecordHandlerDispatch(found)
}
