package diag

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerNeverReturnsNil(t *testing.T) {
	require.NotNil(t, Logger())
}

func TestSetLoggerOverridesDefault(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	TierTransition("root1", "uncached", "cached", 4)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "tier transition", entry.Message)
}

func TestQuickenedDistinguishesApplyFromUndo(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	Quickened("base=1", 3, "int64", true)
	Quickened("base=1", 3, "", true)
	require.Equal(t, 2, logs.Len())
}

func TestHandlerDispatchLogsOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	HandlerDispatch(10, 20, true)
	HandlerDispatch(10, -1, false)
	require.Equal(t, 2, logs.Len())
}
