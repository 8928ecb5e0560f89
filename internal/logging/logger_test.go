package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.Equal(t, development, logger.Core().Enabled(zapcore.DebugLevel))
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}
