package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
)

func TestNewLoggerWithOTEL(t *testing.T) {
	logger, err := NewLoggerWithOTEL(NewDefaultConfig(), noop.NewLoggerProvider())
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("bridged record")
	_ = logger.Sync()
}

func TestNewLoggerWithOTEL_NilProviderFallsBack(t *testing.T) {
	logger, err := NewLoggerWithOTEL(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLoggerWithOTEL_InvalidConfig(t *testing.T) {
	_, err := NewLoggerWithOTEL(&Config{Level: "info", Format: "xml"}, noop.NewLoggerProvider())
	assert.Error(t, err)
}
