package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/books-engine/logger"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger.Setup(logger.Config{Level: "warn", Format: "json", Output: &buf})

	l := logger.WithComponent("sales")
	l.Info().Msg("dropped")
	l.Warn().Str("invoice", "INV-2025-00001").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "sales", entry["component"])
	assert.Equal(t, "INV-2025-00001", entry["invoice"])
	assert.Equal(t, "warn", entry["level"])
}

func TestSetup_Console(t *testing.T) {
	var buf bytes.Buffer
	logger.Setup(logger.Config{Level: "debug", Format: "console", Output: &buf})

	l := logger.WithComponent("audit")
	l.Debug().Msg("sealed")

	assert.Contains(t, buf.String(), "sealed")
	assert.Contains(t, buf.String(), "component=")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, logger.ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.ErrorLevel, logger.ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, logger.ParseLevel("loud"))
	assert.Equal(t, zerolog.InfoLevel, logger.ParseLevel(""))
}
