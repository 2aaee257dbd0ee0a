package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zerolog.WarnLevel, levelFromString(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, levelFromString(""))
	assert.Equal(t, zerolog.InfoLevel, levelFromString("verbose"))
}

func TestJSONOutputAndLevel(t *testing.T) {
	defer Init("info", "console")

	var buf bytes.Buffer
	Init("warn", "json")
	SetOutput(&buf)

	Info("dropped %d", 1)
	Warn("slot %d missed", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "slot 42 missed", entry["message"])
}
