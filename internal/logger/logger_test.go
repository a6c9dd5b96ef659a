package logger

import (
	"bytes"
	"strings"
	"testing"

	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithWriter_Defaults_ToInfoAndConsole(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	assert.Equal(t, "info", Logger.GetLevel().String())
	assert.Equal(t, "info", zlog.Logger.GetLevel().String())

	Logger.Info().Msg("hello")
	out := strings.TrimSpace(buf.String())
	require.NotEmpty(t, out)
	assert.False(t, strings.HasPrefix(out, "{"), "expected console output, got %q", out)
	assert.Contains(t, out, "hello")
}

func TestInitWithWriter_InvalidLogLevel_FallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "not-a-level")
	t.Setenv("LOG_FORMAT", "console")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	Logger.Debug().Msg("debug-should-not-print")
	Logger.Info().Msg("info-should-print")

	out := buf.String()
	assert.NotContains(t, out, "debug-should-not-print")
	assert.Contains(t, out, "info-should-print")
}

func TestInitWithWriter_JSONFormat_OutputsJSON(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	var buf bytes.Buffer
	InitWithWriter(&buf)

	zlog.Debug().Str("k", "v").Msg("hello")
	out := strings.TrimSpace(buf.String())

	assert.True(t, strings.HasPrefix(out, "{") && strings.HasSuffix(out, "}"), "got %q", out)
	assert.Contains(t, out, `"message":"hello"`)
	assert.Contains(t, out, `"k":"v"`)
	assert.Contains(t, out, `"service":"estate-auth"`)
}
