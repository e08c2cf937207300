package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/vfunc/config"
)

func TestSetupWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := SetupWriter(config.LoggingConfig{Level: "debug"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Debug().Str("component", "graph").Msg("hello")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["message"])
	require.Equal(t, "graph", entry["component"])
	require.Equal(t, "debug", entry["level"])
}

func TestSetupWriterFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := SetupWriter(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	logger.Info().Msg("dropped")
	require.Zero(t, buf.Len())
}

func TestSetupWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := SetupWriter(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Info().Msg("console")
	require.Contains(t, buf.String(), "console")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, zerolog.InfoLevel, level)
	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestLokiRequiresURL(t *testing.T) {
	_, _, err := SetupWriter(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestLabels(t *testing.T) {
	require.Equal(t, model.LabelSet{"app": "vfunc"}, Labels(nil))
	require.Equal(t, model.LabelSet{"app": "plant", "env": "dev"}, Labels(map[string]string{"app": "plant", "env": "dev"}))
}
