package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmitsJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Environment: "production", ServiceName: "promotion-panel", Version: "1.2.3", Output: &buf})

	log.Info().Str("evaluation_id", "ev-1").Msg("Evaluation created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "promotion-panel", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "ev-1", line["evaluation_id"])
	assert.Equal(t, "Evaluation created", line["message"])
}

func TestNewFallsBackToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "nonsense", Environment: "production", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestWithAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Environment: "production", Output: &buf}).With("lifecycle")
	log.Info().Msg("x")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "lifecycle", line["component"])
}
