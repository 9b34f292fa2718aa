package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		input string
		want  log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{" warn ", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"nonsense", log.InfoLevel},
		{"", log.InfoLevel},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := Setup(tt.input, &buf)
		assert.Equal(t, tt.want, logger.GetLevel(), "level for %q", tt.input)
	}
}

func TestSetupWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("info", &buf)
	logger.Info("calendar ready", "calendar", "primary")

	out := buf.String()
	assert.Contains(t, out, "calendar ready")
	assert.Contains(t, out, "calendar=primary")
}

func TestOrDefault(t *testing.T) {
	assert.NotNil(t, OrDefault(nil))
	l := Discard()
	assert.Same(t, l, OrDefault(l))
}
