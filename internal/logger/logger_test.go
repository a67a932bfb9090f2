package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLevel tests level name parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

// TestNew tests logger construction for each format.
func TestNew(t *testing.T) {
	for _, format := range []string{"", FormatConsole, FormatJSON} {
		log, err := New(Options{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	}

	log, err := New(Options{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}
