package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	assert.Equal(t, RedactedValue, MaskField("caller", "0xabc").Value.String())
	assert.Equal(t, "borrow", MaskField("op", "borrow").Value.String())
	assert.Equal(t, " ", MaskField("caller", " ").Value.String())
	assert.True(t, IsAllowlisted("Request_ID"))
	assert.Contains(t, RedactionAllowlist(), "seq")
}
