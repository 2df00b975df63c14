package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json records carry the service name", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "debug", "json").Debug("hello", "group_id", "g-1")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "hello", rec["msg"])
		assert.Equal(t, "walletd", rec["service"])
		assert.Equal(t, "g-1", rec["group_id"])
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "warn", "text").Info("quiet")
		assert.Empty(t, buf.String())
	})

	t.Run("unknown level is info", func(t *testing.T) {
		assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
		assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	})
}
