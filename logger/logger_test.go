package logger_test

import (
	"bytes"
	"testing"

	"photoproc/logger"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("respects the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New("warn", &buf)

		log.Info("hidden")
		log.Warn("shown", "task_id", "abc")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"msg":"shown"`)
		assert.Contains(t, out, `"task_id":"abc"`)
	})

	t.Run("falls back to info on unknown level", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New("verbose", &buf)

		assert.Contains(t, buf.String(), "invalid log level configured")

		buf.Reset()
		log.Debug("debug line")
		log.Info("info line")
		assert.NotContains(t, buf.String(), "debug line")
		assert.Contains(t, buf.String(), "info line")
	})
}
