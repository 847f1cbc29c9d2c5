package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter(t *testing.T) {
	t.Cleanup(func() { Setup("info", false) })

	t.Run("Should emit JSON at the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		SetupWriter(&buf, "warn", true)

		log.Info("hidden")
		log.Warn("shown", "thread", "t1")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"msg":"shown"`)
		assert.Contains(t, out, `"thread":"t1"`)
	})

	t.Run("Should fall back to info on unknown levels", func(t *testing.T) {
		var buf bytes.Buffer
		SetupWriter(&buf, "chatty", false)
		assert.Equal(t, log.InfoLevel, log.GetLevel())
	})
}

func TestMiddleware(t *testing.T) {
	t.Cleanup(func() { Setup("info", false) })

	var buf bytes.Buffer
	SetupWriter(&buf, "info", true)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"path":"/api/health"`)
	assert.Contains(t, buf.String(), "418")
}
