package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func observedRouter(logg *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(logg), Logging(logg), Recoverer(logg))
	r.Post("/api/v1/orders/{orderID}/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{}}`))
	})
	r.Get("/api/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("invoice swap exploded")
	})
	return r
}

func TestLoggingRecordsHandlerStatusAndRoute(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := observedRouter(logger.New(logger.Options{ServiceName: "middleware-test", Output: buf}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o-42/cancel", nil)
	req.Header.Set(requestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "request.complete", entry["message"])
	assert.EqualValues(t, http.StatusUnprocessableEntity, entry["status"])
	assert.Equal(t, "/api/v1/orders/{orderID}/cancel", entry["route"])
	assert.Equal(t, "req-7", entry["request_id"])
	assert.EqualValues(t, len(`{"error":{}}`), entry["bytes"])
}

func TestLoggingDefaultsToOKWhenHandlerOnlyWrites(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := observedRouter(logger.New(logger.Options{ServiceName: "middleware-test", Output: buf}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-42", nil))

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, http.StatusOK, lines[0]["status"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestRecovererAnswersInternalAndLogsTheFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := observedRouter(logger.New(logger.Options{ServiceName: "middleware-test", Output: buf}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body["error"]["code"])
	assert.NotContains(t, body["error"]["message"], "exploded")

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "request.failed", lines[0]["message"])
	assert.Equal(t, "recover", lines[0]["step"])
	assert.Equal(t, "request.complete", lines[1]["message"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.EqualValues(t, http.StatusInternalServerError, lines[1]["status"])
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	assert.Equal(t, http.StatusOK, rec.Status())

	rec.WriteHeader(http.StatusServiceUnavailable)
	rec.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Status())
}
