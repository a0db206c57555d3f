package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestLoggerErrorIncludesSettlementFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: "debug", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrderID(ctx, "order-9")
	ctx = log.WithInvoiceID(ctx, "inv-4")
	ctx = log.WithProcessingID(ctx, "cb-77")

	log.Error(ctx, "settle failed", pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("dial tcp"), "load invoice"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "order-9", entry["order_id"])
	assert.Equal(t, "inv-4", entry["invoice_id"])
	assert.Equal(t, "cb-77", entry["processing_id"])
	assert.Equal(t, string(pkgerrors.CodeDependency), entry["error_code"])
	assert.Equal(t, string(pkgerrors.ClassDependency), entry["error_class"])
	assert.Contains(t, entry, "stack")
}

func TestLoggerErrorSkipsStackForRejections(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	log.Error(context.Background(), "cancel refused", pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid"))

	entry := decodeLine(t, buf)
	assert.Equal(t, string(pkgerrors.ClassRejected), entry["error_class"])
	assert.NotContains(t, entry, "stack")
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "sweeper", Level: "debug", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "lock held elsewhere")
	assert.Contains(t, decodeLine(t, buf), "stack")
}

func TestLoggerDebugSuppressedAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "sweeper", Output: buf})
	log.Debug(context.Background(), "quiet")
	assert.Zero(t, buf.Len(), buf.String())

	log.Info(context.Background(), "loud")
	assert.NotZero(t, buf.Len())
}

func TestLoggerConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "migrate", Format: "console", Output: buf})
	log.Info(context.Background(), "migrations applied")

	assert.Contains(t, buf.String(), "migrations applied")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}
