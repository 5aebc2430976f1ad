package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pnpbots/pnptv-app-sub006/logging"
)

func TestWithContext_AddsTraceFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logging.WithContext(ctx).Info("Payment transitioned", zap.String("payment_id", "pay-1"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	assert.Equal(t, "pay-1", fields["payment_id"])
}

func TestWithContext_NoSpan(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })

	logging.WithContext(context.Background()).Warn("no span")

	require.Equal(t, 1, logs.Len())
	_, hasTrace := logs.All()[0].ContextMap()["trace_id"]
	assert.False(t, hasTrace)
}

func TestPackageLoggerIsSafeBeforeInit(t *testing.T) {
	logging.SetLogger(nil)
	assert.NotPanics(t, func() {
		logging.Info("before init")
		logging.Error("before init")
	})
}
