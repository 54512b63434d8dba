package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestSetupDisabledLeavesGlobals(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Options{Enabled: false, Exporter: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupStdoutExportsSpansAndMetrics(t *testing.T) {
	restoreGlobals(t)
	var out bytes.Buffer

	shutdown, err := Setup(context.Background(), Options{
		Enabled:  true,
		Exporter: ExporterStdout,
		Writer:   &out,
		Version:  "test",
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, span := otel.Tracer("telemetry-test").Start(ctx, "orchestrator.ask")
	span.End()
	counter, err := otel.Meter("telemetry-test").Int64Counter("querygate.backend.attempts")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, out.String(), "orchestrator.ask")
	assert.Contains(t, out.String(), "querygate.backend.attempts")
	assert.Contains(t, out.String(), "querygate")
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	restoreGlobals(t)
	_, err := Setup(context.Background(), Options{Enabled: true, Exporter: "zipkin"})
	assert.ErrorContains(t, err, "unknown telemetry exporter")
}
