package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestStartAndEnd(t *testing.T) {
	recorder := recordSpans(t)

	ctx, parent := Start(context.Background(), "job.run", attribute.String("job_id", "j1"))
	_, child := Start(ctx, "shard.step")
	End(child, errors.New("bad record"))
	End(parent, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	step, run := spans[0], spans[1]
	require.Equal(t, "shard.step", step.Name())
	require.Equal(t, run.SpanContext().SpanID(), step.Parent().SpanID())
	require.Equal(t, codes.Error, step.Status().Code)
	require.Equal(t, "bad record", step.Status().Description)
	require.Len(t, step.Events(), 1)

	require.Equal(t, codes.Unset, run.Status().Code)
	require.Contains(t, run.Attributes(), attribute.String("job_id", "j1"))
}
