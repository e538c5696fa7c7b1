package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreRecorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "preprint-crawler-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, ok := StartSpan(context.Background(), "fetch", "openreview", "abc")
	End(ok, nil)
	_, failed := StartSpan(context.Background(), "list", "chemrxiv", "")
	End(failed, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "fetch", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("ingest.item", "abc"))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Attributes(), 1)
}
