package mq

import (
	"context"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTableCarrier_PropagatesTraceContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	headers := amqp091.Table{}
	prop.Inject(ctx, tableCarrier(headers))

	assert.Contains(t, tableCarrier(headers).Keys(), "traceparent")

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), tableCarrier(headers)))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestTableCarrier_NilHeaders(t *testing.T) {
	var headers amqp091.Table
	assert.Empty(t, tableCarrier(headers).Get("traceparent"))
	assert.Empty(t, tableCarrier(headers).Keys())
}
