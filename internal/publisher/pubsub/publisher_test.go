package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeSender struct {
	topic   string
	msg     *pubsub.Message
	err     error
	stopped bool
}

func (f *fakeSender) send(_ context.Context, topic string, msg *pubsub.Message) (string, error) {
	f.topic, f.msg = topic, msg
	if f.err != nil {
		return "", f.err
	}
	return "server-id-1", nil
}

func (f *fakeSender) stop() { f.stopped = true }

func TestPublish_EncodesPayload(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	p := &Publisher{sender: sender}
	id, err := p.Publish(context.Background(), "gazette-runs", map[string]int{"pages_indexed": 12})
	require.NoError(t, err)
	require.Equal(t, "server-id-1", id)
	require.Equal(t, "gazette-runs", sender.topic)
	require.JSONEq(t, `{"pages_indexed":12}`, string(sender.msg.Data))
	require.Equal(t, "application/json", sender.msg.Attributes["content_type"])

	require.NoError(t, p.Close())
	require.True(t, sender.stopped)
}

func TestPublish_InjectsTraceContext(t *testing.T) {
	// Swaps the global propagator, so not parallel.
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "run")
	defer span.End()

	sender := &fakeSender{}
	p := &Publisher{sender: sender}
	_, err := p.Publish(ctx, "gazette-runs", "x")
	require.NoError(t, err)
	require.Contains(t, sender.msg.Attributes["traceparent"], span.SpanContext().TraceID().String())
}

func TestPublish_Failures(t *testing.T) {
	t.Parallel()

	p := &Publisher{sender: &fakeSender{err: errors.New("permission denied")}}
	_, err := p.Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = p.Publish(context.Background(), "t", func() {})
	require.Error(t, err)
	_, err = p.Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "permission denied")

	_, err = New(nil)
	require.Error(t, err)
}
