package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerNoopWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}

	ctx, span := tracer.StartHandleMessage(context.Background(), "s1")
	if span.IsRecording() {
		t.Error("unconfigured tracer should not record")
	}
	_, child := tracer.StartProviderCall(ctx, "anthropic", "claude-sonnet-4-5")
	EndWithTokens(child, 10, 2)

	_, toolSpan := tracer.StartToolCall(ctx, "files", "read")
	EndWithError(toolSpan, errors.New("boom"))
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}
