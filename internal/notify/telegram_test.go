package notify

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestSendWithEmptyTokenIsNoOp(t *testing.T) {
	sink := NewTelegramSink("", "", zap.NewNop())
	// Must not panic or block; there is no server to reach.
	sink.Send(context.Background(), "hello")
}

func TestSendWithTokenDoesNotPanicOnUnreachableHost(t *testing.T) {
	sink := NewTelegramSink("test-token", "12345", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already-cancelled context: the HTTP call must fail gracefully
	sink.Send(ctx, "hello")
}
