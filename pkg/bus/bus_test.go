package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	in := InboundMessage{ID: NewMessageID(), From: "15550002", Kind: ContentText, Content: "hello"}
	if ok := mb.PublishInbound(context.Background(), in); !ok {
		t.Fatal("expected inbound publish to succeed")
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected inbound consume to succeed")
	}
	if out.Content != in.Content {
		t.Fatalf("content = %q, want %q", out.Content, in.Content)
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	in := OutboundMessage{ID: "m-1", To: "15550002", Content: "world"}
	if ok := mb.PublishOutbound(context.Background(), in); !ok {
		t.Fatal("expected outbound publish to succeed")
	}

	out, ok := mb.ConsumeOutbound(context.Background())
	if !ok {
		t.Fatal("expected outbound consume to succeed")
	}
	if out.Content != in.Content {
		t.Fatalf("content = %q, want %q", out.Content, in.Content)
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus(0)
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}
	if ok := mb.PublishOutbound(context.Background(), OutboundMessage{Content: "hello"}); ok {
		t.Fatal("expected outbound publish to fail after close")
	}

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
	if _, ok := mb.ConsumeOutbound(context.Background()); ok {
		t.Fatal("expected outbound consume to stop after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, InboundMessage{Content: "hello"}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestPublishRespectsBufferedCapacity(t *testing.T) {
	mb := NewMessageBus(1)
	t.Cleanup(mb.Close)

	if ok := mb.PublishOutbound(context.Background(), OutboundMessage{ID: "first"}); !ok {
		t.Fatal("expected first publish to fit in the buffer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := mb.PublishOutbound(ctx, OutboundMessage{ID: "second"}); ok {
		t.Fatal("expected publish on a full bus to give up when the context ends")
	}
}

func TestNewMessageIDIsUnique(t *testing.T) {
	if NewMessageID() == NewMessageID() {
		t.Fatal("expected distinct message ids")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestConsumeOutboundUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeOutbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume outbound did not unblock after close")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventMessageBridged, Service: "stomp", Direction: DirectionToQueue}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case got := <-eventsA:
		if got.Type != EventMessageBridged {
			t.Fatalf("event type = %q, want %q", got.Type, EventMessageBridged)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscriber A did not receive event")
	}

	select {
	case got := <-eventsB:
		if got.Type != EventMessageBridged {
			t.Fatalf("event type = %q, want %q", got.Type, EventMessageBridged)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscriber B did not receive event")
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageBridged}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventDeliveryFailed}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageBridged}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	ctx := context.Background()
	events, _ := mb.SubscribeEvents(ctx, 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}
