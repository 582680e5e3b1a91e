package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wamq/pkg/bus"
)

func TestObserveCountsEvents(t *testing.T) {
	t.Parallel()

	m := New()
	m.Observe(bus.Event{Type: bus.EventMessageBridged, Direction: bus.DirectionToQueue})
	m.Observe(bus.Event{Type: bus.EventMessageBridged, Direction: bus.DirectionToQueue})
	m.Observe(bus.Event{Type: bus.EventDeliveryFailed, Direction: bus.DirectionToChat})
	m.Observe(bus.Event{Type: bus.EventLivenessFailed, Service: "stomp"})
	m.Observe(bus.Event{Type: bus.EventStateChanged, Service: "whatsapp", State: "running"})
	m.Observe(bus.Event{Type: bus.EventStateChanged, Service: "whatsapp", State: "bogus"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("to_queue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("to_chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveness.WithLabelValues("stomp")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.state.WithLabelValues("whatsapp")))
}

func TestConsumeStopsWhenBusCloses(t *testing.T) {
	t.Parallel()

	mb := bus.NewMessageBus(0)
	m := New()
	events, unsubscribe := mb.SubscribeEvents(context.Background(), 8)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Consume(context.Background(), events)
	}()

	require.True(t, mb.PublishEvent(context.Background(), bus.Event{Type: bus.EventMessageBridged, Direction: bus.DirectionToChat}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.messages.WithLabelValues("to_chat")) == 1
	}, time.Second, 10*time.Millisecond)

	mb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume did not return after bus close")
	}
}

func TestHandlerServesExpositionFormat(t *testing.T) {
	t.Parallel()

	m := New()
	m.Observe(bus.Event{Type: bus.EventMessageBridged, Direction: bus.DirectionToQueue})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `wamq_messages_total{direction="to_queue"} 1`))
}
