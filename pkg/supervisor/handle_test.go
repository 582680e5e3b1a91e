package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wamq/pkg/channel"
)

type transitions struct {
	mu     sync.Mutex
	states []State
}

func (tr *transitions) record(_ string, state State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, state)
}

func TestHandleLifecycle(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	tr := &transitions{}
	h := newHandle("queue", tr.record)
	assert.Equal(t, StateUninitialized, h.State())

	h.wire(&fakeService{name: "queue", rec: rec})
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Start(context.Background()), "second start is a no-op")
	h.markRunning()
	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()))

	assert.Equal(t, []State{StateWired, StateStarted, StateRunning, StateStopped}, tr.states)
	assert.Equal(t, []string{"start:queue", "stop:queue"}, rec.snapshot())
}

func TestHandleCannotRestartAfterStop(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := newHandle("queue", nil)
	h.wire(&fakeService{name: "queue", rec: rec})
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))

	err := h.Start(context.Background())
	require.ErrorIs(t, err, errStopped)
	assert.Equal(t, channel.ErrorStartFailed, channel.CategoryFromError(err))
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, []string{"start:queue", "stop:queue"}, rec.snapshot())
}

func TestHandleStopReportsServiceError(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := newHandle("chat", nil)
	h.wire(&fakeService{name: "chat", rec: rec, stopErr: errors.New("shutdown timed out")})
	require.NoError(t, h.Start(context.Background()))

	require.EqualError(t, h.Stop(context.Background()), "shutdown timed out")
	assert.Equal(t, StateStopped, h.State())
	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, 1, rec.count("stop:chat"))
}

func TestHandleStartFailureKeepsWired(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := newHandle("chat", nil)
	h.wire(&fakeService{name: "chat", rec: rec, startErr: errors.New("boom")})

	require.Error(t, h.Start(context.Background()))
	assert.Equal(t, StateWired, h.State())

	h.markRunning()
	assert.Equal(t, StateWired, h.State())

	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, []string{"start:chat"}, rec.snapshot())
}

func TestHandleWithoutService(t *testing.T) {
	t.Parallel()

	h := newHandle("queue", nil)
	assert.Error(t, h.Start(context.Background()))
	assert.Error(t, h.CheckAlive(context.Background()))
	assert.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, StateUninitialized, h.State())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(42).String())
}
