package supervisor

import (
	"context"
	"errors"
	"sync"

	"wamq/pkg/channel"
)

// State is the lifecycle position of one service handle.
type State int

const (
	StateUninitialized State = iota
	StateWired
	StateStarted
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWired:
		return "wired"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	errNotInitialized = errors.New("service is not initialized")
	errStopped        = errors.New("service is stopped")
)

// Handle owns one transport service and tracks its lifecycle state.
type Handle struct {
	name     string
	onChange func(name string, state State)

	mu      sync.Mutex
	service channel.Service
	state   State
}

func newHandle(name string, onChange func(string, State)) *Handle {
	if onChange == nil {
		onChange = func(string, State) {}
	}

	return &Handle{name: name, onChange: onChange}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// wire attaches the constructed service once its peer reference is set.
func (h *Handle) wire(service channel.Service) {
	h.mu.Lock()
	h.service = service
	h.mu.Unlock()

	h.transition(StateWired)
}

// Start starts a wired service. A failure leaves the handle wired; a stopped
// handle cannot be started again.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	service := h.service
	state := h.state
	h.mu.Unlock()

	switch {
	case service == nil:
		return channel.NewStartError(h.name, errNotInitialized)
	case state == StateStopped:
		return channel.NewStartError(h.name, errStopped)
	case state != StateWired:
		return nil
	}

	if err := service.Start(ctx); err != nil {
		return err
	}

	h.transition(StateStarted)
	return nil
}

// markRunning records that the supervision loop is polling a started service.
func (h *Handle) markRunning() {
	h.mu.Lock()
	started := h.state == StateStarted
	h.mu.Unlock()

	if started {
		h.transition(StateRunning)
	}
}

func (h *Handle) CheckAlive(ctx context.Context) error {
	h.mu.Lock()
	service := h.service
	h.mu.Unlock()

	if service == nil {
		return channel.NewLivenessError(h.name, errNotInitialized)
	}

	return service.CheckAlive(ctx)
}

// Stop stops a started service. It is a no-op for uninitialized or already stopped handles.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	service := h.service
	state := h.state
	h.mu.Unlock()

	switch state {
	case StateUninitialized, StateStopped:
		return nil
	case StateWired:
		h.transition(StateStopped)
		return nil
	}

	err := service.Stop(ctx)
	h.transition(StateStopped)
	return err
}

func (h *Handle) transition(state State) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()

	h.onChange(h.name, state)
}
