package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"wamq/pkg/bus"
	"wamq/pkg/channel"
	"wamq/pkg/config"
	"wamq/pkg/metrics"
)

const (
	queueHandleName = "queue"
	chatHandleName  = "chat"
)

// Supervisor owns both bridge services and drives their lifecycle.
type Supervisor struct {
	candidates []string
	factory    Factory
	log        *slog.Logger

	cfg     *config.Config
	bus     *bus.MessageBus
	metrics *metrics.Metrics
	status  *statusServer

	queue *Handle
	chat  *Handle

	// loopMustContinue is the only state touched from signal delivery.
	loopMustContinue atomic.Bool
	pollInterval     time.Duration
}

// New builds a supervisor that reads configuration from candidates and builds services with factory.
func New(candidates []string, factory Factory, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}

	s := &Supervisor{
		candidates:   candidates,
		factory:      factory,
		log:          log.With("component", "supervisor"),
		metrics:      metrics.New(),
		pollInterval: time.Second,
	}
	s.queue = newHandle(queueHandleName, s.publishState)
	s.chat = newHandle(chatHandleName, s.publishState)
	s.loopMustContinue.Store(true)

	return s
}

// Run registers signal handling and executes configure, init, start, loop and stop.
func (s *Supervisor) Run(ctx context.Context) bool {
	bridge := NewSignalBridge(s.RequestStop, s.log)
	bridge.Register()
	defer bridge.Release()

	if !s.Configure() {
		s.log.Error("Exiting")
		return false
	}

	if err := s.Init(); err != nil {
		s.log.Error("Failed to initialize services", "error", err)
		s.log.Error("Exiting")
		return false
	}

	if !s.Start(ctx) {
		s.Stop(ctx)
		s.log.Error("Exiting")
		return false
	}

	s.Loop(ctx)
	s.Stop(ctx)
	return true
}

// Configure loads and validates configuration, logging every problem found.
func (s *Supervisor) Configure() bool {
	params, path, err := config.Load(s.candidates, s.log)
	if err != nil {
		return false
	}

	cfg, errs := config.FromParams(params)
	for _, verr := range errs {
		s.log.Error("Invalid configuration", "key", verr.Key, "error", verr.Error())
	}
	if len(errs) > 0 {
		s.log.Error("Configuration rejected", "path", path, "problems", len(errs))
		return false
	}

	s.cfg = cfg
	s.pollInterval = cfg.Supervisor.PollInterval
	return true
}

// Config returns the validated configuration, or nil before Configure succeeds.
func (s *Supervisor) Config() *config.Config {
	return s.cfg
}

// Init constructs both services and hands each a reference to the other.
func (s *Supervisor) Init() error {
	if s.cfg == nil {
		return fmt.Errorf("init: %w", config.ErrNoConfiguration)
	}

	s.bus = bus.NewMessageBus(0)
	events, _ := s.bus.SubscribeEvents(context.Background(), 0)
	go s.metrics.Consume(context.Background(), events)

	queueSvc, err := s.factory.NewQueue(s.cfg, s.bus, s.log)
	if err != nil {
		s.bus.Close()
		return fmt.Errorf("build queue service: %w", err)
	}
	chatSvc, err := s.factory.NewChat(s.cfg, s.bus, s.log)
	if err != nil {
		s.bus.Close()
		return fmt.Errorf("build chat service: %w", err)
	}

	queueSvc.SetChatPeer(chatSvc)
	chatSvc.SetQueuePeer(queueSvc)

	s.queue.wire(queueSvc)
	s.chat.wire(chatSvc)
	s.log.Info("Services wired", "queue", queueSvc.Name(), "chat", chatSvc.Name())
	return nil
}

// Start starts the queue service, then the chat service, then the status server.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.log.Info("Starting services")

	if err := s.queue.Start(ctx); err != nil {
		s.log.Error("Failed to start queue service", "category", channel.CategoryFromError(err), "error", err)
		return false
	}
	if err := s.chat.Start(ctx); err != nil {
		s.log.Error("Failed to start chat service", "category", channel.CategoryFromError(err), "error", err)
		return false
	}

	if address := s.statusAddress(); address != "" {
		status, err := startStatusServer(ctx, address, s, s.log)
		if err != nil {
			s.log.Error("Failed to start status server", "address", address, "error", err)
			return false
		}
		s.status = status
	}

	return true
}

// Loop polls queue then chat liveness every poll interval until a stop is requested,
// a check fails or ctx ends. A stop requested before Loop is entered is honoured:
// the loop then returns without polling.
func (s *Supervisor) Loop(ctx context.Context) {
	s.queue.markRunning()
	s.chat.markRunning()

	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	for s.loopMustContinue.Load() {
		if !s.checkAlive(ctx, s.queue) || !s.checkAlive(ctx, s.chat) {
			return
		}

		timer.Reset(s.pollInterval)
		select {
		case <-ctx.Done():
			s.log.Info("Supervision interrupted", "reason", ctx.Err())
			return
		case <-timer.C:
		}
	}

	s.log.Info("Supervision loop finished")
}

// RequestStop asks the supervision loop to exit after the current iteration.
func (s *Supervisor) RequestStop() {
	s.loopMustContinue.Store(false)
}

// Stop stops the chat service, then the queue service. It is safe to call at any point and repeatedly.
func (s *Supervisor) Stop(ctx context.Context) {
	s.log.Info("Stopping services")

	if err := s.chat.Stop(ctx); err != nil {
		s.log.Error("Failed to stop chat service", "error", err)
	}
	if err := s.queue.Stop(ctx); err != nil {
		s.log.Error("Failed to stop queue service", "error", err)
	}

	if s.status != nil {
		if err := s.status.Shutdown(ctx); err != nil {
			s.log.Error("Failed to stop status server", "error", err)
		}
		s.status = nil
	}

	if s.bus != nil {
		s.bus.Close()
	}
}

// States reports the current state of each handle.
func (s *Supervisor) States() map[string]State {
	return map[string]State{
		s.queue.Name(): s.queue.State(),
		s.chat.Name():  s.chat.State(),
	}
}

// Metrics exposes the collectors fed by bridge events.
func (s *Supervisor) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Supervisor) checkAlive(ctx context.Context, h *Handle) bool {
	err := h.CheckAlive(ctx)
	if err == nil {
		return true
	}

	if channel.IsInterruption(err) {
		s.log.Info("Interrupted", "service", h.Name())
		return false
	}

	s.log.Error("Liveness check failed", "service", h.Name(), "error", err)
	if s.bus != nil {
		s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventLivenessFailed, Service: h.Name(), Error: err.Error()})
	}
	return false
}

func (s *Supervisor) publishState(name string, state State) {
	s.log.Debug("Service state changed", "service", name, "state", state.String())
	if s.bus != nil {
		s.bus.PublishEvent(context.Background(), bus.Event{Type: bus.EventStateChanged, Service: name, State: state.String()})
	}
}

func (s *Supervisor) statusAddress() string {
	if s.cfg == nil {
		return ""
	}

	return s.cfg.Supervisor.StatusAddress
}
