package stomp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"wamq/pkg/bus"
	"wamq/pkg/channel"
	"wamq/pkg/config"
)

const serviceName = "stomp"

const (
	headerTo        = "to"
	headerRecipient = "recipient"
	headerFrom      = "from"
	headerMessageID = "message-id"
	headerNetwork   = "network"
)

var errNotRunning = errors.New("queue service is not running")

// Service connects to the broker, feeds frames to the chat peer and publishes chat traffic.
type Service struct {
	cfg      config.StompConfig
	identity string
	bus      *bus.MessageBus
	log      *slog.Logger

	dial       dialFunc
	newBackOff func() backoff.BackOff

	chat channel.ChatDeliverer

	mu         sync.Mutex
	client     client
	subs       []subscription
	lost       chan error
	endSession context.CancelFunc
	cancel     context.CancelFunc
	readers    sync.WaitGroup
	workers    sync.WaitGroup
	running    bool
	broken     error
}

// New builds a queue service. identity is the chat identity whose inbox receives chat traffic.
func New(cfg config.StompConfig, identity string, mb *bus.MessageBus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		identity: identity,
		bus:      mb,
		log:      log.With("component", "stomp.service"),
		dial:     dialBroker,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (s *Service) Name() string {
	return serviceName
}

// SetChatPeer assigns the chat service that receives queue frames. It is called once before Start.
func (s *Service) SetChatPeer(chat channel.ChatDeliverer) {
	s.chat = chat
}

// Start connects, subscribes to every listening destination and starts the publisher.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.chat == nil {
		return channel.NewStartError(serviceName, errors.New("chat peer is not set"))
	}

	if err := s.connectLocked(ctx); err != nil {
		return channel.NewStartError(serviceName, err)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running = true

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.publishLoop(workerCtx)
	}()

	s.log.Info("Queue service started", "address", s.cfg.Address(), "destinations", strings.Join(s.cfg.ListeningDestinations, ","), "inbox", s.cfg.InboxDestination(s.identity))
	return nil
}

// CheckAlive reconnects a dropped session within the attempt budget.
func (s *Service) CheckAlive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInterrupted, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return channel.NewLivenessError(serviceName, errNotRunning)
	}
	if s.broken != nil {
		return s.broken
	}

	select {
	case cause := <-s.lost:
		s.log.Warn("Broker connection lost, reconnecting", "error", cause, "attempts", s.cfg.ReconnectionAttempts)
		s.closeSessionLocked()
		if err := s.connectLocked(ctx); err != nil {
			if channel.IsInterruption(err) {
				return fmt.Errorf("%w: %v", channel.ErrInterrupted, err)
			}
			s.broken = channel.NewLivenessError(serviceName, err)
			return s.broken
		}
		s.log.Info("Broker connection restored")
	default:
	}

	return nil
}

// DeliverToQueue queues a chat message for publishing to the inbox destination.
func (s *Service) DeliverToQueue(ctx context.Context, msg bus.InboundMessage) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return channel.NewDeliveryError(serviceName, errNotRunning)
	}

	if !s.bus.PublishInbound(ctx, msg) {
		return channel.NewDeliveryError(serviceName, errors.New("message bus unavailable"))
	}

	return nil
}

// Stop unsubscribes, disconnects and waits for workers. Calling it again is a no-op.
func (s *Service) Stop(context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	err := s.closeSessionLocked()
	s.mu.Unlock()

	s.workers.Wait()
	s.log.Info("Queue service stopped")
	return err
}

// connectLocked dials and subscribes, spending at most ReconnectionAttempts attempts.
func (s *Service) connectLocked(ctx context.Context) error {
	attempts := s.cfg.ReconnectionAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var conn client
	operation := func() error {
		c, err := s.dial(ctx, s.cfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("Broker connection attempt failed", "address", s.cfg.Address(), "error", err, "retry_in", wait)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("connect to %s after %d attempts: %w", s.cfg.Address(), attempts, err)
	}

	subs := make([]subscription, 0, len(s.cfg.ListeningDestinations))
	for _, destination := range s.cfg.ListeningDestinations {
		sub, err := conn.Subscribe(destination)
		if err != nil {
			for _, opened := range subs {
				_ = opened.Unsubscribe()
			}
			_ = conn.Disconnect()
			return fmt.Errorf("subscribe %s: %w", destination, err)
		}
		subs = append(subs, sub)
	}

	sessionCtx, endSession := context.WithCancel(context.WithoutCancel(ctx))
	s.client = conn
	s.subs = subs
	s.lost = make(chan error, 1)
	s.endSession = endSession
	for i, sub := range subs {
		destination := s.cfg.ListeningDestinations[i]
		lost := s.lost
		s.readers.Add(1)
		go func() {
			defer s.readers.Done()
			s.readLoop(sessionCtx, destination, sub, lost)
		}()
	}

	return nil
}

// closeSessionLocked tears down the current connection and waits for its readers.
func (s *Service) closeSessionLocked() error {
	if s.endSession != nil {
		s.endSession()
		s.endSession = nil
	}

	var errs []error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.client != nil {
		if err := s.client.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}
	s.readers.Wait()

	s.client = nil
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Service) readLoop(ctx context.Context, destination string, sub subscription, lost chan<- error) {
	for msg := range sub.C() {
		if msg.Err != nil {
			signalLost(lost, fmt.Errorf("subscription %s: %w", destination, msg.Err))
			return
		}
		s.forwardToChat(ctx, destination, msg)
	}
	if ctx.Err() != nil {
		return
	}

	signalLost(lost, fmt.Errorf("subscription %s closed", destination))
}

func (s *Service) forwardToChat(ctx context.Context, destination string, msg frameMessage) {
	outbound, err := outboundFromFrame(destination, msg)
	if err != nil {
		s.log.Warn("Dropping queue frame", "destination", destination, "error", err)
		return
	}

	s.log.Info("Received queue frame", "destination", destination, "message_id", outbound.ID, "to", outbound.To)
	if err := s.chat.DeliverToChat(ctx, outbound); err != nil {
		s.log.Error("Failed to hand frame to chat service", "message_id", outbound.ID, "error", err)
		s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventDeliveryFailed, Service: serviceName, Direction: bus.DirectionToChat, MessageID: outbound.ID, Error: err.Error()})
	}
}

func (s *Service) publishLoop(ctx context.Context) {
	destination := s.cfg.InboxDestination(s.identity)
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		if err := s.publish(destination, msg); err != nil {
			s.log.Error("Failed to publish chat message", "destination", destination, "message_id", msg.ID, "error", err)
			s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventDeliveryFailed, Service: serviceName, Direction: bus.DirectionToQueue, MessageID: msg.ID, Error: err.Error()})
			continue
		}

		s.log.Info("Published chat message", "destination", destination, "message_id", msg.ID, "from", msg.From)
		s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventMessageBridged, Service: serviceName, Direction: bus.DirectionToQueue, MessageID: msg.ID})
	}
}

func (s *Service) publish(destination string, msg bus.InboundMessage) error {
	s.mu.Lock()
	conn := s.client
	lost := s.lost
	s.mu.Unlock()

	if conn == nil {
		return errNotRunning
	}

	headers := map[string]string{
		headerFrom:      msg.From,
		headerTo:        msg.To,
		headerMessageID: msg.ID,
	}
	if msg.Network != "" {
		headers[headerNetwork] = msg.Network
	}

	if err := conn.Send(destination, []byte(msg.Content), headers); err != nil {
		signalLost(lost, fmt.Errorf("send %s: %w", destination, err))
		return err
	}

	return nil
}

// outboundFromFrame turns a queue frame into a chat message; frames without a recipient are rejected.
func outboundFromFrame(destination string, msg frameMessage) (bus.OutboundMessage, error) {
	to := strings.TrimSpace(msg.Headers[headerTo])
	if to == "" {
		to = strings.TrimSpace(msg.Headers[headerRecipient])
	}
	if to == "" {
		return bus.OutboundMessage{}, errors.New("frame has no recipient header")
	}

	content := strings.TrimSpace(string(msg.Body))
	if content == "" {
		return bus.OutboundMessage{}, errors.New("frame body is empty")
	}

	id := strings.TrimSpace(msg.Headers[headerMessageID])
	if id == "" {
		id = bus.NewMessageID()
	}

	return bus.OutboundMessage{
		ID:          id,
		Destination: destination,
		To:          to,
		Content:     content,
	}, nil
}

func signalLost(lost chan<- error, err error) {
	if lost == nil {
		return
	}

	select {
	case lost <- err:
	default:
	}
}
