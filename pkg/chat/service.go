package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"wamq/pkg/bus"
	"wamq/pkg/channel"
	"wamq/pkg/config"
)

// UnsupportedReply is sent back for messages the bridge cannot forward.
const UnsupportedReply = "Sorry, only text messages are supported."

var errStopped = errors.New("chat service is stopped")

// Service sends queue traffic to the chat network and hands chat traffic to the queue peer.
type Service struct {
	cfg       config.ChatConfig
	transport Transport
	bus       *bus.MessageBus
	limiter   *rate.Limiter
	log       *slog.Logger

	queue channel.QueueDeliverer

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func New(cfg config.ChatConfig, transport Transport, mb *bus.MessageBus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
		burst = cfg.SendRate
	}

	return &Service{
		cfg:       cfg,
		transport: transport,
		bus:       mb,
		limiter:   rate.NewLimiter(limit, burst),
		log:       log.With("component", "chat.service", "network", transport.Name()),
	}
}

func (s *Service) Name() string {
	return s.transport.Name()
}

// SetQueuePeer assigns the queue service that receives chat traffic. It is called once before Start.
func (s *Service) SetQueuePeer(queue channel.QueueDeliverer) {
	s.queue = queue
}

// Start brings the transport up and starts the sender worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.stopped {
		return channel.NewStartError(s.Name(), errStopped)
	}
	if s.queue == nil {
		return channel.NewStartError(s.Name(), errors.New("queue peer is not set"))
	}

	if err := s.transport.Start(ctx, s.receive); err != nil {
		return channel.NewStartError(s.Name(), err)
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running = true

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.sendLoop(workerCtx)
	}()

	s.log.Info("Chat service started", "identity", s.cfg.Phone, "auto_reply", s.cfg.AutoReply, "reply_unsupported", s.cfg.ReplyUnsupported)
	return nil
}

// CheckAlive reports a transport failure as a liveness error.
func (s *Service) CheckAlive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInterrupted, err)
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return channel.NewLivenessError(s.Name(), errors.New("chat service is not running"))
	}

	if err := s.transport.Err(); err != nil {
		return channel.NewLivenessError(s.Name(), err)
	}

	return nil
}

// DeliverToChat queues a message for sending on the chat network. Messages
// queued before Start are sent once the sender worker runs; after Stop every
// delivery is rejected.
func (s *Service) DeliverToChat(ctx context.Context, msg bus.OutboundMessage) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return channel.NewDeliveryError(s.Name(), errStopped)
	}

	if !s.bus.PublishOutbound(ctx, msg) {
		return channel.NewDeliveryError(s.Name(), errors.New("message bus unavailable"))
	}

	return nil
}

// Stop halts the sender worker and the transport. Calling it again is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	err := s.transport.Stop(ctx)
	s.workers.Wait()
	s.log.Info("Chat service stopped")
	return err
}

func (s *Service) sendLoop(ctx context.Context) {
	for {
		msg, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		if err := s.transport.Send(ctx, msg.To, msg.Content); err != nil {
			s.log.Error("Failed to send chat message", "to", msg.To, "message_id", msg.ID, "error", err)
			s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventDeliveryFailed, Service: s.Name(), Direction: bus.DirectionToChat, MessageID: msg.ID, Error: err.Error()})
			continue
		}

		s.log.Info("Sent chat message", "to", msg.To, "message_id", msg.ID)
		s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventMessageBridged, Service: s.Name(), Direction: bus.DirectionToChat, MessageID: msg.ID})
	}
}

// receive applies the auto-reply and unsupported-content rules, then forwards to the queue.
func (s *Service) receive(ctx context.Context, msg bus.InboundMessage) {
	if msg.ID == "" {
		msg.ID = bus.NewMessageID()
	}
	if msg.To == "" {
		msg.To = s.cfg.Phone
	}
	if msg.Network == "" {
		msg.Network = s.Name()
	}

	s.log.Info("Received chat message", "from", msg.From, "message_id", msg.ID, "kind", msg.Kind)

	if s.cfg.AutoReply {
		if err := s.transport.MarkRead(ctx, msg); err != nil {
			s.log.Warn("Failed to acknowledge chat message", "message_id", msg.ID, "error", err)
		}
	}

	if msg.Kind == bus.ContentUnsupported {
		if s.cfg.ReplyUnsupported {
			if err := s.transport.Send(ctx, msg.From, UnsupportedReply); err != nil {
				s.log.Warn("Failed to reply to unsupported message", "from", msg.From, "error", err)
			}
		}
		return
	}

	if err := s.queue.DeliverToQueue(ctx, msg); err != nil {
		s.log.Error("Failed to hand chat message to queue service", "message_id", msg.ID, "error", err)
		s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventDeliveryFailed, Service: s.Name(), Direction: bus.DirectionToQueue, MessageID: msg.ID, Error: err.Error()})
	}
}
