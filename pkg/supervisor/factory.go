package supervisor

import (
	"fmt"
	"log/slog"

	"wamq/pkg/bus"
	"wamq/pkg/channel"
	"wamq/pkg/chat"
	"wamq/pkg/chat/telegram"
	"wamq/pkg/chat/whatsapp"
	"wamq/pkg/config"
	"wamq/pkg/stomp"
)

// QueueService is the message-queue side of the bridge.
type QueueService interface {
	channel.Service
	channel.QueueDeliverer
	SetChatPeer(channel.ChatDeliverer)
}

// ChatService is the chat-network side of the bridge.
type ChatService interface {
	channel.Service
	channel.ChatDeliverer
	SetQueuePeer(channel.QueueDeliverer)
}

// Factory constructs the two services from a validated configuration.
type Factory struct {
	NewQueue func(*config.Config, *bus.MessageBus, *slog.Logger) (QueueService, error)
	NewChat  func(*config.Config, *bus.MessageBus, *slog.Logger) (ChatService, error)
}

// DefaultFactory builds the STOMP queue service and the configured chat network service.
func DefaultFactory() Factory {
	return Factory{
		NewQueue: func(cfg *config.Config, mb *bus.MessageBus, log *slog.Logger) (QueueService, error) {
			return stomp.New(cfg.Stomp, cfg.Chat.Phone, mb, log), nil
		},
		NewChat: func(cfg *config.Config, mb *bus.MessageBus, log *slog.Logger) (ChatService, error) {
			transport, err := newTransport(cfg.Chat, log)
			if err != nil {
				return nil, err
			}
			return chat.New(cfg.Chat, transport, mb, log), nil
		},
	}
}

func newTransport(cfg config.ChatConfig, log *slog.Logger) (chat.Transport, error) {
	switch cfg.Network {
	case config.NetworkWhatsApp, "":
		return whatsapp.NewTransport(cfg, log)
	case config.NetworkTelegram:
		return telegram.NewTransport(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported chat network %q", cfg.Network)
	}
}
