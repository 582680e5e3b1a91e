package bus

import (
	"time"

	"github.com/google/uuid"
)

// ContentKind classifies the payload of a chat message.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentUnsupported ContentKind = "unsupported"
)

// InboundMessage travels from the chat network to the message queue.
type InboundMessage struct {
	ID         string            `json:"id"`
	Network    string            `json:"network"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Kind       ContentKind       `json:"kind"`
	Content    string            `json:"content"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage travels from the message queue to the chat network.
type OutboundMessage struct {
	ID          string            `json:"id"`
	Destination string            `json:"destination"`
	To          string            `json:"to"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewMessageID returns a fresh identifier for messages whose transport supplies none.
func NewMessageID() string {
	return uuid.NewString()
}
