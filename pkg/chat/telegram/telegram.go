package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"wamq/pkg/bus"
	"wamq/pkg/chat"
	"wamq/pkg/config"
)

const networkName = "telegram"
const messagePreviewLimit = 240

// Transport bridges Telegram bot updates into bridge messages.
//
// The chat password is the bot token; the chat phone is the identity used for inbox routing.
type Transport struct {
	token    string
	identity string
	log      *slog.Logger

	mu     sync.Mutex
	bot    *telego.Bot
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewTransport validates Telegram configuration and constructs a transport instance.
func NewTransport(cfg config.ChatConfig, log *slog.Logger) (*Transport, error) {
	token := strings.TrimSpace(cfg.Password)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Transport{
		token:    token,
		identity: strings.TrimSpace(cfg.Phone),
		log:      log.With("component", "chat.telegram"),
	}, nil
}

func (t *Transport) Name() string {
	return networkName
}

// Start begins long polling and forwards updates to receive until Stop.
func (t *Transport) Start(ctx context.Context, receive chat.Receiver) error {
	if receive == nil {
		return errors.New("receiver is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return nil
	}

	bot, err := telego.NewBot(t.token)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	t.bot = bot
	t.cancel = cancel
	t.err = nil
	t.done = make(chan struct{})

	done := t.done
	go func() {
		defer close(done)
		t.poll(pollCtx, updates, receive)
	}()

	t.log.Info("Telegram channel started")
	return nil
}

func (t *Transport) poll(ctx context.Context, updates <-chan telego.Update, receive chat.Receiver) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				t.setErr(errors.New("telegram updates channel closed"))
				return
			}

			msg, ok := inboundFromUpdate(update, t.identity)
			if !ok {
				continue
			}
			t.log.Info("Received message", "chat_id", msg.From, "content", previewText(msg.Content))
			receive(ctx, msg)
		}
	}
}

// Send posts text to the chat identified by to.
func (t *Transport) Send(ctx context.Context, to string, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}

	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return errors.New("telegram transport is not started")
	}

	t.log.Info("Sending message", "chat_id", chatID, "content", previewText(text))
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

// MarkRead is a no-op; bots cannot send read receipts.
func (t *Transport) MarkRead(context.Context, bus.InboundMessage) error {
	return nil
}

func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop cancels long polling and waits for the update loop. Calling it again is a no-op.
func (t *Transport) Stop(context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.bot = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	return nil
}

func (t *Transport) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// inboundFromUpdate converts a message update; updates without a message or sender are skipped.
func inboundFromUpdate(update telego.Update, identity string) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil || message.From == nil {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		ID:         networkName + ":" + strconv.Itoa(update.UpdateID),
		Network:    networkName,
		From:       strconv.FormatInt(message.Chat.ID, 10),
		To:         identity,
		Kind:       bus.ContentUnsupported,
		ReceivedAt: time.Unix(message.Date, 0).UTC(),
		Metadata: map[string]string{
			"sender_id":  strconv.FormatInt(message.From.ID, 10),
			"message_id": strconv.Itoa(message.MessageID),
		},
	}

	if content := strings.TrimSpace(message.Text); content != "" {
		msg.Kind = bus.ContentText
		msg.Content = content
	}

	return msg, true
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
