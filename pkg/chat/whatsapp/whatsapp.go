package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"wamq/pkg/bus"
	"wamq/pkg/chat"
	"wamq/pkg/config"
)

const (
	networkName    = "whatsapp"
	webhookPath    = "/webhook"
	requestTimeout = 15 * time.Second
	maxWebhookBody = 1 << 20

	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// Transport talks to the WhatsApp Cloud API and receives notifications on a webhook.
type Transport struct {
	cfg    config.ChatConfig
	client *retryablehttp.Client
	log    *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	err      error
	receive  chat.Receiver
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewTransport validates the chat configuration and builds a Cloud API transport.
func NewTransport(cfg config.ChatConfig, log *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Phone) == "" {
		return nil, errors.New("whatsapp phone number id is required")
	}
	if strings.TrimSpace(cfg.Password) == "" {
		return nil, errors.New("whatsapp access token is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "chat.whatsapp")

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = requestTimeout
	client.Logger = log

	return &Transport{cfg: cfg, client: client, log: log}, nil
}

func (t *Transport) Name() string {
	return networkName
}

// Start binds the webhook listener and serves notifications in the background.
func (t *Transport) Start(ctx context.Context, receive chat.Receiver) error {
	if receive == nil {
		return errors.New("receiver is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.server != nil {
		return nil
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", t.cfg.WebhookAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.cfg.WebhookAddress, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(webhookPath, t.handleWebhook)

	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.receive = receive
	t.listener = listener
	t.err = nil
	t.done = make(chan struct{})
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := t.server
	done := t.done
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.setErr(fmt.Errorf("webhook server: %w", err))
		}
	}()

	t.log.Info("WhatsApp webhook listening", "address", listener.Addr().String(), "path", webhookPath)
	return nil
}

// Addr returns the bound webhook address, or nil before Start.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}

	return t.listener.Addr()
}

func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stop shuts the webhook server down. Calling it again is a no-op.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	server := t.server
	done := t.done
	cancel := t.cancel
	t.server = nil
	t.mu.Unlock()

	if server == nil {
		return nil
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelShutdown()
	err := server.Shutdown(shutdownCtx)
	<-done
	return err
}

// Send delivers a text message to a WhatsApp user.
func (t *Transport) Send(ctx context.Context, to string, text string) error {
	return t.post(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: text},
	})
}

// MarkRead flags a received message as read.
func (t *Transport) MarkRead(ctx context.Context, msg bus.InboundMessage) error {
	if msg.Metadata[metaWAMessageID] == "" {
		return nil
	}

	return t.post(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        msg.Metadata[metaWAMessageID],
	})
}

func (t *Transport) post(ctx context.Context, payload sendRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	endpoint := t.cfg.APIURL + "/" + t.cfg.Phone + "/messages"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("call whatsapp api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxWebhookBody)).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return fmt.Errorf("whatsapp api error %d (code %d): %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("whatsapp api status %d", resp.StatusCode)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *Transport) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t.handleVerify(w, r)
	case http.MethodPost:
		t.handleNotification(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the subscription handshake by echoing hub.challenge.
func (t *Transport) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != t.cfg.WebhookVerifyToken {
		t.log.Warn("Rejected webhook verification", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, query.Get("hub.challenge"))
}

func (t *Transport) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		t.log.Warn("Failed to read webhook notification", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if t.cfg.AppSecret != "" && !validSignature(t.cfg.AppSecret, body, r.Header.Get(signatureHeader)) {
		t.log.Warn("Rejected webhook notification with bad signature", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload notification
	if err := json.Unmarshal(body, &payload); err != nil {
		t.log.Warn("Malformed webhook notification", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	receive := t.receive
	ctx := t.ctx
	t.mu.Unlock()

	if receive != nil {
		for _, msg := range payload.inboundMessages(t.cfg.Phone) {
			receive(ctx, msg)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// validSignature checks the sha256=<hex> HMAC of body keyed with the app secret.
func validSignature(secret string, body []byte, header string) bool {
	digest, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (t *Transport) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

const metaWAMessageID = "wa_message_id"

type sendRequest struct {
	MessagingProduct string    `json:"messaging_product"`
	RecipientType    string    `json:"recipient_type,omitempty"`
	To               string    `json:"to,omitempty"`
	Type             string    `json:"type,omitempty"`
	Text             *textBody `json:"text,omitempty"`
	Status           string    `json:"status,omitempty"`
	MessageID        string    `json:"message_id,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type notification struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From      string    `json:"from"`
					ID        string    `json:"id"`
					Timestamp string    `json:"timestamp"`
					Type      string    `json:"type"`
					Text      *textBody `json:"text,omitempty"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// inboundMessages flattens a notification into bridge messages, skipping status-only changes.
func (n notification) inboundMessages(identity string) []bus.InboundMessage {
	var out []bus.InboundMessage
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			to := change.Value.Metadata.PhoneNumberID
			if to == "" {
				to = identity
			}
			for _, m := range change.Value.Messages {
				msg := bus.InboundMessage{
					ID:         m.ID,
					Network:    networkName,
					From:       m.From,
					To:         to,
					Kind:       bus.ContentUnsupported,
					ReceivedAt: parseTimestamp(m.Timestamp),
					Metadata:   map[string]string{metaWAMessageID: m.ID, "type": m.Type},
				}
				if m.Type == "text" && m.Text != nil && strings.TrimSpace(m.Text.Body) != "" {
					msg.Kind = bus.ContentText
					msg.Content = m.Text.Body
				}
				out = append(out, msg)
			}
		}
	}

	return out
}

func parseTimestamp(raw string) time.Time {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}

	return time.Unix(seconds, 0).UTC()
}
