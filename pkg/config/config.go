package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Recognized configuration keys.
const (
	KeyWhatsAppPhone              = "whatsAppPhone"
	KeyWhatsAppPassword           = "whatsAppPassword"
	KeyWhatsAppAutoReply          = "whatsAppAutoReply"
	KeyWhatsAppReplyUnsupported   = "whatsAppReplyUnsupported"
	KeyWhatsAppAPIURL             = "whatsAppApiUrl"
	KeyWhatsAppWebhookAddress     = "whatsAppWebhookAddress"
	KeyWhatsAppWebhookVerifyToken = "whatsAppWebhookVerifyToken"
	KeyWhatsAppAppSecret          = "whatsAppAppSecret"
	KeyWhatsAppSendRate           = "whatsAppSendRate"
	KeyChatNetwork                = "chatNetwork"
	KeyStompHost                  = "stompHost"
	KeyStompPort                  = "stompPort"
	KeyStompLogin                 = "stompLogin"
	KeyStompPassword              = "stompPassword"
	KeyStompReconnectionAttempts  = "stompReconnectionAttemps"
	KeyStompListeningDestination  = "stompListeningDestination"
	KeyStompInboxPrefix           = "stompWhatsAppDestinationInboxPrefix"
	KeyStompHeartbeat             = "stompHeartbeat"
	KeyStatusAddress              = "statusAddress"
	KeySupervisorPollInterval     = "supervisorPollInterval"
)

const (
	NetworkWhatsApp = "whatsapp"
	NetworkTelegram = "telegram"

	maxListeningDestinations = 9

	defaultAPIURL         = "https://graph.facebook.com/v19.0"
	defaultWebhookAddress = ":8080"
	defaultSendRate       = 20
	defaultHeartbeat      = 10 * time.Second
	defaultPollInterval   = time.Second
)

// Config is the resolved daemon configuration. It is built once and not modified afterwards.
type Config struct {
	Chat       ChatConfig
	Stomp      StompConfig
	Supervisor SupervisorConfig
}

// ChatConfig configures the chat-network side of the bridge.
type ChatConfig struct {
	Network            string
	Phone              string
	Password           string
	AutoReply          bool
	ReplyUnsupported   bool
	APIURL             string
	WebhookAddress     string
	WebhookVerifyToken string
	AppSecret          string
	SendRate           int
}

// StompConfig configures the message-queue side of the bridge.
type StompConfig struct {
	Host                  string
	Port                  int
	Login                 string
	Password              string
	ReconnectionAttempts  int
	ListeningDestinations []string
	InboxPrefix           string
	Heartbeat             time.Duration
}

// SupervisorConfig controls liveness polling and the optional status server.
type SupervisorConfig struct {
	PollInterval  time.Duration
	StatusAddress string
}

// LoggingConfig controls structured log output format and verbosity.
//
// It is not part of the configuration file; the logger is needed before the file is read.
// An empty File means wamq.log in the working directory and "-" means stderr.
type LoggingConfig struct {
	Format    string
	Level     string
	AddSource bool
	File      string
}

// Address returns the broker host:port pair.
func (c StompConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// InboxDestination returns the destination that receives chat traffic for identity.
func (c StompConfig) InboxDestination(identity string) string {
	return c.InboxPrefix + identity
}

// ValidationError reports one configuration key that is missing or malformed.
type ValidationError struct {
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("parameter '%s' is not set", e.Key)
	}

	return fmt.Sprintf("parameter '%s' is invalid: %s", e.Key, e.Reason)
}

// ValidationErrors collects every problem found in one configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, item := range e {
		parts = append(parts, item.Error())
	}

	return strings.Join(parts, "; ")
}

// FromParams maps raw params onto a Config, applies defaults and checks mandatory fields.
//
// All problems are collected; the config is usable only when the returned errors are empty.
func FromParams(params Params) (*Config, ValidationErrors) {
	v := &validator{params: params}

	cfg := &Config{
		Chat: ChatConfig{
			Network:            strings.ToLower(v.optional(KeyChatNetwork, NetworkWhatsApp)),
			Phone:              v.mandatory(KeyWhatsAppPhone),
			Password:           v.mandatory(KeyWhatsAppPassword),
			AutoReply:          v.boolean(KeyWhatsAppAutoReply, true),
			ReplyUnsupported:   v.boolean(KeyWhatsAppReplyUnsupported, true),
			APIURL:             strings.TrimRight(v.optional(KeyWhatsAppAPIURL, defaultAPIURL), "/"),
			WebhookAddress:     v.optional(KeyWhatsAppWebhookAddress, defaultWebhookAddress),
			WebhookVerifyToken: v.optional(KeyWhatsAppWebhookVerifyToken, ""),
			AppSecret:          v.optional(KeyWhatsAppAppSecret, ""),
		},
		Stomp: StompConfig{
			Host:                 v.mandatory(KeyStompHost),
			Port:                 v.positiveInt(KeyStompPort, 0, true),
			Login:                v.mandatory(KeyStompLogin),
			Password:             v.mandatory(KeyStompPassword),
			ReconnectionAttempts: v.positiveInt(KeyStompReconnectionAttempts, 0, true),
			InboxPrefix:          v.mandatory(KeyStompInboxPrefix),
			Heartbeat:            v.duration(KeyStompHeartbeat, defaultHeartbeat),
		},
		Supervisor: SupervisorConfig{
			PollInterval:  v.duration(KeySupervisorPollInterval, defaultPollInterval),
			StatusAddress: v.optional(KeyStatusAddress, ""),
		},
	}
	cfg.Chat.SendRate = v.positiveInt(KeyWhatsAppSendRate, defaultSendRate, false)

	cfg.Stomp.ListeningDestinations = ListValues(params, KeyStompListeningDestination, maxListeningDestinations)
	if len(cfg.Stomp.ListeningDestinations) == 0 {
		v.fail(KeyStompListeningDestination+".N", "")
	}

	switch cfg.Chat.Network {
	case NetworkWhatsApp, NetworkTelegram:
	default:
		v.fail(KeyChatNetwork, fmt.Sprintf("unsupported chat network %q", cfg.Chat.Network))
	}

	return cfg, v.errs
}

// ListValues collects base.1 .. base.limit and stops at the first missing index.
func ListValues(params Params, base string, limit int) []string {
	values := make([]string, 0)
	for i := 1; i <= limit; i++ {
		value, ok := params[base+"."+strconv.Itoa(i)]
		if !ok {
			break
		}
		values = append(values, value)
	}

	return values
}

type validator struct {
	params Params
	errs   ValidationErrors
}

func (v *validator) fail(key string, reason string) {
	v.errs = append(v.errs, ValidationError{Key: key, Reason: reason})
}

func (v *validator) optional(key string, fallback string) string {
	if value, ok := v.params[key]; ok {
		return value
	}

	return fallback
}

func (v *validator) mandatory(key string) string {
	value := v.params[key]
	if value == "" {
		v.fail(key, "")
	}

	return value
}

func (v *validator) boolean(key string, fallback bool) bool {
	raw, ok := v.params[key]
	if !ok || raw == "" {
		return fallback
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		v.fail(key, fmt.Sprintf("%q is not a boolean", raw))
		return fallback
	}

	return value
}

func (v *validator) positiveInt(key string, fallback int, required bool) int {
	raw := v.params[key]
	if raw == "" {
		if required {
			v.fail(key, "")
		}
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		v.fail(key, fmt.Sprintf("%q is not a positive integer", raw))
		return fallback
	}

	return value
}

func (v *validator) duration(key string, fallback time.Duration) time.Duration {
	raw := v.params[key]
	if raw == "" {
		return fallback
	}

	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		v.fail(key, fmt.Sprintf("%q is not a positive duration", raw))
		return fallback
	}

	return value
}
