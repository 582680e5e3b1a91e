package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		KeyWhatsAppPhone:                  "15550001",
		KeyWhatsAppPassword:               "secret",
		KeyStompHost:                      "broker.local",
		KeyStompPort:                      "61613",
		KeyStompLogin:                     "guest",
		KeyStompPassword:                  "guest",
		KeyStompReconnectionAttempts:      "5",
		KeyStompInboxPrefix:               "/queue/whatsapp.inbox.",
		KeyStompListeningDestination + ".1": "/queue/whatsapp.outbox",
	}
}

func TestFromParamsDefaults(t *testing.T) {
	t.Parallel()

	cfg, errs := FromParams(validParams())
	require.Empty(t, errs)

	assert.True(t, cfg.Chat.AutoReply)
	assert.True(t, cfg.Chat.ReplyUnsupported)
	assert.Equal(t, NetworkWhatsApp, cfg.Chat.Network)
	assert.Equal(t, defaultSendRate, cfg.Chat.SendRate)
	assert.Equal(t, 61613, cfg.Stomp.Port)
	assert.Equal(t, 5, cfg.Stomp.ReconnectionAttempts)
	assert.Equal(t, time.Second, cfg.Supervisor.PollInterval)
	assert.Equal(t, "broker.local:61613", cfg.Stomp.Address())
	assert.Equal(t, "/queue/whatsapp.inbox.15550001", cfg.Stomp.InboxDestination(cfg.Chat.Phone))
}

func TestFromParamsOverridesFlags(t *testing.T) {
	t.Parallel()

	params := validParams()
	params[KeyWhatsAppAutoReply] = "false"
	params[KeyWhatsAppReplyUnsupported] = "0"
	params[KeyWhatsAppAppSecret] = "app-secret"

	cfg, errs := FromParams(params)
	require.Empty(t, errs)
	assert.False(t, cfg.Chat.AutoReply)
	assert.False(t, cfg.Chat.ReplyUnsupported)
	assert.Equal(t, "app-secret", cfg.Chat.AppSecret)
}

func TestFromParamsReportsEveryMissingField(t *testing.T) {
	t.Parallel()

	_, errs := FromParams(Params{})

	keys := make([]string, 0, len(errs))
	for _, err := range errs {
		assert.Empty(t, err.Reason)
		keys = append(keys, err.Key)
	}
	assert.Equal(t, []string{
		KeyWhatsAppPhone,
		KeyWhatsAppPassword,
		KeyStompHost,
		KeyStompPort,
		KeyStompLogin,
		KeyStompPassword,
		KeyStompReconnectionAttempts,
		KeyStompInboxPrefix,
		KeyStompListeningDestination + ".N",
	}, keys)
}

func TestFromParamsMissingInboxAndDestinations(t *testing.T) {
	t.Parallel()

	params := validParams()
	delete(params, KeyStompInboxPrefix)
	delete(params, KeyStompListeningDestination+".1")

	_, errs := FromParams(params)
	require.Len(t, errs, 2)
	assert.Equal(t, "parameter 'stompWhatsAppDestinationInboxPrefix' is not set", errs[0].Error())
	assert.Equal(t, "parameter 'stompListeningDestination.N' is not set", errs[1].Error())
}

func TestFromParamsInvalidValues(t *testing.T) {
	t.Parallel()

	params := validParams()
	params[KeyStompPort] = "not-a-port"
	params[KeyWhatsAppAutoReply] = "maybe"
	params[KeySupervisorPollInterval] = "soon"
	params[KeyChatNetwork] = "pager"

	_, errs := FromParams(params)
	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.NotEmpty(t, err.Reason, err.Key)
	}
}

func TestListValuesContiguousRun(t *testing.T) {
	t.Parallel()

	for n := 0; n <= maxListeningDestinations; n++ {
		params := Params{}
		for i := 1; i <= n; i++ {
			params[fmt.Sprintf("%s.%d", KeyStompListeningDestination, i)] = fmt.Sprintf("/queue/%d", i)
		}

		got := ListValues(params, KeyStompListeningDestination, maxListeningDestinations)
		require.Len(t, got, n)
		for i, value := range got {
			assert.Equal(t, fmt.Sprintf("/queue/%d", i+1), value)
		}
	}
}

func TestListValuesGapTruncates(t *testing.T) {
	t.Parallel()

	params := Params{
		"stompListeningDestination.1": "/queue/a",
		"stompListeningDestination.2": "/queue/b",
		"stompListeningDestination.4": "/queue/d",
		"stompListeningDestination.5": "/queue/e",
	}

	got := ListValues(params, KeyStompListeningDestination, maxListeningDestinations)
	assert.Equal(t, []string{"/queue/a", "/queue/b"}, got)
}

func TestListValuesStopsAtLimit(t *testing.T) {
	t.Parallel()

	params := Params{}
	for i := 1; i <= 12; i++ {
		params[fmt.Sprintf("%s.%d", KeyStompListeningDestination, i)] = "x"
	}

	assert.Len(t, ListValues(params, KeyStompListeningDestination, maxListeningDestinations), maxListeningDestinations)
}
