package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wamq/pkg/config"
	"wamq/pkg/logger"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wamq.conf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCheckConfigurationAcceptsValidFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, strings.Join([]string{
		"whatsAppPhone=15550001",
		"whatsAppPassword=secret",
		"stompHost=broker.local",
		"stompPort=61613",
		"stompLogin=guest",
		"stompPassword=guest",
		"stompReconnectionAttemps=3",
		"stompListeningDestination.1=/queue/a",
		"stompListeningDestination.2=/queue/b",
		"stompWhatsAppDestinationInboxPrefix=/queue/inbox.",
	}, "\n"))

	var out bytes.Buffer
	if err := checkConfiguration([]string{path}, logger.Discard(), &out); err != nil {
		t.Fatalf("checkConfiguration returned error: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "ok (network=whatsapp broker=broker.local:61613 destinations=2)") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestCheckConfigurationListsProblems(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "whatsAppPhone=15550001\n")

	var out bytes.Buffer
	err := checkConfiguration([]string{path}, logger.Discard(), &out)
	if !errors.Is(err, errInvalidConfiguration) {
		t.Fatalf("expected errInvalidConfiguration, got %v", err)
	}
	if got := strings.Count(out.String(), "\n"); got != 8 {
		t.Fatalf("expected 8 reported problems, got %d:\n%s", got, out.String())
	}
}

func TestCheckConfigurationWithoutFile(t *testing.T) {
	t.Parallel()

	err := checkConfiguration([]string{filepath.Join(t.TempDir(), "none.conf")}, logger.Discard(), &bytes.Buffer{})
	if !errors.Is(err, config.ErrNoConfiguration) {
		t.Fatalf("expected ErrNoConfiguration, got %v", err)
	}
}

func TestRootCommandRejectsArguments(t *testing.T) {
	t.Parallel()

	if err := rootCmd.Args(rootCmd, []string{"extra"}); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}
