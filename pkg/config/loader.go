package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
)

const (
	envConfigPath = "WAMQ_CONFIG"
	maskedValue   = "********"
)

// ErrNoConfiguration is returned when none of the candidate files could be read.
var ErrNoConfiguration = errors.New("no configuration available")

// Params is the raw key/value mapping read from one configuration file.
type Params map[string]string

// DefaultCandidates returns the ordered list of configuration files to try.
//
// WAMQ_CONFIG replaces the whole list when set.
func DefaultCandidates() []string {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		return []string{value}
	}

	return []string{"wamq.conf", "~/wamq.conf", "/etc/wamq.conf"}
}

// Load parses the first readable candidate and returns its params with the path it came from.
func Load(candidates []string, log *slog.Logger) (Params, string, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "config.loader")

	for _, candidate := range candidates {
		log.Info("Attempting to load configuration", "path", candidate)

		path, err := homedir.Expand(candidate)
		if err != nil {
			log.Debug("Skipping configuration candidate", "path", candidate, "error", err)
			continue
		}

		params, err := loadFile(path)
		if err != nil {
			log.Debug("Configuration candidate not readable", "path", path, "error", err)
			continue
		}

		log.Info("Configuration loaded", "path", path, "params", maskedJSON(params))
		return params, path, nil
	}

	log.Error("Config load failed, configuration files are not present", "candidates", strings.Join(candidates, ","))
	return nil, "", ErrNoConfiguration
}

func loadFile(path string) (Params, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads `key = value` lines. Blank lines and lines starting with '#' or ';' are skipped,
// trailing comments are cut, '-' in keys becomes '_' and the last duplicate key wins.
func Parse(r io.Reader) (Params, error) {
	params := make(Params)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		key = strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	return params, nil
}

// maskedJSON renders params for logging with secret values hidden.
func maskedJSON(params Params) string {
	safe := make(map[string]string, len(params))
	for key, value := range params {
		if isSecretKey(key) && value != "" {
			value = maskedValue
		}
		safe[key] = value
	}

	content, err := json.Marshal(safe)
	if err != nil {
		return "{}"
	}

	return string(content)
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "password") || strings.Contains(lower, "token") || strings.Contains(lower, "secret")
}
