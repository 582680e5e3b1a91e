package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"

	"wamq/pkg/config"
)

const (
	// DefaultFile is where the daemon appends its log when nothing else is configured.
	DefaultFile = "wamq.log"
	// StderrTarget as a file name sends log lines to stderr.
	StderrTarget = "-"

	envFormat    = "WAMQ_LOG_FORMAT"
	envLevel     = "WAMQ_LOG_LEVEL"
	envAddSource = "WAMQ_LOG_ADD_SOURCE"
	envFile      = "WAMQ_LOG_FILE"

	formatText = "text"
	formatJSON = "json"
)

// settings is LoggingConfig after environment overrides and defaults are applied.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
	file      string
}

// New builds the process logger. Lines are appended to wamq.log unless another file or "-" is configured.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	st, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if st.file == StderrTarget {
		return build(st, os.Stderr), nil
	}

	// The file stays open for the life of the process.
	file, err := os.OpenFile(st.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", st.file, err)
	}

	return build(st, file), nil
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	st, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	return build(st, writer), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	st := settings{
		format:    strings.ToLower(override(envFormat, cfg.Format, formatText)),
		file:      override(envFile, cfg.File, DefaultFile),
		addSource: cfg.AddSource,
	}
	if st.format != formatText && st.format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", st.format)
	}

	levelText := strings.ToLower(override(envLevel, cfg.Level, "info"))
	if levelText == "warning" {
		levelText = "warn"
	}
	if err := st.level.UnmarshalText([]byte(levelText)); err != nil {
		return settings{}, fmt.Errorf("unsupported log level %q", levelText)
	}

	if raw := strings.TrimSpace(os.Getenv(envAddSource)); raw != "" {
		addSource, err := strconv.ParseBool(raw)
		if err != nil {
			return settings{}, fmt.Errorf("invalid %s %q: %w", envAddSource, raw, err)
		}
		st.addSource = addSource
	}

	return st, nil
}

// override prefers the environment, then the configured value, then fallback.
func override(env string, configured string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		return value
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}
	return fallback
}

func build(st settings, writer io.Writer) *slog.Logger {
	if st.format == formatJSON {
		return slog.New(&bridgeHandler{
			level:     st.level,
			addSource: st.addSource,
			out:       writer,
			mu:        &sync.Mutex{},
		})
	}

	var charmLevel charmLog.Level
	switch {
	case st.level <= slog.LevelDebug:
		charmLevel = charmLog.DebugLevel
	case st.level <= slog.LevelInfo:
		charmLevel = charmLog.InfoLevel
	case st.level <= slog.LevelWarn:
		charmLevel = charmLog.WarnLevel
	default:
		charmLevel = charmLog.ErrorLevel
	}

	return slog.New(charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLevel,
		Prefix:          "wamq",
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		ReportCaller:    st.addSource,
		Formatter:       charmLog.TextFormatter,
	}))
}

// Entry is one JSON log line. The attributes the bridge uses to correlate
// traffic are lifted out of Attrs so log pipelines can index them.
type Entry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Service   string         `json:"service,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Message   string         `json:"msg"`
	Error     string         `json:"error,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// bridgeHandler writes one Entry per record. Attributes added through
// WithAttrs are stored with their group prefix already applied.
type bridgeHandler struct {
	level     slog.Level
	addSource bool
	out       io.Writer
	mu        *sync.Mutex

	preset []slog.Attr
	prefix string
}

func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *bridgeHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := Entry{
		Time:    at.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(record.Level.String()),
		Message: record.Message,
	}

	for _, attr := range h.preset {
		entry.add(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		attr.Key = h.prefix + attr.Key
		entry.add(attr)
		return true
	})

	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			entry.Source = filepath.Base(src.File) + ":" + strconv.Itoa(src.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(append(line, '\n'))
	return err
}

func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = make([]slog.Attr, 0, len(h.preset)+len(attrs))
	next.preset = append(next.preset, h.preset...)
	for _, attr := range attrs {
		attr.Key = h.prefix + attr.Key
		next.preset = append(next.preset, attr)
	}
	return &next
}

func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (e *Entry) add(attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindString {
		switch attr.Key {
		case "component":
			e.Component = attr.Value.String()
			return
		case "service":
			e.Service = attr.Value.String()
			return
		case "message_id":
			e.MessageID = attr.Value.String()
			return
		}
	}
	if attr.Key == "error" {
		e.Error = fmt.Sprint(attr.Value.Any())
		return
	}

	if e.Attrs == nil {
		e.Attrs = make(map[string]any)
	}
	e.Attrs[attr.Key] = jsonValue(attr.Value)
}

func jsonValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := make(map[string]any)
		for _, item := range value.Group() {
			group[item.Key] = jsonValue(item.Value.Resolve())
		}
		return group
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.Any()
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
