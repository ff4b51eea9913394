package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogger records engagement transcripts outside the session store.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls where transcripts are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Sender     string         `json:"sender,omitempty"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Event directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// NoopConversationLogger discards every event.
type NoopConversationLogger struct{}

// Log does nothing.
func (NoopConversationLogger) Log(ConversationLogEvent) {}

// Close does nothing.
func (NoopConversationLogger) Close() error { return nil }

// FileConversationLogger appends events to one NDJSON file per session and
// optionally to a global file. Writes happen on a single background
// goroutine; events are dropped when the queue is full.
type FileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}

	closeOnce sync.Once
	dropped   int64
	mu        sync.Mutex // guards dropped
}

// NewConversationLogger creates a logger. A disabled config yields a no-op.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return NoopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &FileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event without blocking.
func (l *FileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}
	select {
	case l.queue <- event:
	default:
		l.mu.Lock()
		l.dropped++
		dropped := l.dropped
		l.mu.Unlock()
		l.logger.Warn("conversation log queue full, dropping event", "session_id", event.SessionID, "dropped_total", dropped)
	}
}

// Close drains the queue and stops the writer.
func (l *FileConversationLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *FileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(l.sessionPath(event.SessionID), line); err != nil {
			l.logger.Warn("failed to write conversation log", "session_id", event.SessionID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *FileConversationLogger) sessionPath(sessionID string) string {
	name := safeFileName(sessionID)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(l.cfg.Dir, name+".ndjson")
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func safeFileName(s string) string {
	return strings.Trim(unsafeFileChars.ReplaceAllString(s, "_"), ".")
}

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
)

// cleanForReadability strips escape sequences and control characters and
// collapses runs of blanks.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = controlPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
