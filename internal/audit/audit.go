package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/metrics"
)

// Status classifies the outcome of an audited decision or action.
type Status string

const (
	StatusAllowed     Status = "allowed"
	StatusDenied      Status = "denied"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
)

// Event captures a single access-control decision or mutating action.
// Events are emitted and forgotten; nothing reads them back.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Status    Status            `json:"status"`
	Method    string            `json:"method,omitempty"`
	Path      string            `json:"path,omitempty"`
	IPHash    string            `json:"ip_hash,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Sink is the write-only contract for audit event delivery.
type Sink interface {
	Record(event Event)
	Close() error
}

// Config mirrors the audit section of the application configuration.
type Config struct {
	Enabled  bool
	Sink     string
	FilePath string
}

// New builds a sink for the configured destination. A disabled config
// yields a no-op sink.
func New(cfg Config, log logger.Logger) (Sink, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	if !cfg.Enabled {
		return nopSink{}, nil
	}

	switch cfg.Sink {
	case "stdout":
		return &jsonSink{out: os.Stdout, log: log}, nil
	case "file":
		return newFileSink(cfg.FilePath, log)
	default:
		return nil, fmt.Errorf("unsupported audit sink: %s", cfg.Sink)
	}
}

// HashIP returns a truncated one-way digest of a client address. Raw
// addresses never reach the audit stream.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}

type jsonSink struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	log    logger.Logger
}

func newFileSink(path string, log logger.Logger) (*jsonSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path cannot be empty")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &jsonSink{out: file, closer: file, log: log}, nil
}

// Record emits one JSON line per event. Delivery failures are logged and
// swallowed; an audit hiccup must never fail the request it describes.
func (s *jsonSink) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("Failed to encode audit event", logger.Error(err))
		metrics.AuditEventsTotal.WithLabelValues(string(event.Status), "error").Inc()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.out.Write(append(payload, '\n')); err != nil {
		s.log.Error("Failed to write audit event", logger.Error(err))
		metrics.AuditEventsTotal.WithLabelValues(string(event.Status), "error").Inc()
		return
	}
	metrics.AuditEventsTotal.WithLabelValues(string(event.Status), "written").Inc()
}

func (s *jsonSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type nopSink struct{}

func (nopSink) Record(Event) {}
func (nopSink) Close() error { return nil }
