// Package watcher polls tenant agent-data directories for telemetry
// appends and pushes the latest entries out through the broadcast hub.
package watcher

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/metrics"
)

// Broadcaster is the hub surface the watcher needs.
type Broadcaster interface {
	Broadcast(tenantKey string, message any) int
}

// Config controls the polling watcher.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// Update is the message pushed to websocket clients when a telemetry
// file advances.
type Update struct {
	Type      string          `json:"type"`
	Signature string          `json:"signature"`
	Data      json.RawMessage `json:"data"`
}

// Watcher polls every tenant's agent_data tree and broadcasts the last
// line of a telemetry file whenever its mtime advances.
type Watcher struct {
	cfg      Config
	dataRoot string
	hub      Broadcaster
	log      logger.Logger

	// keyed by "<tenantKey>/<signature>/<kind>"
	lastModified map[string]time.Time
}

// New creates a watcher over the given data root.
func New(cfg Config, dataRoot string, hub Broadcaster, log logger.Logger) *Watcher {
	return &Watcher{
		cfg:          cfg,
		dataRoot:     dataRoot,
		hub:          hub,
		log:          log,
		lastModified: make(map[string]time.Time),
	}
}

// Run polls until the context is cancelled. Sweep failures are logged
// and the loop keeps going.
func (w *Watcher) Run(ctx context.Context) {
	if !w.cfg.Enabled {
		return
	}
	interval := w.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	w.log.Info("File watcher started",
		logger.String("data_root", w.dataRoot),
		logger.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("File watcher stopped")
			return
		case <-ticker.C:
			if err := w.sweep(); err != nil {
				metrics.WatcherSweepsTotal.WithLabelValues("error").Inc()
				w.log.Warn("Watcher sweep failed", logger.Error(err))
				continue
			}
			metrics.WatcherSweepsTotal.WithLabelValues("ok").Inc()
		}
	}
}

// sweep walks dataRoot/<tenantKey>/agent_data/<agentDir> once.
func (w *Watcher) sweep() error {
	tenants, err := os.ReadDir(w.dataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, tenantEntry := range tenants {
		if !tenantEntry.IsDir() {
			continue
		}
		tenantKey := tenantEntry.Name()
		agentData := filepath.Join(w.dataRoot, tenantKey, "agent_data")

		agents, err := os.ReadDir(agentData)
		if err != nil {
			continue
		}
		for _, agentEntry := range agents {
			if !agentEntry.IsDir() {
				continue
			}
			signature := agentEntry.Name()
			agentDir := filepath.Join(agentData, signature)

			w.checkFile(tenantKey, signature, "balance",
				filepath.Join(agentDir, "economic", "balance.jsonl"), "balance_update")
			w.checkFile(tenantKey, signature, "decision",
				filepath.Join(agentDir, "decisions", "decisions.jsonl"), "activity_update")
		}
	}
	return nil
}

// checkFile broadcasts the last line of path when its mtime has
// advanced past what we saw before. The first sighting of a file counts
// as an advance.
func (w *Watcher) checkFile(tenantKey, signature, kind, path, messageType string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	key := tenantKey + "/" + signature + "/" + kind
	seen, ok := w.lastModified[key]
	if ok && !info.ModTime().After(seen) {
		return
	}

	// The mtime is recorded only after a broadcast goes out, so a torn
	// or partial final line is retried on the next sweep.
	line, err := lastLine(path)
	if err != nil || len(line) == 0 {
		return
	}
	if !json.Valid(line) {
		w.log.Warn("Skipping malformed telemetry line",
			logger.String("path", path),
			logger.String("tenant_key", tenantKey))
		return
	}

	w.hub.Broadcast(tenantKey, Update{
		Type:      messageType,
		Signature: signature,
		Data:      json.RawMessage(line),
	})
	w.lastModified[key] = info.ModTime()
}

// lastLine returns the final non-empty line of a JSON-lines file.
func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Bytes(); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return last, nil
}
