// Package store reads and shapes per-tenant telemetry and settings
// documents from the filesystem.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/tenant"
)

// Settings persists small per-tenant UI preference documents. A missing
// or corrupt document reads as the default value.
type Settings struct {
	log logger.Logger
}

// NewSettings creates a settings store.
func NewSettings(log logger.Logger) *Settings {
	return &Settings{log: log}
}

// HiddenAgents returns the tenant's hidden agent signatures.
func (s *Settings) HiddenAgents(tctx tenant.Context) []string {
	var hidden []string
	if !s.readDocument(tctx.HiddenAgentsPath(), &hidden) {
		return []string{}
	}
	if hidden == nil {
		hidden = []string{}
	}
	return hidden
}

// SetHiddenAgents replaces the tenant's hidden agent list.
func (s *Settings) SetHiddenAgents(tctx tenant.Context, hidden []string) error {
	if hidden == nil {
		hidden = []string{}
	}
	return s.writeDocument(tctx.HiddenAgentsPath(), hidden)
}

// DisplayNames returns the tenant's signature to display-name mapping.
func (s *Settings) DisplayNames(tctx tenant.Context) map[string]string {
	var names map[string]string
	if !s.readDocument(tctx.DisplayNamesPath(), &names) || names == nil {
		return map[string]string{}
	}
	return names
}

// SetDisplayNames replaces the tenant's display-name mapping.
func (s *Settings) SetDisplayNames(tctx tenant.Context, names map[string]string) error {
	if names == nil {
		names = map[string]string{}
	}
	return s.writeDocument(tctx.DisplayNamesPath(), names)
}

func (s *Settings) readDocument(path string, out any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn("Corrupt settings document, using default",
			logger.String("path", path),
			logger.Error(err))
		return false
	}
	return true
}

func (s *Settings) writeDocument(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
