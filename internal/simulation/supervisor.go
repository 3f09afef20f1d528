package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/clawwork/livebench/internal/audit"
	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/metrics"
	"github.com/clawwork/livebench/internal/tenant"
)

var (
	// ErrNotFound is returned when no record matches the requested id.
	ErrNotFound = errors.New("simulation not found")
	// ErrEnvKeyNotAllowed is returned when a start request carries an
	// environment override outside the allow-list.
	ErrEnvKeyNotAllowed = errors.New("environment override key not allowed")
)

// configSection is the nested key whose data_path field is rewritten to
// the tenant's isolated data directory.
const configSection = "livebench"

// StartRequest is a caller-submitted simulation start payload.
type StartRequest struct {
	Config  map[string]any    `json:"config"`
	EnvVars map[string]string `json:"env_vars,omitempty"`
}

// Config contains supervisor configuration.
type Config struct {
	WorkerExec     string
	WorkerScript   string
	ProjectRoot    string
	AllowedEnvKeys []string
}

// Supervisor owns the per-tenant simulation registry and the worker
// process lifecycle. It is the sole writer of registry documents.
type Supervisor struct {
	cfg     Config
	proc    ProcessManager
	sink    audit.Sink
	log     logger.Logger
	allowed map[string]bool
	environ func() []string
	now     func() time.Time
}

// NewSupervisor creates a supervisor using the given process manager.
func NewSupervisor(cfg Config, proc ProcessManager, sink audit.Sink, log logger.Logger) *Supervisor {
	if log == nil {
		log = logger.GetDefault()
	}
	allowed := make(map[string]bool, len(cfg.AllowedEnvKeys))
	for _, k := range cfg.AllowedEnvKeys {
		allowed[k] = true
	}
	return &Supervisor{
		cfg:     cfg,
		proc:    proc,
		sink:    sink,
		log:     log,
		allowed: allowed,
		environ: os.Environ,
		now:     time.Now,
	}
}

// Start validates the request, rewrites its config for tenant isolation,
// spawns a detached worker, and appends the new record to the tenant's
// registry.
func (s *Supervisor) Start(tctx tenant.Context, req StartRequest) (*Record, error) {
	// Env keys are checked before any side effect: a rejected request
	// must leave no config file and no process behind.
	for key := range req.EnvVars {
		if !s.allowed[key] {
			return nil, fmt.Errorf("%w: %s", ErrEnvKeyNotAllowed, key)
		}
	}

	id := uuid.NewString()

	cfg := req.Config
	if cfg == nil {
		cfg = make(map[string]any)
	}
	section, _ := cfg[configSection].(map[string]any)
	if section == nil {
		section = make(map[string]any)
	}
	// Whatever data path the caller supplied, the worker writes into
	// the tenant's isolated directory.
	section["data_path"] = tctx.AgentDataDir()
	cfg[configSection] = section

	configPath := filepath.Join(tctx.ConfigDir(), id+".json")
	if err := writeJSON(configPath, cfg); err != nil {
		return nil, s.failStart(tctx, id, fmt.Errorf("write config: %w", err))
	}

	env := s.environ()
	for key, value := range req.EnvVars {
		if value == "" {
			continue
		}
		env = append(env, key+"="+value)
	}

	pid, err := s.proc.Spawn(s.cfg.WorkerExec, []string{s.cfg.WorkerScript, configPath}, env, s.cfg.ProjectRoot)
	if err != nil {
		return nil, s.failStart(tctx, id, fmt.Errorf("spawn worker: %w", err))
	}

	rec := Record{
		ID:         id,
		PID:        pid,
		Status:     StatusRunning,
		Signature:  extractSignature(cfg),
		TenantKey:  tctx.Key,
		ConfigPath: configPath,
		StartTime:  s.now().UTC(),
	}

	records := s.loadRegistry(tctx)
	records = append(records, rec)
	if err := s.saveRegistry(tctx, records); err != nil {
		return nil, s.failStart(tctx, id, fmt.Errorf("persist registry: %w", err))
	}

	metrics.SimulationsStartedTotal.Inc()
	s.sink.Record(audit.Event{
		Action: "simulation.start",
		Status: audit.StatusAllowed,
		Details: map[string]string{
			"simulation_id": id,
			"tenant":        tctx.Key,
			"signature":     rec.Signature,
		},
	})
	s.log.Info("Simulation started",
		logger.String("simulation_id", id),
		logger.String("tenant_key", tctx.Key),
		logger.Int("pid", pid),
	)

	return &rec, nil
}

// List returns the tenant's registry snapshot, reconciling any records
// whose process has exited since the last look.
func (s *Supervisor) List(tctx tenant.Context) ([]Record, error) {
	records := s.loadRegistry(tctx)

	changed := false
	for i := range records {
		if records[i].Status != StatusRunning {
			continue
		}
		if s.proc.Alive(records[i].PID) {
			continue
		}
		end := s.now().UTC()
		records[i].Status = StatusTerminated
		records[i].EndTime = &end
		changed = true
		metrics.SimulationTransitionsTotal.WithLabelValues(string(StatusTerminated)).Inc()
		s.log.Info("Simulation terminated externally",
			logger.String("simulation_id", records[i].ID),
			logger.String("tenant_key", tctx.Key),
		)
	}

	if changed {
		if err := s.saveRegistry(tctx, records); err != nil {
			return nil, fmt.Errorf("persist registry: %w", err)
		}
	}

	return records, nil
}

// Stop transitions a running record to stopped (or terminated when the
// process is already gone). Stopping a record already in a terminal
// state succeeds without changing it.
func (s *Supervisor) Stop(tctx tenant.Context, id string) (*Record, error) {
	records := s.loadRegistry(tctx)

	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}

	rec := &records[idx]
	if rec.Status.Terminal() {
		return rec, nil
	}

	end := s.now().UTC()
	if err := s.proc.Terminate(rec.PID); err != nil {
		// Signal failure means the process was already gone.
		rec.Status = StatusTerminated
	} else {
		rec.Status = StatusStopped
	}
	rec.EndTime = &end
	metrics.SimulationTransitionsTotal.WithLabelValues(string(rec.Status)).Inc()

	if err := s.saveRegistry(tctx, records); err != nil {
		s.sink.Record(audit.Event{
			Action: "simulation.stop",
			Status: audit.StatusError,
			Details: map[string]string{
				"simulation_id": id,
				"tenant":        tctx.Key,
				"error":         "registry write failed",
			},
		})
		return nil, fmt.Errorf("persist registry: %w", err)
	}

	s.sink.Record(audit.Event{
		Action: "simulation.stop",
		Status: audit.StatusAllowed,
		Details: map[string]string{
			"simulation_id": id,
			"tenant":        tctx.Key,
			"result":        string(rec.Status),
		},
	})
	s.log.Info("Simulation stopped",
		logger.String("simulation_id", id),
		logger.String("tenant_key", tctx.Key),
		logger.String("status", string(rec.Status)),
	)

	return rec, nil
}

// RunningID returns the id of a live running simulation for the given
// agent signature, if any. This is a read-only snapshot; stale records
// are left for the next List call to reconcile.
func (s *Supervisor) RunningID(tctx tenant.Context, signature string) (string, bool) {
	for _, rec := range s.loadRegistry(tctx) {
		if rec.Signature == signature && rec.Status == StatusRunning && s.proc.Alive(rec.PID) {
			return rec.ID, true
		}
	}
	return "", false
}

func (s *Supervisor) failStart(tctx tenant.Context, id string, err error) error {
	s.sink.Record(audit.Event{
		Action: "simulation.start",
		Status: audit.StatusError,
		Details: map[string]string{
			"simulation_id": id,
			"tenant":        tctx.Key,
			"error":         err.Error(),
		},
	})
	s.log.Error("Simulation start failed",
		logger.String("simulation_id", id),
		logger.String("tenant_key", tctx.Key),
		logger.Error(err),
	)
	return err
}

// loadRegistry reads the tenant's registry document. A missing or
// corrupt document reads as empty; corruption is never fatal to the
// request.
func (s *Supervisor) loadRegistry(tctx tenant.Context) []Record {
	data, err := os.ReadFile(tctx.SimulationsPath())
	if err != nil {
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("Simulation registry is corrupt, treating as empty",
			logger.String("tenant_key", tctx.Key),
			logger.Error(err),
		)
		return nil
	}
	return records
}

func (s *Supervisor) saveRegistry(tctx tenant.Context, records []Record) error {
	return writeJSON(tctx.SimulationsPath(), records)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// extractSignature pulls the first agent signature out of a submitted
// config, defaulting to "unknown".
func extractSignature(cfg map[string]any) string {
	section, _ := cfg[configSection].(map[string]any)
	if section == nil {
		return "unknown"
	}
	agents, _ := section["agents"].([]any)
	if len(agents) == 0 {
		return "unknown"
	}
	first, _ := agents[0].(map[string]any)
	if sig, ok := first["signature"].(string); ok && sig != "" {
		return sig
	}
	return "unknown"
}
