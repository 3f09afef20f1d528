package simulation

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/clawwork/livebench/internal/audit"
	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/tenant"
)

type spawnCall struct {
	name string
	args []string
	env  []string
	dir  string
}

type fakeProcessManager struct {
	mu       sync.Mutex
	nextPID  int
	alive    map[int]bool
	spawned  []spawnCall
	spawnErr error
	termErr  error
}

func newFakeProcessManager() *fakeProcessManager {
	return &fakeProcessManager{nextPID: 1000, alive: make(map[int]bool)}
}

func (f *fakeProcessManager) Spawn(name string, args []string, env []string, dir string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	f.nextPID++
	f.alive[f.nextPID] = true
	f.spawned = append(f.spawned, spawnCall{name: name, args: args, env: env, dir: dir})
	return f.nextPID, nil
}

func (f *fakeProcessManager) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProcessManager) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.termErr != nil {
		return f.termErr
	}
	delete(f.alive, pid)
	return nil
}

func (f *fakeProcessManager) kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeProcessManager, *audit.MemorySink, tenant.Context) {
	t.Helper()

	proc := newFakeProcessManager()
	sink := audit.NewMemorySink()
	sup := NewSupervisor(Config{
		WorkerExec:     "python3",
		WorkerScript:   "livebench/main.py",
		ProjectRoot:    ".",
		AllowedEnvKeys: []string{"OPENAI_API_KEY", "LIVEBENCH_MODEL"},
	}, proc, sink, logger.NewFromConfig("error", "text"))
	sup.environ = func() []string { return []string{"PATH=/usr/bin"} }

	resolver := tenant.NewResolver(t.TempDir(), false)
	tctx, err := resolver.Resolve("acme")
	if err != nil {
		t.Fatalf("resolve tenant: %v", err)
	}
	return sup, proc, sink, tctx
}

func startConfig() map[string]any {
	return map[string]any{
		"livebench": map[string]any{
			"data_path": "/somewhere/the/caller/wants",
			"agents": []any{
				map[string]any{"signature": "agent-7"},
			},
		},
	}
}

func TestStart_ThenList(t *testing.T) {
	sup, _, _, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.Status != StatusRunning {
		t.Errorf("expected running, got %s", rec.Status)
	}
	if rec.Signature != "agent-7" {
		t.Errorf("expected signature agent-7, got %q", rec.Signature)
	}
	if rec.TenantKey != tctx.Key {
		t.Errorf("record tenant key mismatch: %q", rec.TenantKey)
	}

	records, err := sup.List(tctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("expected the started record in list, got %+v", records)
	}
	if records[0].Status != StatusRunning {
		t.Errorf("expected running in list, got %s", records[0].Status)
	}
}

func TestStart_ConfigRewrittenForTenant(t *testing.T) {
	sup, proc, _, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	data, err := os.ReadFile(rec.ConfigPath)
	if err != nil {
		t.Fatalf("read persisted config: %v", err)
	}
	var persisted map[string]any
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("persisted config not JSON: %v", err)
	}

	section := persisted["livebench"].(map[string]any)
	if got := section["data_path"]; got != tctx.AgentDataDir() {
		t.Errorf("data_path not rewritten: got %v, want %v", got, tctx.AgentDataDir())
	}

	// The worker receives the config path as its second argument.
	if len(proc.spawned) != 1 {
		t.Fatalf("expected one spawn, got %d", len(proc.spawned))
	}
	args := proc.spawned[0].args
	if len(args) != 2 || args[1] != rec.ConfigPath {
		t.Errorf("unexpected worker args: %v", args)
	}
}

func TestStart_EnvAllowList(t *testing.T) {
	sup, proc, _, tctx := newTestSupervisor(t)

	_, err := sup.Start(tctx, StartRequest{
		Config:  startConfig(),
		EnvVars: map[string]string{"LD_PRELOAD": "/tmp/evil.so"},
	})
	if !errors.Is(err, ErrEnvKeyNotAllowed) {
		t.Fatalf("expected ErrEnvKeyNotAllowed, got %v", err)
	}

	// Nothing was spawned and the registry is untouched.
	if len(proc.spawned) != 0 {
		t.Error("worker was spawned despite validation failure")
	}
	records, err := sup.List(tctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("registry changed despite validation failure: %+v", records)
	}
}

func TestStart_AllowedEnvOverrides(t *testing.T) {
	sup, proc, _, tctx := newTestSupervisor(t)

	_, err := sup.Start(tctx, StartRequest{
		Config: startConfig(),
		EnvVars: map[string]string{
			"OPENAI_API_KEY":  "sk-test",
			"LIVEBENCH_MODEL": "",
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	env := proc.spawned[0].env
	found := false
	for _, kv := range env {
		if kv == "OPENAI_API_KEY=sk-test" {
			found = true
		}
		if kv == "LIVEBENCH_MODEL=" {
			t.Error("empty override value leaked into worker env")
		}
	}
	if !found {
		t.Errorf("allowed override missing from worker env: %v", env)
	}
}

func TestList_ReconcilesDeadProcesses(t *testing.T) {
	sup, proc, _, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	proc.kill(rec.PID)

	records, err := sup.List(tctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].Status != StatusTerminated {
		t.Fatalf("expected terminated, got %s", records[0].Status)
	}
	if records[0].EndTime == nil {
		t.Error("terminated record has no end time")
	}

	// The transition was persisted: a fresh supervisor over the same
	// registry sees it without re-probing.
	fresh := NewSupervisor(sup.cfg, proc, audit.NewMemorySink(), logger.NewFromConfig("error", "text"))
	records, err = fresh.List(tctx)
	if err != nil {
		t.Fatalf("fresh list: %v", err)
	}
	if records[0].Status != StatusTerminated {
		t.Errorf("transition not persisted, got %s", records[0].Status)
	}
}

func TestStop_RunningRecord(t *testing.T) {
	sup, proc, sink, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stopped, err := sup.Stop(tctx, rec.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != StatusStopped {
		t.Errorf("expected stopped, got %s", stopped.Status)
	}
	if stopped.EndTime == nil {
		t.Error("stopped record has no end time")
	}
	if proc.Alive(rec.PID) {
		t.Error("process still alive after stop")
	}

	events := sink.ByStatus(audit.StatusAllowed)
	if len(events) != 2 {
		t.Fatalf("expected start+stop audit events, got %d", len(events))
	}
	if events[1].Action != "simulation.stop" {
		t.Errorf("unexpected audit action %q", events[1].Action)
	}
}

func TestStop_Idempotent(t *testing.T) {
	sup, _, _, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := sup.Stop(tctx, rec.ID)
	if err != nil {
		t.Fatalf("first stop: %v", err)
	}
	firstEnd := *first.EndTime

	time.Sleep(5 * time.Millisecond)
	second, err := sup.Stop(tctx, rec.ID)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if second.Status != StatusStopped {
		t.Errorf("terminal state changed: %s", second.Status)
	}
	if !second.EndTime.Equal(firstEnd) {
		t.Errorf("end time changed on idempotent stop: %v vs %v", second.EndTime, firstEnd)
	}
}

func TestStop_ProcessAlreadyGone(t *testing.T) {
	sup, proc, _, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	proc.kill(rec.PID)
	proc.termErr = errors.New("no such process")

	stopped, err := sup.Stop(tctx, rec.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != StatusTerminated {
		t.Errorf("expected terminated when signal fails, got %s", stopped.Status)
	}
}

func TestStop_NotFound(t *testing.T) {
	sup, _, _, tctx := newTestSupervisor(t)

	if _, err := sup.Stop(tctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadRegistry_CorruptDocument(t *testing.T) {
	sup, _, _, tctx := newTestSupervisor(t)

	if err := os.MkdirAll(tctx.Root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tctx.SimulationsPath(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := sup.List(tctx)
	if err != nil {
		t.Fatalf("list over corrupt registry: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("corrupt registry should read as empty, got %+v", records)
	}

	// And a start over the corrupt document still succeeds.
	if _, err := sup.Start(tctx, StartRequest{Config: startConfig()}); err != nil {
		t.Fatalf("start over corrupt registry: %v", err)
	}
}

func TestStart_SpawnFailureAudited(t *testing.T) {
	sup, proc, sink, tctx := newTestSupervisor(t)
	proc.spawnErr = errors.New("executable not found")

	if _, err := sup.Start(tctx, StartRequest{Config: startConfig()}); err == nil {
		t.Fatal("expected spawn error")
	}

	errs := sink.ByStatus(audit.StatusError)
	if len(errs) != 1 || errs[0].Action != "simulation.start" {
		t.Fatalf("expected one simulation.start error audit event, got %+v", errs)
	}
}

func TestRunningID(t *testing.T) {
	sup, proc, _, tctx := newTestSupervisor(t)

	rec, err := sup.Start(tctx, StartRequest{Config: startConfig()})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	id, ok := sup.RunningID(tctx, "agent-7")
	if !ok || id != rec.ID {
		t.Errorf("expected running id %q, got %q (ok=%v)", rec.ID, id, ok)
	}

	proc.kill(rec.PID)
	if _, ok := sup.RunningID(tctx, "agent-7"); ok {
		t.Error("dead process reported as running")
	}
}
