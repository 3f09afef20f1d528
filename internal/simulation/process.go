package simulation

import (
	"os"
	"os/exec"
	"syscall"
)

// ProcessManager abstracts the OS process operations the supervisor
// needs: detached spawn, liveness probing, and termination. The
// supervisor never waits on or reads from a worker.
type ProcessManager interface {
	// Spawn starts a detached child with suppressed stdio and returns
	// its pid without waiting on it.
	Spawn(name string, args []string, env []string, dir string) (int, error)
	// Alive reports whether the pid still names a live process.
	Alive(pid int) bool
	// Terminate asks the process to shut down. An error means the
	// process was already gone or could not be signalled.
	Terminate(pid int) error
}

type osProcessManager struct{}

// NewOSProcessManager returns the real OS-backed process manager.
func NewOSProcessManager() ProcessManager {
	return osProcessManager{}
}

func (osProcessManager) Spawn(name string, args []string, env []string, dir string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	cmd.Dir = dir
	// Stdout/Stderr stay nil so the child inherits /dev/null. Setsid
	// detaches it from our process group; SIGTERM to the API process
	// must not fan out to workers.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// Alive uses the zero-signal convention: asking the kernel for process
// status without delivering an actual signal.
func (osProcessManager) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (osProcessManager) Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
