package supervisor

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Collaborators are the supervisory operations the control plane drives
// but does not own: process-image replacement and the rolling worker
// upgrade live in the worker pool layer.
type Collaborators interface {
	// Reload replaces the running process image. On success it must
	// not return; a normal return is itself an error condition.
	Reload() error

	// FullUpgrade starts a worker upgrade and returns a message for
	// the operator.
	FullUpgrade() string
}

// Reexec is the built-in Collaborators implementation: reload re-execs
// the current binary in place, and upgrade asks every worker to cycle
// so the respawn loop brings up replacements from the new image.
type Reexec struct {
	State  *State
	Logger *slog.Logger
}

// Reload re-executes the current binary with the original arguments.
// Signal dispositions are reset first so the new image starts clean.
func (r *Reexec) Reload() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own binary: %w", err)
	}

	r.Logger.Info("re-executing", "binary", exe, "args", os.Args)
	ResetDispositions()

	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	// Exec replaced the process image; this is unreachable.
	return nil
}

// FullUpgrade signals every tracked worker to exit gracefully while
// leaving the respawn flag set, so replacements come up under the
// current binary.
func (r *Reexec) FullUpgrade() string {
	pids := r.State.SignalAll(GracefulSignal)
	r.Logger.Info("upgrade requested", "signaled", pids)
	return fmt.Sprintf("Signaled %d workers to cycle", len(pids))
}
