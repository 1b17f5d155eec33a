// Package control implements the einhorn command socket: exclusive
// acquisition of the Unix domain socket, the command registry, and the
// line-delimited JSON request/response server.
package control

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// ErrAddressInUse indicates the command socket path cannot be claimed.
// Startup must abort; the operator has to stop the conflicting process
// or pick a different socket path.
var ErrAddressInUse = errors.New("address in use")

// AcquireSocket claims the command socket at path and returns a bound
// listener. A stale socket file left by a crashed master is detected by
// probing it as a client and removed before binding. Callers must hold
// the instance lock across this call; the lock is what closes the gap
// between the probe and the bind.
func AcquireSocket(path string) (net.Listener, error) {
	probe, err := net.Dial("unix", path)
	switch {
	case err == nil:
		// Someone is actively listening. Not ours to take.
		probe.Close()
		return nil, fmt.Errorf("socket %s already in use: try specifying a different socket path: %w", path, ErrAddressInUse)
	case errors.Is(err, fs.ErrNotExist):
		// Nothing there. Proceed to bind.
	case errors.Is(err, syscall.ECONNREFUSED):
		// Dead socket with no owner. Make sure it really is a socket
		// before deleting anything.
		info, serr := os.Stat(path)
		if serr == nil && info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("non-socket file present at %s: refusing to delete it: %w", path, ErrAddressInUse)
		}
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("cannot remove stale socket %s: %w", path, rerr)
		}
	default:
		return nil, fmt.Errorf("cannot probe socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("cannot bind socket %s: %w", path, err)
	}
	return ln, nil
}
