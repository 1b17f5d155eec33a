// Package paths computes the filesystem locations einhorn uses for its
// command socket, lock file, and pid file. An explicit override always
// wins; otherwise the path is derived from the instance name under the
// shared temp directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Socket returns the command socket path for the given instance name,
// or override verbatim when non-empty.
func Socket(override, name string) string {
	return resolve(override, name, "sock")
}

// Lock returns the instance lock file path.
func Lock(override, name string) string {
	return resolve(override, name, "lock")
}

// Pid returns the pid file path.
func Pid(override, name string) string {
	return resolve(override, name, "pid")
}

func resolve(override, name, ext string) string {
	if override != "" {
		return override
	}
	base := "einhorn"
	if name != "" {
		base = fmt.Sprintf("einhorn-%s", name)
	}
	return filepath.Join(os.TempDir(), base+"."+ext)
}
