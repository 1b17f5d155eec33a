package supervisor

import (
	"fmt"
	"os"
	"strconv"
)

// WritePidfile writes the current process pid to the given path,
// overwriting whatever was there.
func WritePidfile(path string) error {
	if path == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write pid file: %s: %w", path, err)
	}
	return nil
}

// RemoveIdentityFile deletes the file at path, tolerating absence.
func RemoveIdentityFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
