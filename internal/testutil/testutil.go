// Package testutil provides shared test helpers for the einhorn test
// suite.
package testutil

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TempDir creates a short-pathed temporary directory and registers
// cleanup. Unix socket paths are length-limited, so t.TempDir's deeply
// nested paths are avoided here.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "einhorn-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// FreeSocket returns a unique Unix socket path in a temporary
// directory. The socket file does not exist yet.
func FreeSocket(t *testing.T) string {
	t.Helper()
	return filepath.Join(TempDir(t), "einhorn.sock")
}

// Logger returns a slog logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WaitFor polls a condition function until it returns true or the
// timeout expires.
func WaitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("WaitFor: condition not met within timeout")
}

// SendCommand dials the command socket, writes one JSON request line,
// and decodes the single-line JSON response.
func SendCommand(t *testing.T, socketPath string, req map[string]any) map[string]any {
	t.Helper()
	line := SendRaw(t, socketPath, mustMarshal(t, req))

	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("response is not JSON: %v\nraw: %s", err, line)
	}
	return resp
}

// SendCommandNoReply dials the command socket, writes one JSON request
// line, and asserts the server closes the connection without replying.
func SendCommandNoReply(t *testing.T, socketPath string, req map[string]any) {
	t.Helper()
	conn := dial(t, socketPath)
	defer conn.Close()

	if _, err := conn.Write(append(mustMarshal(t, req), '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if n, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF without reply, got n=%d err=%v", n, err)
	}
}

// SendRaw writes raw bytes plus a newline to the command socket and
// returns the raw response line.
func SendRaw(t *testing.T, socketPath string, payload []byte) []byte {
	t.Helper()
	conn := dial(t, socketPath)
	defer conn.Close()

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return line
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial %s: %v", socketPath, err)
	}
	return conn
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return data
}
