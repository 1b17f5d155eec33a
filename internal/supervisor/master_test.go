package supervisor

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/einhornteam/einhorn/internal/config"
	"github.com/einhornteam/einhorn/internal/lock"
	"github.com/einhornteam/einhorn/internal/logging"
	"github.com/einhornteam/einhorn/internal/testutil"
)

type fakeCollab struct {
	reloads  atomic.Int32
	upgrades atomic.Int32
}

func (f *fakeCollab) Reload() error {
	f.reloads.Add(1)
	return nil
}

func (f *fakeCollab) FullUpgrade() string {
	f.upgrades.Add(1)
	return "Signaled 0 workers to cycle"
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := testutil.TempDir(t)
	cfg := config.Default()
	cfg.Master.SocketPath = filepath.Join(dir, "einhorn.sock")
	cfg.Master.LockfilePath = filepath.Join(dir, "einhorn.lock")
	cfg.Master.PidfilePath = filepath.Join(dir, "einhorn.pid")
	return cfg
}

func testVerbosity() *logging.Verbosity {
	return logging.New(logging.LogConfig{Level: "error", Output: io.Discard})
}

// startMaster boots a master, runs its loop in the background, and
// registers shutdown cleanup.
func startMaster(t *testing.T, cfg *config.Config, collab Collaborators) *Master {
	t.Helper()
	m := NewMaster(MasterConfig{
		Config:        cfg,
		Verbosity:     testVerbosity(),
		Collaborators: collab,
	})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go m.Run()
	t.Cleanup(func() {
		m.Shutdown()
		<-m.Done()
	})
	return m
}

func TestMasterBootWritesIdentityFiles(t *testing.T) {
	cfg := testConfig(t)
	m := startMaster(t, cfg, nil)

	data, err := os.ReadFile(cfg.Master.PidfilePath)
	if err != nil {
		t.Fatalf("pidfile: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("pidfile content = %q, want our pid %d", data, os.Getpid())
	}

	fi, err := os.Stat(m.SocketPath())
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		t.Errorf("socket path mode = %v", fi.Mode())
	}
}

func TestSecondMasterRefused(t *testing.T) {
	cfg := testConfig(t)
	startMaster(t, cfg, nil)

	second := NewMaster(MasterConfig{Config: cfg, Verbosity: testVerbosity()})
	err := second.Start()
	if !errors.Is(err, lock.ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestCloseRemovesIdentityFilesKeepsLockfile(t *testing.T) {
	cfg := testConfig(t)
	m := startMaster(t, cfg, nil)

	m.Shutdown()
	<-m.Done()

	if _, err := os.Stat(cfg.Master.PidfilePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pidfile still present: %v", err)
	}
	if _, err := os.Stat(cfg.Master.SocketPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket still present: %v", err)
	}
	// The lock file stays; only the OS lock is released.
	if _, err := os.Stat(cfg.Master.LockfilePath); err != nil {
		t.Errorf("lockfile missing after close: %v", err)
	}
}

func TestEhloCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Master.Name = "web"
	m := startMaster(t, cfg, nil)

	resp := testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "ehlo"})
	msg, _ := resp["message"].(string)
	if !strings.Contains(msg, "Hi there! I am einhorn master") {
		t.Errorf("ehlo = %q", msg)
	}
	if !strings.Contains(msg, `"web"`) {
		t.Errorf("ehlo missing instance name: %q", msg)
	}
}

func TestStateCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Master.Workers = 3
	m := startMaster(t, cfg, nil)
	m.State().AddChild(1234)

	resp := testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "state"})
	if got := resp["whatami"]; got != "master" {
		t.Errorf("whatami = %v", got)
	}
	if got := resp["target_workers"]; got != float64(3) {
		t.Errorf("target_workers = %v", got)
	}
	children, _ := resp["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("children = %v", resp["children"])
	}
	child, _ := children[0].(map[string]any)
	if child["pid"] != float64(1234) || child["acked"] != false {
		t.Errorf("child = %v", child)
	}
}

func TestIncDecCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.Master.Workers = 1
	m := startMaster(t, cfg, nil)

	resp := testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "inc"})
	if resp["message"] != "Increasing worker count to 2" {
		t.Errorf("inc = %v", resp["message"])
	}
	resp = testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "dec"})
	if resp["message"] != "Decreasing worker count to 1" {
		t.Errorf("dec = %v", resp["message"])
	}
	if m.State().TargetWorkers() != 1 {
		t.Errorf("target = %d", m.State().TargetWorkers())
	}
}

func TestHelpCommand(t *testing.T) {
	cfg := testConfig(t)
	m := startMaster(t, cfg, nil)

	resp := testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "help"})
	msg, _ := resp["message"].(string)
	if !strings.HasPrefix(msg, "Available commands:") {
		t.Errorf("help = %q", msg)
	}
	for _, want := range []string{"state:", "reload:", "inc:", "dec:", "quieter:", "louder:", "upgrade:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("help missing %q:\n%s", want, msg)
		}
	}
	// Undocumented commands stay hidden.
	if strings.Contains(msg, "ehlo") || strings.Contains(msg, "worker:ack") {
		t.Errorf("help lists undocumented commands:\n%s", msg)
	}
}

func TestQuieterLouderCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.Master.LogLevel = "info"
	m := NewMaster(MasterConfig{
		Config:    cfg,
		Verbosity: logging.New(logging.LogConfig{Level: "info", Output: io.Discard}),
	})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go m.Run()
	t.Cleanup(func() {
		m.Shutdown()
		<-m.Done()
	})

	resp := testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "quieter"})
	if resp["message"] != "Log level is now warn" {
		t.Errorf("quieter = %v", resp["message"])
	}
	resp = testutil.SendCommand(t, m.SocketPath(), map[string]any{"command": "louder"})
	if resp["message"] != "Log level is now info" {
		t.Errorf("louder = %v", resp["message"])
	}
}

func TestWorkerAckCommand(t *testing.T) {
	cfg := testConfig(t)
	m := startMaster(t, cfg, nil)
	m.State().AddChild(555)

	testutil.SendCommandNoReply(t, m.SocketPath(), map[string]any{"command": "worker:ack", "pid": 555})

	testutil.WaitFor(t, func() bool {
		snap := m.State().Snapshot()
		return len(snap.Children) == 1 && snap.Children[0].Acked
	}, 2*time.Second)
}

func TestWorkerAckUnknownPid(t *testing.T) {
	cfg := testConfig(t)
	m := startMaster(t, cfg, nil)

	// The connection closes without a reply either way; the ack is
	// simply not recorded.
	testutil.SendCommandNoReply(t, m.SocketPath(), map[string]any{"command": "worker:ack", "pid": 999})

	if got := m.State().Snapshot().Children; len(got) != 0 {
		t.Errorf("children = %v", got)
	}
}

func TestReloadCommandConfirmsFirst(t *testing.T) {
	cfg := testConfig(t)
	collab := &fakeCollab{}
	m := startMaster(t, cfg, collab)

	conn, err := net.Dial("unix", m.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"command":"reload"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read confirmation: %v", err)
	}
	if !strings.Contains(string(line), "Reloading, as commanded") {
		t.Errorf("first line = %q", line)
	}
	if collab.reloads.Load() != 1 {
		t.Errorf("reloads = %d", collab.reloads.Load())
	}
}

func TestUpgradeCommandConfirmsFirst(t *testing.T) {
	cfg := testConfig(t)
	collab := &fakeCollab{}
	m := startMaster(t, cfg, collab)

	conn, err := net.Dial("unix", m.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"command":"upgrade"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read confirmation: %v", err)
	}
	if !strings.Contains(string(line), "Upgrading, as commanded") {
		t.Errorf("first line = %q", line)
	}
	// Nothing follows the confirmation.
	if _, err := r.ReadBytes('\n'); err != io.EOF {
		t.Errorf("expected EOF after confirmation, got %v", err)
	}
	if collab.upgrades.Load() != 1 {
		t.Errorf("upgrades = %d", collab.upgrades.Load())
	}
}

// signalMaster builds a master suitable for calling handleSignal
// directly, with a recording kill function and captured exit.
func signalMaster(t *testing.T, collab Collaborators) (*Master, *[]int, *int) {
	t.Helper()
	m := NewMaster(MasterConfig{
		Config:        testConfig(t),
		Verbosity:     testVerbosity(),
		Collaborators: collab,
	})

	signaled := new([]int)
	m.state.kill = func(pid int, sig syscall.Signal) error {
		*signaled = append(*signaled, pid)
		return nil
	}

	exitCode := new(int)
	*exitCode = -1
	m.exit = func(code int) { *exitCode = code }
	return m, signaled, exitCode
}

func TestGracefulSignalBroadcastsAndStopsRespawn(t *testing.T) {
	m, signaled, _ := signalMaster(t, nil)
	m.state.AddChild(10)
	m.state.AddChild(20)

	m.handleSignal(syscall.SIGUSR2)

	if got := *signaled; len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Errorf("signaled = %v", got)
	}
	if m.state.Respawn() {
		t.Error("respawn still set after graceful stop")
	}
}

func TestSigintStopsGracefully(t *testing.T) {
	m, signaled, exitCode := signalMaster(t, nil)
	m.state.AddChild(10)

	m.handleSignal(syscall.SIGINT)

	if len(*signaled) != 1 {
		t.Errorf("signaled = %v", *signaled)
	}
	if m.state.Respawn() {
		t.Error("respawn still set")
	}
	if *exitCode != -1 {
		t.Errorf("exit called with %d", *exitCode)
	}
}

func TestSigtermStopsRespawn(t *testing.T) {
	m, signaled, _ := signalMaster(t, nil)
	m.state.AddChild(10)

	m.handleSignal(syscall.SIGTERM)

	if len(*signaled) != 1 {
		t.Errorf("signaled = %v", *signaled)
	}
	if m.state.Respawn() {
		t.Error("respawn still set after SIGTERM")
	}
}

func TestSigquitExitsNonzero(t *testing.T) {
	m, signaled, exitCode := signalMaster(t, nil)
	m.state.AddChild(10)

	m.handleSignal(syscall.SIGQUIT)

	if len(*signaled) != 1 {
		t.Errorf("signaled = %v", *signaled)
	}
	if *exitCode != 1 {
		t.Errorf("exit code = %d, want 1", *exitCode)
	}
}

func TestSighupReloads(t *testing.T) {
	collab := &fakeCollab{}
	m, _, _ := signalMaster(t, collab)

	m.handleSignal(syscall.SIGHUP)

	if collab.reloads.Load() != 1 {
		t.Errorf("reloads = %d", collab.reloads.Load())
	}
}

func TestSigalrmUpgrades(t *testing.T) {
	collab := &fakeCollab{}
	m, _, _ := signalMaster(t, collab)

	m.handleSignal(syscall.SIGALRM)

	if collab.upgrades.Load() != 1 {
		t.Errorf("upgrades = %d", collab.upgrades.Load())
	}
}

func TestSigchldWakesMonitor(t *testing.T) {
	m, _, _ := signalMaster(t, nil)
	var woke bool
	m.wake = func() { woke = true }

	m.handleSignal(syscall.SIGCHLD)

	if !woke {
		t.Error("wake not called")
	}
}

func TestKillChildrenOnExitBroadcast(t *testing.T) {
	cfg := testConfig(t)
	cfg.Master.KillChildrenOnExit = true
	m := startMaster(t, cfg, nil)

	var signaled []int
	m.state.kill = func(pid int, sig syscall.Signal) error {
		signaled = append(signaled, pid)
		return nil
	}
	m.State().AddChild(77)

	m.Shutdown()
	<-m.Done()

	if len(signaled) != 1 || signaled[0] != 77 {
		t.Errorf("signaled on exit = %v", signaled)
	}
}

func TestReloadReturningIsAnError(t *testing.T) {
	collab := &fakeCollab{}
	m, _, _ := signalMaster(t, collab)

	err := m.reload()
	if err == nil || !strings.Contains(err.Error(), "without replacing the process image") {
		t.Errorf("reload err = %v", err)
	}
}
