package supervisor

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/einhornteam/einhorn/internal/config"
	"github.com/einhornteam/einhorn/internal/control"
	"github.com/einhornteam/einhorn/internal/lock"
	"github.com/einhornteam/einhorn/internal/logging"
	"github.com/einhornteam/einhorn/internal/metrics"
	"github.com/einhornteam/einhorn/internal/paths"
	"golang.org/x/sys/unix"
)

// MasterConfig wires a Master's dependencies.
type MasterConfig struct {
	Config        *config.Config
	Verbosity     *logging.Verbosity
	Metrics       *metrics.Collector // optional
	Collaborators Collaborators      // defaults to Reexec
	Wake          func()             // wakes the external monitoring loop; optional
	Exit          func(int)          // defaults to os.Exit
}

// Master owns the control plane: the instance lock, the command
// socket, the signal queue, and the run loop that serializes every
// supervisory action.
type Master struct {
	state     *State
	verbosity *logging.Verbosity
	logger    *slog.Logger
	metrics   *metrics.Collector
	collab    Collaborators
	wake      func()
	exit      func(int)

	socketPath string
	lockPath   string
	pidPath    string

	flock    *lock.FileLock
	ln       net.Listener
	registry *control.Registry
	server   *control.Server
	signals  *SignalQueue

	work       chan func()
	shutdownCh chan struct{}
	doneCh     chan struct{}
	shutOnce   sync.Once
	closeOnce  sync.Once

	createdSocket bool
	startedAt     time.Time
}

// NewMaster creates a master from configuration. Nothing is acquired
// until Start.
func NewMaster(cfg MasterConfig) *Master {
	mc := cfg.Config.Master

	m := &Master{
		verbosity:  cfg.Verbosity,
		logger:     cfg.Verbosity.Logger,
		metrics:    cfg.Metrics,
		wake:       cfg.Wake,
		exit:       cfg.Exit,
		socketPath: paths.Socket(mc.SocketPath, mc.Name),
		lockPath:   paths.Lock(mc.LockfilePath, mc.Name),
		pidPath:    paths.Pid(mc.PidfilePath, mc.Name),
		work:       make(chan func(), 64),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		startedAt:  time.Now(),
	}
	if m.exit == nil {
		m.exit = os.Exit
	}
	if m.wake == nil {
		m.wake = func() {
			m.logger.Debug("monitoring loop wakeup requested")
		}
	}

	m.state = NewState(StateConfig{
		WhatAmI:            WhatAmIMaster,
		Name:               mc.Name,
		SocketPath:         m.socketPath,
		LockfilePath:       m.lockPath,
		PidfilePath:        m.pidPath,
		TargetWorkers:      mc.Workers,
		KillChildrenOnExit: mc.KillChildrenOnExit,
		Metrics:            cfg.Metrics,
	})

	m.collab = cfg.Collaborators
	if m.collab == nil {
		m.collab = &Reexec{State: m.state, Logger: m.logger}
	}

	m.registry = control.NewRegistry()
	m.registerCommands()

	return m
}

// State exposes the shared supervisory state to the external
// spawning/monitoring loop.
func (m *Master) State() *State { return m.state }

// SocketPath returns the resolved command socket path.
func (m *Master) SocketPath() string { return m.socketPath }

// Start acquires the instance lock and command socket, installs signal
// handlers, writes the pidfile, and begins accepting connections. Any
// failure here is fatal to startup; nothing is retried.
func (m *Master) Start() error {
	flk, err := lock.Acquire(m.lockPath)
	if err != nil {
		return err
	}

	// The lock closes the gap between probing the old socket and
	// binding the new one. It stays held for the process lifetime.
	ln, err := control.AcquireSocket(m.socketPath)
	if err != nil {
		flk.Release()
		return err
	}

	m.flock = flk
	m.ln = ln
	m.createdSocket = true

	m.server = control.NewServer(ln, control.ServerConfig{
		Registry: m.registry,
		Logger:   m.logger,
		Metrics:  m.metrics,
		Exec:     m.enqueue,
	})

	m.signals = NewSignalQueue()

	if err := WritePidfile(m.pidPath); err != nil {
		m.Close()
		return err
	}

	go m.server.Serve()

	m.logger.Info("einhorn master booted",
		"pid", os.Getpid(),
		"socket", m.socketPath,
		"lockfile", m.lockPath,
		"pidfile", m.pidPath)
	return nil
}

// Run drives the run loop until Shutdown. Signal actions and command
// dispatches interleave in arrival order; each runs to completion
// before the next begins.
func (m *Master) Run() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-m.signals.C:
			m.handleSignal(sig)
		case job := <-m.work:
			job()
		case <-ticker.C:
			if m.metrics != nil {
				m.metrics.SetMasterUptime(time.Since(m.startedAt).Seconds())
			}
		case <-m.shutdownCh:
			m.Close()
			return
		}
	}
}

// Shutdown asks the run loop to exit and clean up. Safe to call from
// any goroutine, more than once.
func (m *Master) Shutdown() {
	m.shutOnce.Do(func() { close(m.shutdownCh) })
}

// Done closes when the master has finished cleanup.
func (m *Master) Done() <-chan struct{} { return m.doneCh }

// enqueue serializes a dispatch job onto the run loop. Once the loop
// has exited, jobs run inline; serialization no longer matters then.
func (m *Master) enqueue(job func()) {
	select {
	case m.work <- job:
	case <-m.doneCh:
		job()
	}
}

// handleSignal performs the supervisory action for one delivered
// signal, on the run loop.
func (m *Master) handleSignal(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	m.logger.Info("received signal", "signal", unix.SignalName(s))
	if m.metrics != nil {
		m.metrics.IncSignal(unix.SignalName(s))
	}

	switch s {
	case syscall.SIGINT:
		m.gracefulStop()
	case syscall.SIGTERM:
		pids := m.state.SignalAll(unix.SIGTERM)
		m.state.SetRespawn(false)
		m.logger.Info("terminated children", "pids", pids)
	case syscall.SIGQUIT:
		// Best-effort: the broadcast races process death.
		m.gracefulStop()
		m.exit(1)
	case syscall.SIGHUP:
		m.reload()
	case syscall.SIGALRM:
		m.logger.Info("upgrade signal", "result", m.collab.FullUpgrade())
	case syscall.SIGCHLD:
		m.wake()
	case syscall.SIGUSR2:
		m.gracefulStop()
	}
}

// gracefulStop asks every child to exit and stops respawning.
func (m *Master) gracefulStop() {
	pids := m.state.SignalAll(GracefulSignal)
	m.state.SetRespawn(false)
	m.logger.Info("gracefully stopping children", "pids", pids)
}

// reload hands off to the collaborator. Reload must not return; when it
// does, the master is in an undefined half-reloaded condition and all
// we can do is say so loudly.
func (m *Master) reload() error {
	m.logger.Info("reloading")
	err := m.collab.Reload()
	if err == nil {
		err = fmt.Errorf("reload returned without replacing the process image")
	}
	m.logger.Error("reload failed", "error", err)
	return err
}

// Close runs the master exit path: optional kill-children-on-exit
// broadcast, identity file removal, and teardown of the socket, signal
// handlers, and lock. Deletions tolerate files that are already gone.
// The lock file itself stays on disk; only the OS lock is released.
func (m *Master) Close() {
	m.closeOnce.Do(func() {
		master := m.state.WhatAmI() == WhatAmIMaster

		if master && m.state.KillChildrenOnExit() {
			m.gracefulStop()
		}

		if m.signals != nil {
			m.signals.Stop()
		}
		if m.server != nil {
			m.server.Close()
		}

		if master {
			RemoveIdentityFile(m.pidPath)
			if m.createdSocket {
				RemoveIdentityFile(m.socketPath)
			}
		}

		if m.flock != nil {
			m.flock.Release()
		}
		close(m.doneCh)
		m.logger.Info("einhorn master exiting")
	})
}
