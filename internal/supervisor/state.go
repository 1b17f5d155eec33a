// Package supervisor holds the einhorn master: the shared supervisory
// state, the signal control plane, and the run loop that serializes
// signal actions with command dispatch.
package supervisor

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/einhornteam/einhorn/internal/metrics"
	"golang.org/x/sys/unix"
)

// WhatAmI distinguishes the master from a worker that inherited this
// code through re-exec. Exit-time cleanup applies to the master only.
type WhatAmI string

const (
	WhatAmIMaster WhatAmI = "master"
	Worker WhatAmI = "worker"
)

// GracefulSignal is the signal einhorn sends children to ask them to
// exit. It doubles as an externally deliverable signal to the master.
const GracefulSignal = unix.SIGUSR2

// ChildInfo is the metadata tracked per child process.
type ChildInfo struct {
	Pid       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Acked     bool      `json:"acked"`
}

// State is the shared supervisory state mutated by both command
// handlers and signal actions. The run loop serializes those mutations;
// the mutex exists for readers outside the loop (metrics, the external
// monitoring loop, tests).
type State struct {
	mu sync.Mutex

	whatami       WhatAmI
	name          string
	respawn       bool
	children      map[int]*ChildInfo
	targetWorkers int

	socketPath         string
	lockfilePath       string
	pidfilePath        string
	killChildrenOnExit bool

	startedAt time.Time
	metrics   *metrics.Collector // optional

	// kill is swapped out in tests to observe broadcasts.
	kill func(pid int, sig unix.Signal) error
}

// StateConfig seeds a State.
type StateConfig struct {
	WhatAmI            WhatAmI
	Name               string
	SocketPath         string
	LockfilePath       string
	PidfilePath        string
	TargetWorkers      int
	KillChildrenOnExit bool
	Metrics            *metrics.Collector
}

// NewState creates supervisory state with the respawn flag set.
func NewState(cfg StateConfig) *State {
	whatami := cfg.WhatAmI
	if whatami == "" {
		whatami = WhatAmIMaster
	}
	return &State{
		whatami:            whatami,
		name:               cfg.Name,
		respawn:            true,
		children:           make(map[int]*ChildInfo),
		targetWorkers:      cfg.TargetWorkers,
		socketPath:         cfg.SocketPath,
		lockfilePath:       cfg.LockfilePath,
		pidfilePath:        cfg.PidfilePath,
		killChildrenOnExit: cfg.KillChildrenOnExit,
		startedAt:          time.Now(),
		metrics:            cfg.Metrics,
		kill:               func(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) },
	}
}

// WhatAmI reports whether this process is the master or a worker.
func (s *State) WhatAmI() WhatAmI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whatami
}

// Name returns the instance name, which may be empty.
func (s *State) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// KillChildrenOnExit reports the exit-time broadcast setting.
func (s *State) KillChildrenOnExit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killChildrenOnExit
}

// Respawn reports whether exited workers should be restarted.
func (s *State) Respawn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respawn
}

// SetRespawn flips the respawn flag.
func (s *State) SetRespawn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respawn = v
}

// AddChild starts tracking a child pid. Called by the external
// spawning loop.
func (s *State) AddChild(pid int) {
	s.mu.Lock()
	s.children[pid] = &ChildInfo{Pid: pid, StartedAt: time.Now()}
	n := len(s.children)
	s.mu.Unlock()
	s.setChildrenGauge(n)
}

// RemoveChild stops tracking a child pid, typically after it was reaped.
func (s *State) RemoveChild(pid int) {
	s.mu.Lock()
	delete(s.children, pid)
	n := len(s.children)
	s.mu.Unlock()
	s.setChildrenGauge(n)
}

// ChildPids returns the tracked child pids in ascending order.
func (s *State) ChildPids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.children))
	for pid := range s.children {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// RegisterManualAck records a liveness ack for a tracked child.
func (s *State) RegisterManualAck(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[pid]
	if !ok {
		return fmt.Errorf("ack from unrecognized pid %d", pid)
	}
	child.Acked = true
	return nil
}

// IncrementWorkers raises the target worker count and returns it.
func (s *State) IncrementWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetWorkers++
	return s.targetWorkers
}

// DecrementWorkers lowers the target worker count, never below zero,
// and returns it.
func (s *State) DecrementWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetWorkers > 0 {
		s.targetWorkers--
	}
	return s.targetWorkers
}

// TargetWorkers returns the current target worker count.
func (s *State) TargetWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetWorkers
}

// SignalAll sends sig to every tracked child. Missing processes are
// skipped; the pid list of signaled children is returned for logging.
func (s *State) SignalAll(sig unix.Signal) []int {
	var signaled []int
	for _, pid := range s.ChildPids() {
		if err := s.kill(pid, sig); err != nil {
			continue
		}
		signaled = append(signaled, pid)
	}
	return signaled
}

func (s *State) setChildrenGauge(n int) {
	if s.metrics != nil {
		s.metrics.SetChildren(n)
	}
}

// Snapshot is the JSON-serializable dump returned by the state command.
type Snapshot struct {
	WhatAmI            WhatAmI     `json:"whatami"`
	Pid                int         `json:"pid"`
	Name               string      `json:"name,omitempty"`
	Respawn            bool        `json:"respawn"`
	TargetWorkers      int         `json:"target_workers"`
	Children           []ChildInfo `json:"children"`
	SocketPath         string      `json:"socket_path"`
	LockfilePath       string      `json:"lockfile_path"`
	PidfilePath        string      `json:"pidfile_path"`
	KillChildrenOnExit bool        `json:"kill_children_on_exit"`
	StartedAt          time.Time   `json:"started_at"`
}

// Snapshot returns a consistent copy of the supervisory state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := make([]ChildInfo, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, *c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Pid < children[j].Pid })

	return Snapshot{
		WhatAmI:            s.whatami,
		Pid:                os.Getpid(),
		Name:               s.name,
		Respawn:            s.respawn,
		TargetWorkers:      s.targetWorkers,
		Children:           children,
		SocketPath:         s.socketPath,
		LockfilePath:       s.lockfilePath,
		PidfilePath:        s.pidfilePath,
		KillChildrenOnExit: s.killChildrenOnExit,
		StartedAt:          s.startedAt,
	}
}
