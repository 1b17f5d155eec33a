package control

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"

	"github.com/einhornteam/einhorn/internal/metrics"
)

// Sending a full state dump should fit comfortably; anything larger is
// not a legitimate request.
const maxRequestLine = 1 << 20

// ServerConfig wires the protocol server's dependencies.
type ServerConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Metrics  *metrics.Collector // optional

	// Exec runs a dispatch job. The master passes a function that
	// enqueues onto its run loop so command handling is serialized with
	// signal actions. When nil, jobs run inline on the connection's
	// reader goroutine.
	Exec func(func())
}

// Server accepts connections on the command socket and dispatches one
// newline-terminated JSON request per connection. Connection reads
// happen on per-connection goroutines so a stalled client never blocks
// other supervisory activity; dispatch itself is serialized through
// ServerConfig.Exec.
type Server struct {
	ln      net.Listener
	reg     *Registry
	logger  *slog.Logger
	metrics *metrics.Collector
	exec    func(func())

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewServer creates a protocol server on an already-acquired listener.
func NewServer(ln net.Listener, cfg ServerConfig) *Server {
	exec := cfg.Exec
	if exec == nil {
		exec = func(job func()) { job() }
	}
	return &Server{
		ln:      ln,
		reg:     cfg.Registry,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		exec:    exec,
		conns:   make(map[*Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}

		conn := newConn(nc, s.logger)
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and closes open connections. Dispatch jobs
// already handed to the executor may still run; their writes land on
// closed connections and are ignored.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// handleConn reads the request line on the connection's own goroutine,
// then hands the dispatch job to the serialized executor. The job owns
// the connection from that point and closes it when done.
func (s *Server) handleConn(conn *Conn) {
	r := bufio.NewReader(io.LimitReader(conn.nc, maxRequestLine))
	line, err := r.ReadBytes('\n')
	if err != nil {
		// No complete line arrived; nothing to dispatch.
		conn.Logger().Debug("dropping connection before full request", "error", err)
		s.untrack(conn)
		conn.Close()
		return
	}
	line = line[:len(line)-1]

	s.exec(func() {
		defer s.untrack(conn)
		defer conn.Close()
		s.dispatch(conn, line)
	})
}

// dispatch runs the protocol state machine for one request. Protocol
// and handler errors are always converted into a reply; nothing here
// may take down the server.
func (s *Server) dispatch(conn *Conn, line []byte) {
	req, err := ParseRequest(line)
	if err != nil {
		_ = conn.Send(fmt.Sprintf("Could not parse command: %v", err))
		return
	}

	name, ok := req.Command()
	if !ok {
		_ = conn.Send(`No "command" parameter provided; not sure what you want me to do.`)
		return
	}

	handler, ok := s.reg.Lookup(name)
	if !ok {
		_ = conn.Send(fmt.Sprintf("Unrecognized command %q.\n\n%s", name, s.reg.HelpText()))
		return
	}

	if s.metrics != nil {
		s.metrics.IncCommand(name)
	}
	conn.Logger().Debug("dispatching command", "command", name)

	resp, err := s.invoke(handler, conn, req)
	if err != nil {
		stack := debug.Stack()
		conn.Logger().Error("command handler failed",
			"command", name, "error", err, "stack", string(stack))
		if s.metrics != nil {
			s.metrics.IncCommandError(name)
		}
		_ = conn.Send(fmt.Sprintf("Error while processing command %q: %v\n%s", name, err, stack))
		return
	}

	if resp.IsNone() {
		return
	}
	_ = conn.Send(resp.value)
}

// invoke calls the handler, converting a panic into an error so command
// failures never crash the master.
func (s *Server) invoke(handler HandlerFunc, conn *Conn, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(conn, req)
}
