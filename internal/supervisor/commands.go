package supervisor

import (
	"fmt"
	"os"

	"github.com/einhornteam/einhorn/internal/control"
)

// registerCommands populates the command registry. This runs before the
// server accepts its first connection; the registry is read-only after.
func (m *Master) registerCommands() {
	reg := m.registry

	// Undocumented commands stay out of help but remain dispatchable.
	reg.Register("worker:ack", "", m.cmdWorkerAck)
	reg.Register("ehlo", "", m.cmdEhlo)

	reg.Register("help", "Print out available commands", m.cmdHelp)
	reg.Register("state", "Get a dump of einhorn's current state", m.cmdState)
	reg.Register("reload", "Reload einhorn", m.cmdReload)
	reg.Register("inc", "Increment the number of einhorn child processes", m.cmdInc)
	reg.Register("dec", "Decrement the number of einhorn child processes", m.cmdDec)
	reg.Register("quieter", "Decrease verbosity", m.cmdQuieter)
	reg.Register("louder", "Increase verbosity", m.cmdLouder)
	reg.Register("upgrade", "Replace all einhorn workers with freshly started ones", m.cmdUpgrade)
}

// cmdWorkerAck records a manual liveness ack from a worker. The worker
// expects no reply; the connection is closed either way.
func (m *Master) cmdWorkerAck(c *control.Conn, req control.Request) (control.Response, error) {
	defer c.Close()

	pid, err := req.Int("pid")
	if err != nil {
		return control.None(), err
	}
	if err := m.state.RegisterManualAck(pid); err != nil {
		return control.None(), err
	}

	if m.metrics != nil {
		m.metrics.IncManualAck()
	}
	c.Logger().Info("worker acked", "pid", pid)
	return control.None(), nil
}

func (m *Master) cmdEhlo(c *control.Conn, req control.Request) (control.Response, error) {
	greeting := fmt.Sprintf("Hi there! I am einhorn master %d", os.Getpid())
	if name := m.state.Name(); name != "" {
		greeting = fmt.Sprintf("%s, running instance %q", greeting, name)
	}
	return control.Message(greeting), nil
}

func (m *Master) cmdHelp(c *control.Conn, req control.Request) (control.Response, error) {
	return control.Message(m.registry.HelpText()), nil
}

func (m *Master) cmdState(c *control.Conn, req control.Request) (control.Response, error) {
	return control.Structured(m.state.Snapshot()), nil
}

// cmdReload confirms before invoking the reload action: reload replaces
// the process image, and a buffered-but-unsent reply would be lost.
func (m *Master) cmdReload(c *control.Conn, req control.Request) (control.Response, error) {
	if err := c.SendMessage("Reloading, as commanded"); err != nil {
		return control.None(), err
	}
	return control.None(), m.reload()
}

func (m *Master) cmdInc(c *control.Conn, req control.Request) (control.Response, error) {
	n := m.state.IncrementWorkers()
	m.logger.Info("incrementing worker count", "target", n)
	return control.Message(fmt.Sprintf("Increasing worker count to %d", n)), nil
}

func (m *Master) cmdDec(c *control.Conn, req control.Request) (control.Response, error) {
	n := m.state.DecrementWorkers()
	m.logger.Info("decrementing worker count", "target", n)
	return control.Message(fmt.Sprintf("Decreasing worker count to %d", n)), nil
}

func (m *Master) cmdQuieter(c *control.Conn, req control.Request) (control.Response, error) {
	return control.Message(fmt.Sprintf("Log level is now %s", m.verbosity.Quieter())), nil
}

func (m *Master) cmdLouder(c *control.Conn, req control.Request) (control.Response, error) {
	return control.Message(fmt.Sprintf("Log level is now %s", m.verbosity.Louder())), nil
}

// cmdUpgrade confirms before starting the upgrade, then goes quiet: the
// rollout may outlive the connection.
func (m *Master) cmdUpgrade(c *control.Conn, req control.Request) (control.Response, error) {
	if err := c.SendMessage("Upgrading, as commanded"); err != nil {
		return control.None(), err
	}
	m.logger.Info("upgrade requested over command socket", "result", m.collab.FullUpgrade())
	return control.None(), nil
}
