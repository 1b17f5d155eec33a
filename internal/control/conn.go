package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
)

// Conn wraps one accepted command connection with an identity for
// logging. It is owned exclusively for the duration of a single
// request/response exchange.
type Conn struct {
	id     string
	nc     net.Conn
	logger *slog.Logger
}

func newConn(nc net.Conn, logger *slog.Logger) *Conn {
	id := uuid.NewString()[:8]
	return &Conn{
		id:     id,
		nc:     nc,
		logger: logger.With("conn", id),
	}
}

// ID returns the connection identity used in log lines.
func (c *Conn) ID() string { return c.id }

// Logger returns a logger scoped to this connection.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// Send serializes v as one newline-terminated JSON object and writes it
// to the connection. A plain string is wrapped into {"message": ...}.
// A value that cannot be serialized degrades to a fixed error payload;
// serialization never fails past this point.
func (c *Conn) Send(v any) error {
	if s, ok := v.(string); ok {
		v = map[string]string{"message": s}
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("unserializable response", "error", err)
		data, _ = json.Marshal(map[string]string{
			"message": fmt.Sprintf("Error serializing response: %v", err),
		})
	}

	_, err = c.nc.Write(append(data, '\n'))
	return err
}

// SendMessage writes a plain-message reply.
func (c *Conn) SendMessage(msg string) error {
	return c.Send(msg)
}

// Close closes the underlying connection. Safe to call twice.
func (c *Conn) Close() error {
	return c.nc.Close()
}
