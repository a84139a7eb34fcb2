package host

import (
	"context"
	"time"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// connSender delivers commands over the connection an interceptor
// registered on
type connSender struct {
	conn    *protocol.Conn
	timeout time.Duration
	metrics *monitoring.Metrics
}

func newConnSender(conn *protocol.Conn, timeout time.Duration, metrics *monitoring.Metrics) *connSender {
	return &connSender{conn: conn, timeout: timeout, metrics: metrics}
}

// SendCommand writes cmd as a command frame
func (c *connSender) SendCommand(ctx context.Context, cmd protocol.Command) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.conn.Send(ctx, protocol.Envelope{Message: cmd}); err != nil {
		c.metrics.RecordFrameError("send")
		return err
	}
	c.metrics.RecordFrame("out", protocol.CategoryCommand.String())
	return nil
}
