package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/interceptor"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// exitError carries a remote process exit code out of cobra
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// client holds the connection flags shared by every subcommand
type client struct {
	socket  string
	session string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:           "termctl",
		Short:         "Control terminal interceptor sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.socket == "" {
				c.socket = config.LoadOrDefault().Host.Socket
			}
			if c.session == "" {
				c.session = os.Getenv(interceptor.SessionEnv)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.socket, "socket", "", "host socket path")
	root.PersistentFlags().StringVarP(&c.session, "session", "s", "", "target session id (default: most recent)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 5*time.Second, "request timeout")

	root.AddCommand(newListCmd(c), newSendCmd(c), newRunCmd(c), newPtyExecCmd(c))
	return root
}

// request sends one request to the host. extra extends the timeout for
// requests that run processes. Failure responses become errors.
func (c *client) request(ctx context.Context, req protocol.Request, extra time.Duration) (protocol.Response, error) {
	conn, err := protocol.Dial(ctx, c.socket)
	if err != nil {
		return nil, fmt.Errorf("host daemon not reachable at %s: %w", c.socket, err)
	}
	defer conn.Close()

	resp, err := conn.Request(ctx, req, c.timeout+extra)
	if err != nil {
		return nil, err
	}
	if failure, ok := resp.(protocol.Failure); ok {
		return nil, failure
	}
	return resp, nil
}

// send routes a command to the target session
func (c *client) send(ctx context.Context, cmd protocol.Command) error {
	resp, err := c.request(ctx, protocol.SendCommand{SessionID: c.session, Command: cmd}, 0)
	if err != nil {
		return err
	}
	if _, ok := resp.(protocol.Ack); !ok {
		return fmt.Errorf("unexpected response %s", resp.Type())
	}
	return nil
}

// unescape interprets Go escapes such as \n and \t, leaving text that does
// not parse unchanged
func unescape(s string) string {
	if v, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return v
	}
	return s
}
