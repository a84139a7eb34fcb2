package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/id"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newListCmd(c *client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List interceptor sessions known to the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.request(cmd.Context(), protocol.ListSessions{}, 0)
			if err != nil {
				return err
			}
			list, ok := resp.(protocol.SessionList)
			if !ok {
				return fmt.Errorf("unexpected response %s", resp.Type())
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(list.Sessions, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			if len(list.Sessions) == 0 {
				fmt.Fprintln(out, "no sessions")
				return nil
			}
			fmt.Fprintln(out, renderSessions(list.Sessions, time.Now(), isTerminal(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print sessions as JSON")
	return cmd
}

func renderSessions(sessions []protocol.SessionInfo, now time.Time, bordered bool) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		marker := ""
		if s.MostRecent {
			marker = "*"
		}
		cwd, shell := "", ""
		if s.Context != nil {
			cwd, shell = s.Context.Cwd, s.Context.ProcessName
		}
		idle := now.Sub(time.UnixMilli(s.LastActivityMs)).Round(time.Second)
		rows = append(rows, []string{marker + s.ID, shell, cwd, s.Buffer, idle.String(), sessionAge(s.ID, now)})
	}

	border := lipgloss.HiddenBorder()
	if bordered {
		border = lipgloss.RoundedBorder()
	}
	t := table.New().
		Border(border).
		Headers("SESSION", "SHELL", "CWD", "BUFFER", "IDLE", "AGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// sessionAge reads the creation time of generated ids; ids handed in by a
// terminal carry none
func sessionAge(sessionID string, now time.Time) string {
	if !id.HasPrefix(sessionID, id.SessionPrefix) {
		return "-"
	}
	created, err := id.Timestamp(sessionID)
	if err != nil {
		return "-"
	}
	return now.Sub(created).Round(time.Second).String()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}
