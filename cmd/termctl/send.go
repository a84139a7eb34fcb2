package main

import (
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

func newSendCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an editing command to a session",
	}
	cmd.AddCommand(newInsertTextCmd(c), newSetBufferCmd(c), newInterceptCmd(c))
	return cmd
}

func newInsertTextCmd(c *client) *cobra.Command {
	var (
		deletion  int
		offset    int
		immediate bool
	)

	cmd := &cobra.Command{
		Use:   "insert-text <text>",
		Short: "Type text into the shell's line editor (Go escapes such as \\n apply)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(cmd.Context(), protocol.InsertText{
				Insertion: unescape(args[0]),
				Deletion:  deletion,
				Offset:    offset,
				Immediate: immediate,
			})
		},
	}

	cmd.Flags().IntVar(&deletion, "delete", 0, "characters to delete before the cursor first")
	cmd.Flags().IntVar(&offset, "offset", 0, "cursor move before typing (negative moves left)")
	cmd.Flags().BoolVar(&immediate, "immediate", false, "write ahead of queued keyboard input")
	return cmd
}

func newSetBufferCmd(c *client) *cobra.Command {
	var cursor int

	cmd := &cobra.Command{
		Use:   "set-buffer <text>",
		Short: "Replace the shell's edit buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := unescape(args[0])
			if cursor < 0 {
				cursor = utf8.RuneCountInString(text)
			}
			return c.send(cmd.Context(), protocol.SetBuffer{Text: text, Cursor: cursor})
		},
	}

	cmd.Flags().IntVar(&cursor, "cursor", -1, "cursor offset in runes (default: end of text)")
	return cmd
}

func newInterceptCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intercept",
		Short: "Change the set of keys swallowed by the interceptor",
	}

	charsCmd := func(use, short string, build func(chars string) protocol.Command) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <chars>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.send(cmd.Context(), build(unescape(args[0])))
			},
		}
	}

	cmd.AddCommand(
		charsCmd("set", "Replace the intercept set", func(s string) protocol.Command { return protocol.SetIntercept{Chars: s} }),
		charsCmd("add", "Add keys to the intercept set", func(s string) protocol.Command { return protocol.AddIntercept{Chars: s} }),
		charsCmd("remove", "Remove keys from the intercept set", func(s string) protocol.Command { return protocol.RemoveIntercept{Chars: s} }),
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the intercept set",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.send(cmd.Context(), protocol.ClearIntercept{})
			},
		},
	)
	return cmd
}
