// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/resetd/resetd/internal/client"
	"github.com/resetd/resetd/internal/protocol"
	"github.com/resetd/resetd/internal/wire"
)

// clientFlags holds the connection options shared by client subcommands.
type clientFlags struct {
	addr    string
	timeout time.Duration
}

// NewClientCmd creates the client subcommand group: one command per
// protocol verb, talking to a running daemon.
func NewClientCmd() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running daemon",
		Long:  `Send protocol commands to a running daemon over TCP.`,
	}

	cmd.PersistentFlags().StringVar(&flags.addr, "addr", "127.0.0.1:8448", "daemon address")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "connection timeout")

	cmd.AddCommand(
		newClientCreateCmd(flags),
		newClientListCmd(flags),
		newClientResetCmd(flags),
		newClientEnableCmd(flags),
		newClientDisableCmd(flags),
		newClientSendMailCmd(flags),
		newClientPingCmd(flags),
	)

	return cmd
}

// withClient dials the daemon and runs fn over the session.
func withClient(cmd *cobra.Command, flags *clientFlags, fn func(*client.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()

	c, err := client.Dial(ctx, flags.addr, wire.Default)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing connection:", closeErr)
		}
	}()

	return fn(c)
}

// printAnswer renders a generic status/text answer.
func printAnswer(cmd *cobra.Command, ans *protocol.Answer) error {
	if ans.Text != "" {
		cmd.Printf("%s %s\n", ans.Status, ans.Text)
	} else {
		cmd.Println(ans.Status)
	}
	if ans.Status != protocol.StatusAck {
		return oops.Code("CLIENT_REJECTED").Errorf("daemon answered %s", ans.Status)
	}
	return nil
}

func newClientCreateCmd(flags *clientFlags) *cobra.Command {
	var (
		email    string
		secret   string
		duration uint32
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "create [username]",
		Short: "Open a new reset request",
		Long: `Open a reset request for an account. Name the account by username
argument or by --email. With no --secret the daemon generates one and
prints it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := protocol.Target{}
			switch {
			case len(args) == 1 && email != "":
				return oops.Code("CONFIG_INVALID").Errorf("give a username or --email, not both")
			case len(args) == 1:
				target = protocol.Target{Kind: protocol.TargetUsername, Value: args[0]}
			case email != "":
				target = protocol.Target{Kind: protocol.TargetEmail, Value: email}
			default:
				return oops.Code("CONFIG_INVALID").Errorf("a username argument or --email is required")
			}

			return withClient(cmd, flags, func(c *client.Client) error {
				ans, err := c.CreateRequest(protocol.CreateRequest{
					Target:   target,
					Secret:   secret,
					Duration: duration,
					Enabled:  !disabled,
				})
				if err != nil {
					return err
				}
				return printAnswer(cmd, ans)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "name the account by mail address instead of username")
	cmd.Flags().StringVar(&secret, "secret", protocol.AutogenerateSecret, "secret code, default lets the daemon generate one")
	cmd.Flags().Uint32Var(&duration, "duration", 0, "validity window in hours, 0 uses the daemon default")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the request deactivated")

	return cmd
}

func newClientListCmd(flags *clientFlags) *cobra.Command {
	var limit uint32

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reset requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, flags, func(c *client.Client) error {
				requests, ans, err := c.ListRequests(limit)
				if err != nil {
					return err
				}
				if ans.Status != protocol.StatusAck {
					return printAnswer(cmd, ans)
				}
				if len(requests) == 0 {
					cmd.Println("No requests stored")
					return nil
				}
				for _, rr := range requests {
					state := "disabled"
					if rr.Active {
						state = "active"
					}
					cmd.Printf("%s\t%s\t%dh\t%s\t%s\n",
						rr.AccountName,
						rr.SecretCode,
						rr.Duration,
						state,
						rr.CreationTimestamp.Format(time.RFC3339),
					)
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint32Var(&limit, "limit", 0, "maximum requests to list, 0 for all")

	return cmd
}

func newClientResetCmd(flags *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <username> <secret>",
		Short: "Redeem a secret and set a new password",
		Long: `Redeem a reset secret for an account. The new password is read
from stdin to keep it out of the process list.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			return withClient(cmd, flags, func(c *client.Client) error {
				ans, rpcErr := c.ResetPassword(args[0], args[1], password)
				if rpcErr != nil {
					return rpcErr
				}
				return printAnswer(cmd, ans)
			})
		},
	}

	return cmd
}

func newClientEnableCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <secret>",
		Short: "Re-activate a reset request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(c *client.Client) error {
				ans, err := c.EnableRequest(args[0])
				if err != nil {
					return err
				}
				return printState(cmd, ans)
			})
		},
	}
}

func newClientDisableCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <secret>",
		Short: "Deactivate a reset request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(c *client.Client) error {
				ans, err := c.DisableRequest(args[0])
				if err != nil {
					return err
				}
				return printState(cmd, ans)
			})
		},
	}
}

func newClientSendMailCmd(flags *clientFlags) *cobra.Command {
	var messageType string

	cmd := &cobra.Command{
		Use:   "sendmail <secret>...",
		Short: "Mail the owners of reset requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(c *client.Client) error {
				ans, err := c.SendEmail(messageType, args)
				if err != nil {
					return err
				}
				if ans.Email != nil {
					if len(ans.Email.OK) > 0 {
						cmd.Println("Sent:", strings.Join(ans.Email.OK, ", "))
					}
					if len(ans.Email.Failed) > 0 {
						cmd.Println("Failed:", strings.Join(ans.Email.Failed, ", "))
					}
				}
				if ans.Status != protocol.StatusAck {
					return oops.Code("CLIENT_REJECTED").Errorf("daemon answered %s", ans.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&messageType, "type", "created", "mail template tag")

	return cmd
}

func newClientPingCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Probe a daemon with an echo round trip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, flags, func(c *client.Client) error {
				echo, err := c.TestProtocol("ping")
				if err != nil {
					return err
				}
				cmd.Println("Echo:", echo)
				return nil
			})
		},
	}
}

// printState renders an enable/disable answer.
func printState(cmd *cobra.Command, ans *protocol.Answer) error {
	if ans.State != nil {
		state := "disabled"
		if ans.State.Active {
			state = "active"
		}
		cmd.Printf("%s %s %s\n", ans.Status, ans.State.Secret, state)
	} else {
		cmd.Println(ans.Status, ans.Text)
	}
	if ans.Status != protocol.StatusAck {
		return oops.Code("CLIENT_REJECTED").Errorf("daemon answered %s", ans.Status)
	}
	return nil
}

// readPassword reads the new password from stdin, trimming one trailing
// newline so piped input works.
func readPassword(cmd *cobra.Command) ([]byte, error) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	password := bytes.TrimRight(data, "\r\n")
	if len(password) == 0 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("empty password on stdin")
	}
	return password, nil
}
