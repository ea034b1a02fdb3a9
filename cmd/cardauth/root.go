package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cardauth/internal/app"
	"cardauth/internal/config"
	"cardauth/internal/signer"
	handlers "cardauth/internal/transport/http"
)

type rootOptions struct {
	configPath string
	locale     string
	jsonOutput bool
}

// NewRootCommand builds the cardauth command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "Card-key session client",
		Long:          "cardauth verifies a card key with the card API, keeps the session alive with heartbeats and exposes it over a local control API.",
		Version:       config.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.locale, "locale", "", "message language (en, zh)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newStatusCommand(opts),
		newHeartbeatCommand(opts),
		newPingCommand(opts),
		newSelfTestCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// withApp builds the application, runs fn and releases it
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.Application) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, app.Options{ConfigPath: opts.configPath, Locale: opts.locale})
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <card>",
		Short: "Verify a card key and start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				if err := a.Sessions.Login(ctx, args[0]); err != nil {
					return errors.New(a.Sessions.Describe(err))
				}
				return printStatus(cmd.OutOrStdout(), opts, a)
			})
		},
	}
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				if err := a.Sessions.Logout(ctx); err != nil {
					return errors.New(a.Sessions.Describe(err))
				}
				return printStatus(cmd.OutOrStdout(), opts, a)
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				return printStatus(cmd.OutOrStdout(), opts, a)
			})
		},
	}
}

func newHeartbeatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Send one heartbeat for the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				ok, err := a.Sessions.Heartbeat(ctx)
				if err != nil {
					return errors.New(a.Sessions.Describe(err))
				}
				if !ok {
					return errors.New("heartbeat not accepted")
				}
				return printStatus(cmd.OutOrStdout(), opts, a)
			})
		},
	}
}

func newPingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the card API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				if a.API == nil {
					return errors.New(a.Messages.T(a.Config.Card.Status().MessageID))
				}
				res, err := a.API.Ping(ctx)
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					if encErr := writeJSON(out, res); encErr != nil {
						return encErr
					}
				} else {
					fmt.Fprintf(out, "reachable: %t\nstatus:    %d\nlatency:   %s\n", res.Reachable, res.StatusCode, res.Latency)
					if res.Message != "" {
						fmt.Fprintf(out, "message:   %s\n", res.Message)
					}
				}
				return err
			})
		},
	}
}

func newSelfTestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Verify the request signature against the reference vector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := signer.SelfTest()
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if encErr := writeJSON(out, map[string]interface{}{
					"passed":   res.Passed(),
					"expected": res.Expected,
					"got":      res.Got,
				}); encErr != nil {
					return encErr
				}
				return err
			}
			fmt.Fprintf(out, "expected: %s\ngot:      %s\n", res.Expected, res.Got)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "signature self test passed")
			return nil
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API and keep the session alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, func(ctx context.Context, a *app.Application) error {
				if _, err := a.SelfTest(ctx); err != nil {
					return err
				}
				if addr != "" {
					a.Server.Addr = addr
				}
				return a.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func printStatus(w io.Writer, opts *rootOptions, a *app.Application) error {
	view := handlers.NewSessionView(a.Sessions.Status())
	if opts.jsonOutput {
		return writeJSON(w, view)
	}

	fmt.Fprintf(w, "state:          %s\n", view.State)
	fmt.Fprintf(w, "configured:     %t\n", view.Configured)
	fmt.Fprintf(w, "authenticated:  %t\n", view.Authenticated)
	if view.Card != "" {
		fmt.Fprintf(w, "card:           %s\n", view.Card)
		fmt.Fprintf(w, "card type:      %s\n", view.CardType)
		fmt.Fprintf(w, "expires at:     %s\n", view.ExpiresAt)
		fmt.Fprintf(w, "time remaining: %s\n", view.TimeRemaining)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
