// Package cli implements the chatctl command line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"chatfabric/pkg/client"

	"github.com/spf13/cobra"
)

type RootOptions struct {
	Server  string
	User    string
	Timeout time.Duration
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Command line client for a chatfabric server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", "ws://localhost:8080", "server base url")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "acting user name")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newUsersCommand(opts))
	cmd.AddCommand(newChannelsCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newSubscribeCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newPublishCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newBotCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// connect dials the server with the configured timeout.
func (o *RootOptions) connect(ctx context.Context) (*client.Client, error) {
	clientOpts := client.DefaultOptions()
	clientOpts.Timeout = o.Timeout
	return client.Dial(ctx, o.Server, clientOpts)
}

func (o *RootOptions) requireUser() error {
	if o.User == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

// withClient runs fn with a connected client and closes it afterwards.
func (o *RootOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// print writes v as JSON, or text otherwise.
func (o *RootOptions) print(w io.Writer, v any, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
