package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"chatfabric/pkg/client"

	"github.com/spf13/cobra"
)

type ListenOptions struct {
	*RootOptions
	Topics []string
	Count  int
}

func newListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream broadcast events for --user",
		Long: `Stream broadcast events for --user until interrupted.

The user's private topic is always followed. Channel topics are delivered
only while the user is subscribed to them.

Example:
  chatctl listen --user alice --topic news --topic sports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.withClient(cmd, func(_ context.Context, c *client.Client) error {
				return listen(ctx, cmd, opts, c)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Topics, "topic", "t", nil, "channel topics to follow")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "exit after this many events (0 = unlimited)")

	return cmd
}

func listen(ctx context.Context, cmd *cobra.Command, opts *ListenOptions, c *client.Client) error {
	stream, err := c.Listen(ctx, opts.User, opts.Topics...)
	if err != nil {
		return err
	}
	defer stream.Close()

	for received := 0; opts.Count <= 0 || received < opts.Count; received++ {
		event, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		text := fmt.Sprintf("%d %s %s", event.Clock, event.Topic, event.Message)
		if err := opts.print(cmd.OutOrStdout(), event, text); err != nil {
			return err
		}
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
