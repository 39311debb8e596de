package cli

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"chatfabric/pkg/client"

	"github.com/spf13/cobra"
)

type BotOptions struct {
	*RootOptions
	Messages int
	Interval time.Duration
	Channel  string
}

func newBotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Publish a batch of generated messages",
		Long: `Log in as --user, pick a channel and publish a batch of messages to it.

Without --channel a random existing channel is used; when none exists the
bot creates "general".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return runBot(ctx, cmd, opts, c)
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Messages, "messages", "n", 10, "messages to publish")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "delay between messages")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel to publish to")

	return cmd
}

func runBot(ctx context.Context, cmd *cobra.Command, opts *BotOptions, c *client.Client) error {
	if _, err := c.Login(ctx, opts.User); err != nil {
		return err
	}

	channel, err := pickChannel(ctx, opts.Channel, c)
	if err != nil {
		return err
	}
	if err := c.Subscribe(ctx, opts.User, channel); err != nil && !client.IsCode(err, "ALREADY_SUBSCRIBED") {
		return err
	}

	for i := 1; i <= opts.Messages; i++ {
		if i > 1 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		payload := fmt.Sprintf("message %d from %s", i, opts.User)
		if _, err := c.Publish(ctx, opts.User, channel, payload); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (clock %d)\n", channel, payload, c.Clock())
	}
	return nil
}

func pickChannel(ctx context.Context, requested string, c *client.Client) (string, error) {
	channels, err := c.Channels(ctx)
	if err != nil {
		return "", err
	}
	if requested != "" {
		for _, ch := range channels {
			if ch == requested {
				return requested, nil
			}
		}
		return requested, c.CreateChannel(ctx, requested)
	}
	if len(channels) > 0 {
		return channels[rand.Intn(len(channels))], nil
	}
	if err := c.CreateChannel(ctx, "general"); err != nil && !client.IsCode(err, "CHANNEL_ALREADY_EXISTS") {
		return "", err
	}
	return "general", nil
}
