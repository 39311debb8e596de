package cli

import (
	"context"
	"fmt"
	"strings"

	"chatfabric/pkg/client"

	"github.com/spf13/cobra"
)

func newLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <name>",
		Short: "Announce a user name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				created, err := c.Login(ctx, args[0])
				if err != nil {
					return err
				}
				text := fmt.Sprintf("logged in as %s", args[0])
				if !created {
					text += " (already known)"
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"username": args[0], "created": created}, text)
			})
		},
	}
}

func newUsersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List known users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				users, err := c.Users(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"users": users}, strings.Join(users, "\n"))
			})
		},
	}
}

func newChannelsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				channels, err := c.Channels(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"channels": channels}, strings.Join(channels, "\n"))
			})
		},
	}
}

func newCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <channel>",
		Short: "Create a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.CreateChannel(ctx, args[0]); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"channel": args[0]}, "created "+args[0])
			})
		},
	}
}

func newSubscribeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <channel>",
		Short: "Subscribe --user to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Subscribe(ctx, opts.User, args[0]); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(),
					map[string]any{"user": opts.User, "channel": args[0]},
					fmt.Sprintf("%s subscribed to %s", opts.User, args[0]))
			})
		},
	}
}

func newSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <user> <message...>",
		Short: "Send a private message from --user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				id, err := c.SendMessage(ctx, opts.User, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"topic": args[0], "id": id}, "sent "+id)
			})
		},
	}
}

func newPublishCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <message...>",
		Short: "Publish a message from --user to a channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				id, err := c.Publish(ctx, opts.User, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"topic": args[0], "id": id}, "published "+id)
			})
		},
	}
}

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <topic>",
		Short: "Show recent messages of a topic --user is entitled to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				events, err := c.History(ctx, opts.User, args[0])
				if err != nil {
					return err
				}
				lines := make([]string, 0, len(events))
				for _, e := range events {
					lines = append(lines, fmt.Sprintf("%d %s", e.Clock, e.Message))
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"topic": args[0], "messages": events}, strings.Join(lines, "\n"))
			})
		},
	}
}
