package client

import (
	"context"
	"sort"

	"chatfabric/internal/core/domain"
	"chatfabric/pkg/lamport"
)

// Login announces username. It reports whether the user was newly
// registered.
func (c *Client) Login(ctx context.Context, username string) (bool, error) {
	resp, err := c.Do(ctx, domain.Request{Command: string(domain.CommandLogin), Username: username})
	if err != nil {
		return false, err
	}
	created, _ := resp.Data["created"].(bool)
	return created, nil
}

func (c *Client) Users(ctx context.Context) ([]string, error) {
	return c.names(ctx, domain.CommandUsers, "users")
}

func (c *Client) Channels(ctx context.Context) ([]string, error) {
	return c.names(ctx, domain.CommandChannels, "channels")
}

func (c *Client) names(ctx context.Context, command domain.CommandName, key string) ([]string, error) {
	resp, err := c.Do(ctx, domain.Request{Command: string(command)})
	if err != nil {
		return nil, err
	}
	var out map[string][]string
	if err := decodeData(resp.Data, &out); err != nil {
		return nil, err
	}
	return out[key], nil
}

func (c *Client) CreateChannel(ctx context.Context, channel string) error {
	_, err := c.Do(ctx, domain.Request{Command: string(domain.CommandChannel), Channel: channel})
	return err
}

func (c *Client) Subscribe(ctx context.Context, user, channel string) error {
	_, err := c.Do(ctx, domain.Request{Command: string(domain.CommandSubscribe), User: user, Channel: channel})
	return err
}

// SendMessage delivers payload privately to the user named to and returns
// the event id.
func (c *Client) SendMessage(ctx context.Context, from, to, payload string) (string, error) {
	return c.emit(ctx, domain.CommandMessage, from, to, payload)
}

// Publish delivers payload to every subscriber of channel and returns the
// event id.
func (c *Client) Publish(ctx context.Context, from, channel, payload string) (string, error) {
	return c.emit(ctx, domain.CommandPublish, from, channel, payload)
}

func (c *Client) emit(ctx context.Context, command domain.CommandName, from, topic, payload string) (string, error) {
	resp, err := c.Do(ctx, domain.Request{Command: string(command), User: from, Topic: topic, Payload: payload})
	if err != nil {
		return "", err
	}
	id, _ := resp.Data["id"].(string)
	return id, nil
}

// History returns the recent events of topic, oldest first.
func (c *Client) History(ctx context.Context, user, topic string) ([]domain.BroadcastEvent, error) {
	resp, err := c.Do(ctx, domain.Request{Command: string(domain.CommandHistory), User: user, Topic: topic})
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []domain.BroadcastEvent `cbor:"messages"`
	}
	if err := decodeData(resp.Data, &out); err != nil {
		return nil, err
	}
	for _, event := range out.Messages {
		c.clock.Observe(event.Clock)
	}
	SortCausal(out.Messages)
	return out.Messages, nil
}

// SortCausal orders events by clock, breaking ties by id. Events from one
// server topic already arrive in this order; merged streams may not.
func SortCausal(events []domain.BroadcastEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return lamport.Less(events[i].Clock, events[i].ID, events[j].Clock, events[j].ID)
	})
}
