package ports

import (
	"context"

	"chatfabric/internal/core/domain"
)

// DirectoryRepository is the authoritative registry of users, channels and
// channel subscriptions. Every method is atomic with respect to concurrent
// callers; list methods return point-in-time copies in insertion order.
type DirectoryRepository interface {
	RegisterUser(ctx context.Context, name string, clock int64) (created bool, err error)
	GetUser(ctx context.Context, name string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]string, error)

	CreateChannel(ctx context.Context, name string, clock int64) error
	GetChannel(ctx context.Context, name string) (*domain.Channel, error)
	ListChannels(ctx context.Context) ([]string, error)

	Subscribe(ctx context.Context, user, channel string) error
	IsSubscribed(ctx context.Context, user, topic string) (bool, error)
	// Subscribers lists the users entitled to events on topic: the
	// channel's subscribers, plus the user whose private topic it is.
	Subscribers(ctx context.Context, topic string) ([]string, error)
}
