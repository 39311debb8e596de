package memory

import (
	"context"
	"fmt"
	"sync"

	"chatfabric/internal/core/domain"
	"chatfabric/internal/core/ports"
)

type MemoryDirectoryRepository struct {
	mu sync.RWMutex

	users     map[string]*domain.User
	userOrder []string

	channels     map[string]*domain.Channel
	channelOrder []string
}

func NewMemoryDirectoryRepository() ports.DirectoryRepository {
	return &MemoryDirectoryRepository{
		users:    make(map[string]*domain.User),
		channels: make(map[string]*domain.Channel),
	}
}

func (r *MemoryDirectoryRepository) RegisterUser(ctx context.Context, name string, clock int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[name]; exists {
		return false, nil
	}

	r.users[name] = &domain.User{Name: name, RegisteredAtClock: clock}
	r.userOrder = append(r.userOrder, name)
	return true, nil
}

func (r *MemoryDirectoryRepository) GetUser(ctx context.Context, name string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[name]
	if !exists {
		return nil, fmt.Errorf("user %q: %w", name, domain.ErrUserNotFound)
	}

	copied := *user
	return &copied, nil
}

func (r *MemoryDirectoryRepository) ListUsers(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, len(r.userOrder))
	copy(users, r.userOrder)
	return users, nil
}

func (r *MemoryDirectoryRepository) CreateChannel(ctx context.Context, name string, clock int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q: %w", name, domain.ErrChannelAlreadyExists)
	}

	r.channels[name] = &domain.Channel{Name: name, CreatedAtClock: clock}
	r.channelOrder = append(r.channelOrder, name)
	return nil
}

func (r *MemoryDirectoryRepository) GetChannel(ctx context.Context, name string) (*domain.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, exists := r.channels[name]
	if !exists {
		return nil, fmt.Errorf("channel %q: %w", name, domain.ErrChannelNotFound)
	}

	copied := *channel
	copied.Subscribers = append([]string(nil), channel.Subscribers...)
	return &copied, nil
}

func (r *MemoryDirectoryRepository) ListChannels(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, len(r.channelOrder))
	copy(channels, r.channelOrder)
	return channels, nil
}

func (r *MemoryDirectoryRepository) Subscribe(ctx context.Context, user, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[channel]
	if !exists {
		return fmt.Errorf("channel %q: %w", channel, domain.ErrChannelNotFound)
	}
	if ch.HasSubscriber(user) {
		return fmt.Errorf("user %q on channel %q: %w", user, channel, domain.ErrAlreadySubscribed)
	}

	ch.Subscribers = append(ch.Subscribers, user)
	return nil
}

func (r *MemoryDirectoryRepository) IsSubscribed(ctx context.Context, user, topic string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.isSubscribedLocked(user, topic), nil
}

func (r *MemoryDirectoryRepository) Subscribers(ctx context.Context, topic string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subscribers []string
	if ch, exists := r.channels[topic]; exists {
		subscribers = append(subscribers, ch.Subscribers...)
	}

	// Every registered user follows the topic named after them.
	if _, exists := r.users[topic]; exists {
		if ch, isChannel := r.channels[topic]; !isChannel || !ch.HasSubscriber(topic) {
			subscribers = append(subscribers, topic)
		}
	}

	return subscribers, nil
}

func (r *MemoryDirectoryRepository) isSubscribedLocked(user, topic string) bool {
	if user == topic {
		if _, exists := r.users[user]; exists {
			return true
		}
	}
	ch, exists := r.channels[topic]
	return exists && ch.HasSubscriber(user)
}
