package domain

// Channel is a named topic created by an explicit create command. A channel
// with no subscribers is still valid.
type Channel struct {
	Name           string
	CreatedAtClock int64
	Subscribers    []string
}

// HasSubscriber reports whether user is in the channel's subscriber list.
func (c *Channel) HasSubscriber(user string) bool {
	for _, s := range c.Subscribers {
		if s == user {
			return true
		}
	}
	return false
}
