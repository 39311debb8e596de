package domain

// User is a name announced through login. Users are never removed while the
// process runs.
type User struct {
	Name              string
	RegisteredAtClock int64
}
