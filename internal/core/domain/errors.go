package domain

import "errors"

var (
	ErrChannelAlreadyExists = errors.New("channel already exists")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrAlreadySubscribed    = errors.New("already subscribed")
	ErrNotSubscribed        = errors.New("not subscribed")
	ErrUserNotFound         = errors.New("user not found")
	ErrMalformedRequest     = errors.New("malformed request")
	ErrUnknownCommand       = errors.New("unknown command")
)
