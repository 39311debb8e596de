package domain

import (
	"fmt"

	"chatfabric/pkg/validation"
)

// CommandName is the value of the "command" field of a request.
type CommandName string

const (
	CommandLogin     CommandName = "login"
	CommandUsers     CommandName = "users"
	CommandChannels  CommandName = "channels"
	CommandChannel   CommandName = "channel"
	CommandSubscribe CommandName = "subscribe"
	CommandMessage   CommandName = "message"
	CommandPublish   CommandName = "publish"
	CommandHistory   CommandName = "history"
)

// Command is one of the closed set of command variants below.
type Command interface {
	Name() CommandName
	isCommand()
}

// Login announces a user. It never fails.
type Login struct {
	Username string
}

// ListUsers asks for the directory's user list.
type ListUsers struct{}

// ListChannels asks for the directory's channel list.
type ListChannels struct{}

// CreateChannel creates a channel with no subscribers.
type CreateChannel struct {
	Channel string
}

// Subscribe adds User to Channel's subscriber set.
type Subscribe struct {
	User    string
	Channel string
}

// PrivateMessage delivers Payload to the private topic of user To.
type PrivateMessage struct {
	From    string
	To      string
	Payload string
}

// Publish delivers Payload to every subscriber of Channel.
type Publish struct {
	From    string
	Channel string
	Payload string
}

// History asks for the recent events of Topic, on behalf of User.
type History struct {
	User  string
	Topic string
}

func (Login) Name() CommandName          { return CommandLogin }
func (ListUsers) Name() CommandName      { return CommandUsers }
func (ListChannels) Name() CommandName   { return CommandChannels }
func (CreateChannel) Name() CommandName  { return CommandChannel }
func (Subscribe) Name() CommandName      { return CommandSubscribe }
func (PrivateMessage) Name() CommandName { return CommandMessage }
func (Publish) Name() CommandName        { return CommandPublish }
func (History) Name() CommandName        { return CommandHistory }

func (Login) isCommand()          {}
func (ListUsers) isCommand()      {}
func (ListChannels) isCommand()   {}
func (CreateChannel) isCommand()  {}
func (Subscribe) isCommand()      {}
func (PrivateMessage) isCommand() {}
func (Publish) isCommand()        {}
func (History) isCommand()        {}

// ParseRequest turns a wire request into a typed envelope. Missing or
// invalid fields wrap ErrMalformedRequest; an unrecognized command name
// wraps ErrUnknownCommand.
func ParseRequest(req Request) (CommandEnvelope, error) {
	env := CommandEnvelope{SenderClock: req.Timestamp}

	var err error
	switch CommandName(req.Command) {
	case CommandLogin:
		err = requireNames(field{"username", req.Username})
		env.Command = Login{Username: req.Username}
	case CommandUsers:
		env.Command = ListUsers{}
	case CommandChannels:
		env.Command = ListChannels{}
	case CommandChannel:
		err = requireNames(field{"channel", req.Channel})
		env.Command = CreateChannel{Channel: req.Channel}
	case CommandSubscribe:
		err = requireNames(field{"user", req.User}, field{"channel", req.Channel})
		env.Command = Subscribe{User: req.User, Channel: req.Channel}
	case CommandMessage:
		err = requireMessage(req)
		env.Command = PrivateMessage{From: req.User, To: req.Topic, Payload: req.Payload}
	case CommandPublish:
		err = requireMessage(req)
		env.Command = Publish{From: req.User, Channel: req.Topic, Payload: req.Payload}
	case CommandHistory:
		err = requireNames(field{"user", req.User}, field{"topic", req.Topic})
		env.Command = History{User: req.User, Topic: req.Topic}
	case "":
		err = fmt.Errorf("%w: command is required", ErrMalformedRequest)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	if err != nil {
		return CommandEnvelope{SenderClock: req.Timestamp}, err
	}
	return env, nil
}

// Request returns the wire form of the envelope. ParseRequest(env.Request())
// yields env again for every valid envelope.
func (env CommandEnvelope) Request() Request {
	req := Request{Timestamp: env.SenderClock}
	if env.Command == nil {
		return req
	}
	req.Command = string(env.Command.Name())

	switch c := env.Command.(type) {
	case Login:
		req.Username = c.Username
	case CreateChannel:
		req.Channel = c.Channel
	case Subscribe:
		req.User = c.User
		req.Channel = c.Channel
	case PrivateMessage:
		req.User = c.From
		req.Topic = c.To
		req.Payload = c.Payload
	case Publish:
		req.User = c.From
		req.Topic = c.Channel
		req.Payload = c.Payload
	case History:
		req.User = c.User
		req.Topic = c.Topic
	}
	return req
}

type field struct {
	name  string
	value string
}

func requireNames(fields ...field) error {
	for _, f := range fields {
		if err := validation.ValidateName(f.value); err != nil {
			return fmt.Errorf("%w: %s %v", ErrMalformedRequest, f.name, err)
		}
	}
	return nil
}

func requireMessage(req Request) error {
	if err := requireNames(field{"user", req.User}, field{"topic", req.Topic}); err != nil {
		return err
	}
	if err := validation.ValidatePayload(req.Payload); err != nil {
		return fmt.Errorf("%w: payload %v", ErrMalformedRequest, err)
	}
	return nil
}
