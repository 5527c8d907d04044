package commands

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrHandlerNotFound = errors.New("command handler not found")

type Command interface {
	CommandType() string
	Validate() error
	IdempotencyKey() string
}

// ActorCommand is a command issued on behalf of a user.
type ActorCommand interface {
	Command
	ActorID() uuid.UUID
}

type Result struct {
	AggregateID string
	Payload     interface{}
}

type Handler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}
