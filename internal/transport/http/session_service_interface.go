package http

import (
	"context"

	"cardauth/internal/cardapi"
	"cardauth/internal/session"
)

// SessionService is the session manager as seen by the HTTP layer.
type SessionService interface {
	Login(ctx context.Context, card string) error
	Logout(ctx context.Context) error
	Heartbeat(ctx context.Context) (bool, error)
	Status() session.Status
	Describe(err error) string
}

// Pinger checks that the card API is reachable.
type Pinger interface {
	Ping(ctx context.Context) (cardapi.PingResult, error)
}
