package video

import (
	"context"
	"time"
)

// Provider provisions video sessions and mints client access tokens. It is
// treated as unreliable: callers must not commit booking state before a
// session has been obtained.
type Provider interface {
	CreateSession(ctx context.Context) (string, error)
	GenerateClientToken(sessionID string, opts TokenOptions) (string, error)
}

type TokenOptions struct {
	Role     string    // publisher or subscriber
	ExpireAt time.Time // token validity end
	Data     string    // opaque connection metadata (serialized by the caller)
}

// Disabled is a provider that refuses every call. It lets a dev deployment
// without video credentials start up while keeping the failure explicit at
// the point of use.
type Disabled struct{}

func (Disabled) CreateSession(context.Context) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) GenerateClientToken(string, TokenOptions) (string, error) {
	return "", ErrNotConfigured
}
