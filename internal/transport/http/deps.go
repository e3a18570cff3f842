package http

import (
	"context"

	"go.uber.org/zap"

	"github.com/tokengate/internal/application/export"
	"github.com/tokengate/internal/application/invites"
	"github.com/tokengate/internal/application/onboarding"
	"github.com/tokengate/internal/application/reverify"
	"github.com/tokengate/internal/application/status"
	"github.com/tokengate/internal/application/verification"
	jwtinfra "github.com/tokengate/internal/infrastructure/jwt"
)

// Messenger is the minimal interface the webhook handler requires from the
// bot gateway.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Deps holds the constructed application services for the router. The caller
// owns construction: the same engine and sweeper instances also back the
// maintenance cron jobs, so they cannot be built here.
type Deps struct {
	Engine     verification.Service
	Onboarding onboarding.Service
	Invites    invites.Service
	Status     status.Service
	Export     export.Service
	Sweeper    reverify.Service

	Gateway     Messenger
	JWTProvider *jwtinfra.Provider
	Logger      *zap.Logger
}
