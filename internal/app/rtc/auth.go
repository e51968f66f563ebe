/*
This file defines the Authenticator, which validates the bearer credential
presented at handshake time, out-of-band from the HTTP cookie/session path,
and resolves it to the identity projection used downstream. It has no side
effects on failure and must run before any channel subscription is accepted.
*/
package rtc

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"crewchat/internal/app/store"
	"crewchat/internal/app/user"
	"crewchat/internal/pkg/auth/jwt"
	"crewchat/internal/pkg/errs"
	"crewchat/internal/pkg/logx"
)

// IdentityStore is the slice of the durable store the authenticator consumes.
type IdentityStore interface {
	GetUserProfile(ctx context.Context, userID string) (user.Profile, error)
}

// Authenticator validates bearer tokens and resolves user identities.
type Authenticator struct {
	secret string
	users  IdentityStore
	logger zerolog.Logger
}

// NewAuthenticator constructs an Authenticator with the given signing secret
// and identity lookup collaborator.
func NewAuthenticator(secret string, users IdentityStore) *Authenticator {
	return &Authenticator{
		secret: secret,
		users:  users,
		logger: logx.Logger().With().Str("component", "Authenticator").Logger(),
	}
}

// Authenticate validates the credential and resolves the minimal identity
// projection. Rejection reasons: missing, malformed, expired, or a subject
// that no longer resolves to a user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (user.Profile, *errs.CustomError) {
	if token == "" {
		return user.Profile{}, errs.NewError(errs.ErrAuthMissing)
	}

	payload, err := jwt.ParseToken(token, a.secret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return user.Profile{}, errs.NewError(errs.ErrAuthExpired)
		}
		a.logger.Warn().Err(err).Msg("Credential failed verification.")
		return user.Profile{}, errs.NewError(errs.ErrAuthMalformed)
	}

	profile, err := a.users.GetUserProfile(ctx, payload.UserID)
	if err != nil {
		// A deleted user and a failed lookup both reject the same way: the
		// subject cannot be resolved, so the connection is refused.
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error().Err(err).Str("user_id", payload.UserID).Msg("Identity lookup failed.")
		}
		return user.Profile{}, errs.NewError(errs.ErrAuthUnknownSubject)
	}

	return profile, nil
}
