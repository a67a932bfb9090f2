// Package auth provides the identity validators the authentication gate
// consults before binding a user id to a connection.
//
// A validator only answers pass or fail for a (userId, token) pair. Backing
// store outages are reported as ordinary failures.
package auth

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidCredentials is returned when the token does not prove the identity.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownUser is returned when the identity does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

// Validator decides whether token proves userID.
type Validator interface {
	Validate(ctx context.Context, userID, token string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, userID, token string) error

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, userID, token string) error {
	return f(ctx, userID, token)
}

// AllowAll accepts every identity. It is the default when no token scheme is
// configured.
var AllowAll Validator = ValidatorFunc(func(context.Context, string, string) error { return nil })

// Chain runs validators in order and returns the first failure.
type Chain []Validator

// Validate implements Validator.
func (c Chain) Validate(ctx context.Context, userID, token string) error {
	for _, v := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.Validate(ctx, userID, token); err != nil {
			return err
		}
	}
	return nil
}

// Reason renders a validation failure as the message sent back to the client.
// Internal details of backing stores are not exposed.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownUser):
		return "unknown user"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, context.DeadlineExceeded):
		return "authentication timed out"
	default:
		return "authentication failed"
	}
}
