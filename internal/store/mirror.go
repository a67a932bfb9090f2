// Package store mirrors presence transitions to an external key-value store
// so other processes can answer "is this user online" without a socket.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Load for an identity the mirror has never seen.
var ErrNotFound = errors.New("presence record not found")

// Record is the mirrored presence of one identity.
type Record struct {
	UserID   string
	Online   bool
	LastSeen time.Time
}

// Mirror persists presence records.
type Mirror interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, userID string) (Record, error)
}

// NopMirror discards writes and never finds anything.
type NopMirror struct{}

// Save implements Mirror.
func (NopMirror) Save(context.Context, Record) error { return nil }

// Load implements Mirror.
func (NopMirror) Load(_ context.Context, userID string) (Record, error) {
	return Record{}, errors.Wrapf(ErrNotFound, "user %s", userID)
}
