// Package store provides the durable client-side storage the session
// manager persists itself into: the bearer token and the serialized user
// record, always written and cleared together.
package store

import (
	"context"
	"errors"

	"referral-client/internal/model"
)

var (
	// ErrNotFound means no session record is stored.
	ErrNotFound = errors.New("no stored session")
	// ErrCorrupt means a record exists but cannot be decoded. Callers treat
	// the user as logged out and clear the record.
	ErrCorrupt = errors.New("stored session is corrupt")
)

// Record is the persisted pair of token and user. A record with an empty
// token is invalid; the two fields go nowhere without each other.
type Record struct {
	Token string        `json:"token"`
	User  model.Session `json:"user"`
}

// Store is durable key/value storage for exactly one session record per
// profile. Implementations: JSON file (optionally encrypted at rest),
// SQLite, Redis.
type Store interface {
	// Load returns the stored record, ErrNotFound when absent, or ErrCorrupt
	// when present but undecodable.
	Load(ctx context.Context) (*Record, error)
	// Save overwrites the stored record atomically.
	Save(ctx context.Context, rec *Record) error
	// Clear removes the stored record. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}
