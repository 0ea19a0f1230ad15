package repository

import (
	"context"
)

// Well-known slot names.
const (
	SlotCart    = "cart"
	SlotConsent = "cookiesAccepted"
)

// SlotStore persists string values under keys.
type SlotStore interface {
	// Get returns the stored value. A missing key yields an error matching
	// apperrors.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

// Scoped confines a SlotStore to one browser session by prefixing every key
// with "session:<id>:".
type Scoped struct {
	store  SlotStore
	prefix string
}

// Scope returns the slots of sessionID within store.
func Scope(store SlotStore, sessionID string) *Scoped {
	return &Scoped{store: store, prefix: "session:" + sessionID + ":"}
}

// Key returns the backend key for slot.
func (s *Scoped) Key(slot string) string {
	return s.prefix + slot
}

func (s *Scoped) Get(ctx context.Context, slot string) (string, error) {
	return s.store.Get(ctx, s.Key(slot))
}

func (s *Scoped) Set(ctx context.Context, slot, value string) error {
	return s.store.Set(ctx, s.Key(slot), value)
}

func (s *Scoped) Delete(ctx context.Context, slot string) error {
	return s.store.Delete(ctx, s.Key(slot))
}

func (s *Scoped) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
