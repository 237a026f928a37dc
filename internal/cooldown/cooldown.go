// Package cooldown limits how often a visitor may rate the same plant.
//
// A visitor is identified by a cookie, so the guard is soft: clearing cookies resets it.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPeriod = 24 * time.Hour
	keyPrefix     = "last_rating_submission_"
)

var ErrCooldownActive = errors.New("rating cooldown active")

// Store remembers when a visitor last rated a plant.
type Store interface {
	// LastSubmission returns ok=false when nothing was recorded or the entry expired.
	LastSubmission(ctx context.Context, key string) (at time.Time, ok bool, err error)
	RecordSubmission(ctx context.Context, key string, at time.Time, ttl time.Duration) error
}

// Status is the cooldown state of one (visitor, plant) pair.
type Status struct {
	Active    bool
	Remaining time.Duration
}

// FormatRemaining renders the remaining cooldown as "{h}h {m}m".
func (s Status) FormatRemaining() string {
	return FormatRemaining(s.Remaining)
}

type Tracker struct {
	store  Store
	period time.Duration
	now    func() time.Time
}

func NewTracker(store Store, period time.Duration) *Tracker {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Tracker{store: store, period: period, now: time.Now}
}

func (t *Tracker) Period() time.Duration {
	return t.period
}

// Key is the store key for a visitor and plant.
func Key(visitorID, plantID string) string {
	return keyPrefix + visitorID + "_" + plantID
}

func (t *Tracker) Status(ctx context.Context, visitorID, plantID string) (Status, error) {
	if visitorID == "" {
		return Status{}, nil
	}
	last, ok, err := t.store.LastSubmission(ctx, Key(visitorID, plantID))
	if err != nil {
		return Status{}, fmt.Errorf("failed to read cooldown: %w", err)
	}
	if !ok {
		return Status{}, nil
	}
	remaining := t.period - t.now().Sub(last)
	if remaining <= 0 {
		return Status{}, nil
	}
	return Status{Active: true, Remaining: remaining}, nil
}

// Check returns an error wrapping ErrCooldownActive while the visitor may not rate the plant.
func (t *Tracker) Check(ctx context.Context, visitorID, plantID string) (Status, error) {
	status, err := t.Status(ctx, visitorID, plantID)
	if err != nil {
		return status, err
	}
	if status.Active {
		return status, fmt.Errorf("%w: %s remaining", ErrCooldownActive, status.FormatRemaining())
	}
	return status, nil
}

// Record starts the cooldown. Call it only after the rating was stored.
func (t *Tracker) Record(ctx context.Context, visitorID, plantID string) error {
	if visitorID == "" {
		return nil
	}
	if err := t.store.RecordSubmission(ctx, Key(visitorID, plantID), t.now(), t.period); err != nil {
		return fmt.Errorf("failed to record cooldown: %w", err)
	}
	return nil
}

func FormatRemaining(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	hours := remaining / time.Hour
	minutes := (remaining % time.Hour) / time.Minute
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
