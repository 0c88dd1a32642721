// Package ledger is the durable moderation history: it loads a member's
// User record, applies a mutation and writes it back with an optimistic
// version check, so concurrent writers never silently overwrite each other.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/logger"
	"guildwarden/internal/models"
)

var (
	// ErrVersionConflict is returned by Store.Save when the record changed
	// since it was loaded.
	ErrVersionConflict = errors.New("user record was modified concurrently")

	// ErrNoChange can be returned by an Update callback to skip the write.
	ErrNoChange = errors.New("no change")
)

// Store is the document storage for User records. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the stored record, or a new empty record (version 0)
	// when none exists.
	Get(ctx context.Context, guildID, userID snowflake.ID) (*models.User, error)

	// Save writes the record if its stored version still equals
	// u.Version(), then advances the version. A new record (version 0)
	// conflicts if another writer created it first.
	Save(ctx context.Context, u *models.User) error

	// FindMany returns every record of the guild for which match is true.
	FindMany(ctx context.Context, guildID snowflake.ID, match func(*models.User) bool) ([]*models.User, error)
}

const maxAttempts = 3

// Ledger wraps a Store with read-modify-write helpers.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Get loads a member's record.
func (l *Ledger) Get(ctx context.Context, guildID, userID snowflake.ID) (*models.User, error) {
	u, err := l.store.Get(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s/%s: %w", guildID, userID, err)
	}
	return u, nil
}

// Update loads the record, applies fn and saves it. On a version conflict
// the whole cycle is retried against the fresh record, so fn must be safe
// to run more than once and must re-check its own preconditions. If fn
// returns an error the record is not written and the error is returned
// as is (ErrNoChange is swallowed).
func (l *Ledger) Update(ctx context.Context, guildID, userID snowflake.ID, fn func(*models.User) error) (*models.User, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		u, err := l.Get(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}

		if err := fn(u); err != nil {
			if errors.Is(err, ErrNoChange) {
				return u, nil
			}
			return u, err
		}

		err = l.store.Save(ctx, u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("save user %s/%s: %w", guildID, userID, err)
		}
		lastErr = err
		logger.Debugf("Version conflict on user %s/%s (attempt %d), retrying", guildID, userID, attempt)
	}
	return nil, fmt.Errorf("save user %s/%s: %w", guildID, userID, lastErr)
}

// Append records a single non-lifecycle action.
func (l *Ledger) Append(ctx context.Context, guildID, userID snowflake.ID, action models.ModerationAction) error {
	_, err := l.Update(ctx, guildID, userID, func(u *models.User) error {
		return u.RecordAction(action)
	})
	return err
}

// History returns a member's actions in chronological order.
func (l *Ledger) History(ctx context.Context, guildID, userID snowflake.ID) ([]models.ModerationAction, error) {
	u, err := l.Get(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return u.History(), nil
}

// FindMany passes through to the store.
func (l *Ledger) FindMany(ctx context.Context, guildID snowflake.ID, match func(*models.User) bool) ([]*models.User, error) {
	users, err := l.store.FindMany(ctx, guildID, match)
	if err != nil {
		return nil, fmt.Errorf("scan users of guild %s: %w", guildID, err)
	}
	return users, nil
}
