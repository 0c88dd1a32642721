// Package notify relays moderation events to a staff mod-log.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/models"
)

// Event is one completed moderation operation.
type Event struct {
	GuildID     snowflake.ID
	Kind        models.ActionKind
	TargetID    snowflake.ID
	TargetName  string
	ModeratorID snowflake.ID
	Reason      string
	Automatic   bool
	Duration    time.Duration
	// Detail is an optional free-form line, e.g. restore counts.
	Detail string
	At     time.Time
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
