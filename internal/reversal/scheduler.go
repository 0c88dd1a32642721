// Package reversal keeps the in-memory timers that undo temporary bans and
// timed jails. Timers are never persisted: RestoreAll rebuilds them from
// the moderation ledger after a restart.
package reversal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"

	"guildwarden/internal/crash"
	"guildwarden/internal/ledger"
	"guildwarden/internal/logger"
	"guildwarden/internal/metrics"
	"guildwarden/internal/models"
)

// ErrTimerExists is returned by Schedule when the key already has a timer.
var ErrTimerExists = errors.New("a reversal timer already exists for this member")

type Kind string

const (
	KindUnban  Kind = "unban"
	KindUnjail Kind = "unjail"
)

// Key identifies a timer. At most one timer exists per key.
type Key struct {
	GuildID snowflake.ID
	UserID  snowflake.ID
	Kind    Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s/%s", k.Kind, k.GuildID, k.UserID)
}

// Handler performs a reversal once its timer fires.
type Handler interface {
	Reverse(ctx context.Context, key Key) error
}

type HandlerFunc func(ctx context.Context, key Key) error

func (f HandlerFunc) Reverse(ctx context.Context, key Key) error { return f(ctx, key) }

// Pending describes a scheduled timer.
type Pending struct {
	Key    Key
	FireAt time.Time
}

type entry struct {
	fireAt time.Time
	timer  clockwork.Timer
}

type Scheduler struct {
	ledger  *ledger.Ledger
	clock   clockwork.Clock
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[Key]*entry
}

func New(l *ledger.Ledger, clk clockwork.Clock) *Scheduler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ledger: l,
		clock:  clk,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[Key]*entry),
	}
}

// Handle sets the reversal handler. It must be called before any timer fires.
func (s *Scheduler) Handle(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Schedule registers a timer firing at fireAt. A fireAt in the past fires
// right away. Replacing a timer requires an explicit Cancel first.
func (s *Scheduler) Schedule(key Key, fireAt time.Time) error {
	s.mu.Lock()
	if _, exists := s.timers[key]; exists {
		s.mu.Unlock()
		return ErrTimerExists
	}
	e := &entry{fireAt: fireAt}
	s.timers[key] = e
	s.mu.Unlock()

	metrics.PendingTimers.WithLabelValues(string(key.Kind)).Inc()
	logger.Debugf("Scheduled %s at %s", key, fireAt.Format(time.RFC3339))

	// a due timer may fire before e.timer is set; fire checks the map
	t := s.clock.AfterFunc(fireAt.Sub(s.clock.Now()), func() { s.fire(key, e) })

	s.mu.Lock()
	if s.timers[key] == e {
		e.timer = t
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	t.Stop()
	return nil
}

// Cancel discards the timer for key without running it.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	e, ok := s.timers[key]
	if ok {
		delete(s.timers, key)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	metrics.PendingTimers.WithLabelValues(string(key.Kind)).Dec()
	logger.Debugf("Cancelled %s", key)
	return true
}

// Has reports whether key has a pending timer.
func (s *Scheduler) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Pending lists the scheduled timers, soonest first.
func (s *Scheduler) Pending() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.timers))
	for key, e := range s.timers {
		out = append(out, Pending{Key: key, FireAt: e.fireAt})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Stop cancels every timer and the context passed to running handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[Key]*entry)
	s.mu.Unlock()

	for key, e := range timers {
		if e.timer != nil {
			e.timer.Stop()
		}
		metrics.PendingTimers.WithLabelValues(string(key.Kind)).Dec()
	}
	s.cancel()
}

func (s *Scheduler) fire(key Key, e *entry) {
	s.mu.Lock()
	if s.timers[key] != e {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	handler := s.handler
	s.mu.Unlock()

	metrics.PendingTimers.WithLabelValues(string(key.Kind)).Dec()

	if handler == nil {
		logger.Errorf("Reversal %s fired without a handler", key)
		metrics.ReversalsTotal.WithLabelValues(string(key.Kind), "no_handler").Inc()
		return
	}

	err := crash.Guard("reversal "+key.String(), func() error {
		return handler.Reverse(s.ctx, key)
	})
	if err != nil {
		logger.Errorf("Reversal %s failed: %v", key, err)
		metrics.ReversalsTotal.WithLabelValues(string(key.Kind), "error").Inc()
		return
	}
	metrics.ReversalsTotal.WithLabelValues(string(key.Kind), "ok").Inc()
}

// RestoreAll rebuilds the timers of one guild from the ledger: the latest
// temporary ban of each member that was not lifted, and the timed jail of
// each member still jailed. Expired ones fire immediately. Keys that
// already have a timer are left alone, so calling it twice is harmless.
// It returns the number of timers registered.
func (s *Scheduler) RestoreAll(ctx context.Context, guildID snowflake.ID) (int, error) {
	users, err := s.ledger.FindMany(ctx, guildID, func(u *models.User) bool {
		_, banned := u.PendingTempban()
		_, jailed := u.PendingTimedJail()
		return banned || jailed
	})
	if err != nil {
		return 0, err
	}

	restored, expired := 0, 0
	now := s.clock.Now()
	for _, u := range users {
		if ban, ok := u.PendingTempban(); ok {
			if g, ok := ban.Metadata.ID(models.MetaGuildID); ok && g != guildID {
				logger.Warningf("Tempban %s of %s names guild %s, skipping", ban.ID, u.UserID(), g)
			} else if fireAt, ok := ban.ExpiresAt(); ok {
				if s.restore(Key{guildID, u.UserID(), KindUnban}, fireAt) {
					restored++
					if !fireAt.After(now) {
						expired++
					}
				}
			} else {
				logger.Warningf("Tempban %s of %s has no expiry, skipping", ban.ID, u.UserID())
			}
		}

		if jail, ok := u.PendingTimedJail(); ok {
			fireAt, _ := jail.ExpiresAt()
			if s.restore(Key{guildID, u.UserID(), KindUnjail}, fireAt) {
				restored++
				if !fireAt.After(now) {
					expired++
				}
			}
		}
	}

	logger.Infof("Restored %d reversal timers for guild %s (%d already expired)", restored, guildID, expired)
	return restored, nil
}

func (s *Scheduler) restore(key Key, fireAt time.Time) bool {
	err := s.Schedule(key, fireAt)
	if errors.Is(err, ErrTimerExists) {
		return false
	}
	if err != nil {
		logger.Warningf("Could not restore %s: %v", key, err)
		return false
	}
	metrics.TimersRestoredTotal.WithLabelValues(string(key.Kind)).Inc()
	return true
}
