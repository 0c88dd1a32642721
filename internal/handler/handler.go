// Package handler turns gateway events into moderation operations: slash
// commands, member joins and leaves, and guild startup.
package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"guildwarden/internal/crash"
	"guildwarden/internal/directory"
	"guildwarden/internal/logger"
	"guildwarden/internal/persistroles"
	"guildwarden/internal/reversal"
)

const (
	maxConcurrentHandlers = 100
	handlerTimeout        = 30 * time.Second
	acquireTimeout        = 5 * time.Second
	// guilds restored in parallel at startup
	restoreParallelism = 4
)

var errBusy = errors.New("too many handlers in flight")

// CacheInvalidator drops cached per-guild state.
type CacheInvalidator interface {
	ClearCache(guildID snowflake.ID)
}

type Handler struct {
	commands     *Commands
	invalidators []CacheInvalidator
	roles        *persistroles.Store
	scheduler    *reversal.Scheduler
	dir          directory.Directory

	sem      *semaphore.Weighted
	restored sync.Map
}

func New(commands *Commands, roles *persistroles.Store, scheduler *reversal.Scheduler, dir directory.Directory) *Handler {
	return &Handler{
		commands:  commands,
		roles:     roles,
		scheduler: scheduler,
		dir:       dir,
		sem:       semaphore.NewWeighted(maxConcurrentHandlers),
	}
}

// InvalidateOn registers caches to clear when a guild's roles or
// membership change.
func (h *Handler) InvalidateOn(caches ...CacheInvalidator) {
	h.invalidators = append(h.invalidators, caches...)
}

func (h *Handler) invalidate(guildID snowflake.ID) {
	for _, c := range h.invalidators {
		c.ClearCache(guildID)
	}
}

// run executes fn with a bounded number of handlers in flight.
func (h *Handler) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	if err := h.sem.Acquire(acquireCtx, 1); err != nil {
		incrementCounter(&totalTimeouts)
		logger.Warningf("Dropping %s: %v", name, errBusy)
		return errBusy
	}
	defer h.sem.Release(1)

	atomicAdd(&activeHandlers, 1)
	defer atomicAdd(&activeHandlers, -1)

	runCtx, cancelRun := context.WithTimeout(ctx, handlerTimeout)
	defer cancelRun()

	err := crash.Guard(name, func() error { return fn(runCtx) })
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		incrementCounter(&totalTimeouts)
	}
	if err != nil {
		incrementCounter(&totalErrors)
	}
	return err
}

// MemberJoined reapplies the member's persistent roles.
func (h *Handler) MemberJoined(ctx context.Context, member directory.Member) error {
	incrementCounter(&totalMemberEvents)
	return h.run(ctx, "member-join", func(ctx context.Context) error {
		res, err := h.roles.RestoreOnArrival(ctx, member)
		if err != nil {
			logger.Errorf("Error restoring roles for %s/%s: %v", member.GuildID, member.UserID, err)
			return err
		}
		if len(res.Failed) > 0 {
			logger.Warningf("Could not restore %d roles for %s/%s", len(res.Failed), member.GuildID, member.UserID)
		}
		return nil
	})
}

// MemberLeft stores the roles the member held when leaving.
func (h *Handler) MemberLeft(ctx context.Context, guildID, userID snowflake.ID, roleIDs []snowflake.ID) error {
	incrementCounter(&totalMemberEvents)
	if len(roleIDs) == 0 {
		logger.Debugf("No cached roles for departing member %s/%s", guildID, userID)
		return nil
	}
	return h.run(ctx, "member-leave", func(ctx context.Context) error {
		if _, err := h.roles.StoreOnDeparture(ctx, guildID, userID, roleIDs); err != nil {
			logger.Errorf("Error storing roles for %s/%s: %v", guildID, userID, err)
			return err
		}
		return nil
	})
}

// GuildReady rebuilds the reversal timers of a guild the first time the
// guild becomes available in this process.
func (h *Handler) GuildReady(ctx context.Context, guildID snowflake.ID) error {
	if _, loaded := h.restored.LoadOrStore(guildID, struct{}{}); loaded {
		return nil
	}
	n, err := h.scheduler.RestoreAll(ctx, guildID)
	if err != nil {
		h.restored.Delete(guildID)
		logger.Errorf("Error restoring timers for guild %s: %v", guildID, err)
		return err
	}
	logger.Infof("Restored %d reversal timers for guild %s", n, guildID)
	return nil
}

// RestoreGuilds runs GuildReady for every guild, a few at a time.
func (h *Handler) RestoreGuilds(ctx context.Context, guildIDs []snowflake.ID) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreParallelism)
	for _, id := range guildIDs {
		g.Go(func() error {
			return h.GuildReady(ctx, id)
		})
	}
	return g.Wait()
}

// Execute runs a parsed command through the concurrency limit.
func (h *Handler) Execute(ctx context.Context, inv Invocation) string {
	var reply string
	err := h.run(ctx, "command-"+inv.Command, func(ctx context.Context) error {
		reply = h.commands.Execute(ctx, inv)
		return nil
	})
	if err != nil && reply == "" {
		lang := h.commands.langs.Language(ctx, inv.GuildID)
		return h.commands.internalError(inv, lang, err)
	}
	return reply
}
