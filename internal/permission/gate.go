// Package permission decides whether an actor may run a moderation
// operation against a target.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"

	"guildwarden/internal/directory"
	"guildwarden/internal/metrics"
)

// Code classifies a denial.
type Code string

const (
	CodePermissionDenied Code = "permission_denied"
	CodeHierarchy        Code = "hierarchy_error"
	CodeSelfAction       Code = "self_action"
)

// Requirements describe what an operation needs from the actor.
type Requirements struct {
	// Permissions the actor must hold on the platform.
	Permissions directory.Permissions
	// RequireModerator demands the guild's moderator role, when one is configured.
	RequireModerator bool
	// CheckHierarchy compares actor, bot and target role positions.
	CheckHierarchy bool
	// Destructive operations may not target the actor.
	Destructive bool
}

type Decision struct {
	Allowed bool
	Code    Code
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(code Code, format string, args ...interface{}) Decision {
	metrics.PermissionDenialsTotal.WithLabelValues(string(code)).Inc()
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ModeratorRoles resolves a guild's configured moderator role; zero means
// none is configured.
type ModeratorRoles interface {
	ModeratorRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
}

type Options struct {
	CacheTTL  time.Duration
	CacheSize int
	Clock     clockwork.Clock
}

type Gate struct {
	dir      directory.Directory
	settings ModeratorRoles
	cache    *moderatorCache
}

func New(dir directory.Directory, settings ModeratorRoles, opts Options) *Gate {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Gate{
		dir:      dir,
		settings: settings,
		cache:    newModeratorCache(opts.Clock, opts.CacheTTL, opts.CacheSize),
	}
}

// Authorize runs the checks in order and stops at the first failure:
// platform permissions, moderator role, then (with a target) self-action,
// owner protection and role hierarchy. The guild owner passes every
// actor-side check. target may be nil.
func (g *Gate) Authorize(ctx context.Context, actor directory.Member, target directory.Target, req Requirements) (Decision, error) {
	guild, err := g.dir.Guild(ctx, actor.GuildID)
	if err != nil {
		return Decision{}, fmt.Errorf("load guild %s: %w", actor.GuildID, err)
	}
	isOwner := actor.UserID == guild.OwnerID

	if !isOwner && req.Permissions != 0 && !actor.Permissions.Has(req.Permissions) {
		return deny(CodePermissionDenied, "missing platform permissions"), nil
	}

	if !isOwner && req.RequireModerator {
		ok, err := g.isModerator(ctx, actor)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return deny(CodePermissionDenied, "moderator role required"), nil
		}
	}

	if target == nil {
		return allow, nil
	}

	if req.Destructive && target.TargetID() == actor.UserID {
		return deny(CodeSelfAction, "cannot target yourself"), nil
	}
	if target.TargetID() == guild.OwnerID {
		return deny(CodeHierarchy, "cannot act on the server owner"), nil
	}

	member, isMember := directory.AsMember(target)
	if !req.CheckHierarchy || !isMember {
		return allow, nil
	}

	targetTop := guild.HighestPosition(member.RoleIDs)
	if !isOwner && guild.HighestPosition(actor.RoleIDs) <= targetTop {
		return deny(CodeHierarchy, "your highest role does not outrank %s", target.Name()), nil
	}

	self, err := g.dir.Member(ctx, guild.ID, g.dir.SelfID())
	if err != nil {
		return Decision{}, fmt.Errorf("load bot member: %w", err)
	}
	if guild.HighestPosition(self.RoleIDs) <= targetTop {
		return deny(CodeHierarchy, "the bot's highest role does not outrank %s", target.Name()), nil
	}

	return allow, nil
}

func (g *Gate) isModerator(ctx context.Context, actor directory.Member) (bool, error) {
	if cached, ok := g.cache.Get(actor.GuildID, actor.UserID); ok {
		metrics.PermissionCacheHitsTotal.Inc()
		return cached, nil
	}
	metrics.PermissionCacheMissesTotal.Inc()

	roleID, err := g.settings.ModeratorRole(ctx, actor.GuildID)
	if err != nil {
		return false, fmt.Errorf("load moderator role for guild %s: %w", actor.GuildID, err)
	}
	ok := roleID == 0 || actor.HasRole(roleID)
	g.cache.Add(actor.GuildID, actor.UserID, ok)
	return ok, nil
}

// ClearCache drops cached moderator lookups for one guild.
func (g *Gate) ClearCache(guildID snowflake.ID) {
	g.cache.ClearGuild(guildID)
}

func (g *Gate) ClearAll() {
	g.cache.ClearAll()
}
