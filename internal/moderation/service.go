// Package moderation implements the moderation operations behind each
// command: permission check, live mutation through the member directory,
// then the durable ledger record. Expected rule violations come back as a
// Result; only infrastructure failures are returned as errors.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/moby/locker"

	"guildwarden/internal/crash"
	"guildwarden/internal/directory"
	"guildwarden/internal/ledger"
	"guildwarden/internal/logger"
	"guildwarden/internal/metrics"
	"guildwarden/internal/models"
	"guildwarden/internal/notify"
	"guildwarden/internal/permission"
	"guildwarden/internal/reversal"
)

// ServerConfig is the per-guild configuration the operations read.
type ServerConfig interface {
	ModeratorRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
	JailRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
	JailChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, actor directory.Member, target directory.Target, req permission.Requirements) (permission.Decision, error)
}

type Options struct {
	MinTempban       time.Duration
	MaxTempban       time.Duration
	BanRetentionDays int
}

type Deps struct {
	Directory directory.Directory
	Ledger    *ledger.Ledger
	Gate      Authorizer
	Config    ServerConfig
	Scheduler *reversal.Scheduler
	Notifier  notify.Notifier
	Clock     clockwork.Clock
	Options   Options
}

type Service struct {
	dir       directory.Directory
	ledger    *ledger.Ledger
	gate      Authorizer
	config    ServerConfig
	scheduler *reversal.Scheduler
	notifier  notify.Notifier
	clock     clockwork.Clock
	opts      Options
	locks     *locker.Locker
}

// New wires the service and registers it as the scheduler's reversal handler.
func New(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Options.MinTempban <= 0 {
		deps.Options.MinTempban = time.Minute
	}
	if deps.Options.MaxTempban <= 0 {
		deps.Options.MaxTempban = 365 * 24 * time.Hour
	}

	s := &Service{
		dir:       deps.Directory,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		config:    deps.Config,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		opts:      deps.Options,
		locks:     locker.New(),
	}
	deps.Scheduler.Handle(s)
	return s
}

// lockMember serializes the jail, unjail and unban work on one member.
func (s *Service) lockMember(guildID, userID snowflake.ID) (unlock func()) {
	key := guildID.String() + "/" + userID.String()
	s.locks.Lock(key)
	return func() { _ = s.locks.Unlock(key) }
}

var (
	reqKick = permission.Requirements{
		Permissions: directory.PermissionKickMembers, RequireModerator: true, CheckHierarchy: true, Destructive: true,
	}
	reqBan = permission.Requirements{
		Permissions: directory.PermissionBanMembers, RequireModerator: true, CheckHierarchy: true, Destructive: true,
	}
	reqUnban = permission.Requirements{
		Permissions: directory.PermissionBanMembers, RequireModerator: true,
	}
	reqJail = permission.Requirements{
		Permissions: directory.PermissionManageRoles, RequireModerator: true, CheckHierarchy: true, Destructive: true,
	}
	reqUnjail = permission.Requirements{
		Permissions: directory.PermissionManageRoles, RequireModerator: true, CheckHierarchy: true,
	}
	reqWarn = permission.Requirements{
		Permissions: directory.PermissionModerateMembers, RequireModerator: true, CheckHierarchy: true, Destructive: true,
	}
	reqReview = permission.Requirements{
		Permissions: directory.PermissionModerateMembers, RequireModerator: true,
	}
)

// authorize returns a failed Result when the gate denies, nil when allowed.
func (s *Service) authorize(ctx context.Context, actor directory.Member, target directory.Target, req permission.Requirements) (*Result, error) {
	decision, err := s.gate.Authorize(ctx, actor, target, req)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", actor.UserID, err)
	}
	if decision.Allowed {
		return nil, nil
	}
	r := fail(FailureType(decision.Code), decision.Reason)
	return &r, nil
}

func (s *Service) validateDuration(d time.Duration) *Result {
	if d < s.opts.MinTempban || d > s.opts.MaxTempban {
		r := fail(FailureInvalidDuration, fmt.Sprintf("duration must be between %s and %s", s.opts.MinTempban, s.opts.MaxTempban))
		return &r
	}
	return nil
}

func invalidReason() Result {
	return fail(FailureInvalidReason, models.ErrInvalidReason.Error())
}

// newAction stamps an action with the service clock and the guild id.
func (s *Service) newAction(kind models.ActionKind, guildID, moderatorID snowflake.ID, reason string, meta models.Metadata) (models.ModerationAction, error) {
	if meta == nil {
		meta = models.Metadata{}
	}
	meta.SetID(models.MetaGuildID, guildID)
	return models.NewAction(kind, moderatorID, reason, s.clock.Now(), meta)
}

// diverged reports a live mutation whose durable record failed. The two
// are now out of sync and need manual reconciliation.
func (s *Service) diverged(op models.ActionKind, guildID, userID snowflake.ID, err error) error {
	l := logger.With(map[string]interface{}{
		"reconcile": true,
		"operation": string(op),
		"guild":     guildID.String(),
		"user":      userID.String(),
	})
	l.Error().Err(err).Msg("Live state changed but the ledger write failed")
	metrics.DivergenceTotal.WithLabelValues(string(op)).Inc()
	return fmt.Errorf("%s applied on the platform but not recorded: %w", op, err)
}

// finish records metrics and sends the mod-log event for successful results.
func (s *Service) finish(ctx context.Context, kind models.ActionKind, guildID snowflake.ID, target directory.Target, r Result, detail string) Result {
	metrics.ActionsTotal.WithLabelValues(string(kind), r.label()).Inc()
	if !r.Success || r.Action == nil {
		return r
	}

	event := notify.Event{
		GuildID:     guildID,
		Kind:        kind,
		TargetID:    target.TargetID(),
		TargetName:  target.Name(),
		ModeratorID: r.Action.ModeratorID,
		Reason:      r.Action.Reason,
		Automatic:   r.Action.Automatic(),
		Duration:    r.Duration,
		Detail:      detail,
		At:          r.Action.Timestamp,
	}
	crash.SafeGoroutine("notify-"+string(kind), func() {
		if err := s.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
			logger.Warningf("Error sending mod-log notification: %v", err)
		}
	})
	return r
}

func (s *Service) record(ctx context.Context, guildID, userID snowflake.ID, action models.ModerationAction) error {
	if err := s.ledger.Append(ctx, guildID, userID, action); err != nil {
		return s.diverged(action.Kind, guildID, userID, err)
	}
	return nil
}

// liveMember fetches a fresh copy of the member, mapping absence to a Result.
func (s *Service) liveMember(ctx context.Context, guildID, userID snowflake.ID) (directory.Member, *Result, error) {
	m, err := s.dir.Member(ctx, guildID, userID)
	if errors.Is(err, directory.ErrMemberNotFound) {
		r := fail(FailureMemberNotFound, "user is not a member of this server")
		return directory.Member{}, &r, nil
	}
	if err != nil {
		return directory.Member{}, nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	return m, nil, nil
}

// KickUser removes a member from the guild.
func (s *Service) KickUser(ctx context.Context, actor directory.Member, target directory.Target, reason string) (Result, error) {
	guildID := actor.GuildID
	if models.ValidateReason(reason) != nil {
		return s.finish(ctx, models.ActionKick, guildID, target, invalidReason(), ""), nil
	}
	if _, ok := directory.AsMember(target); !ok {
		return s.finish(ctx, models.ActionKick, guildID, target, fail(FailureMemberNotFound, "user is not a member of this server"), ""), nil
	}
	if denied, err := s.authorize(ctx, actor, target, reqKick); err != nil || denied != nil {
		return s.finishDenied(ctx, models.ActionKick, guildID, target, denied, err)
	}

	action, err := s.newAction(models.ActionKick, guildID, actor.UserID, reason, nil)
	if err != nil {
		return Result{}, err
	}

	err = s.dir.Kick(ctx, guildID, target.TargetID(), reason)
	if errors.Is(err, directory.ErrMemberNotFound) {
		return s.finish(ctx, models.ActionKick, guildID, target, fail(FailureMemberNotFound, "user is not a member of this server"), ""), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("kick %s: %w", target.TargetID(), err)
	}

	if err := s.record(ctx, guildID, target.TargetID(), action); err != nil {
		return Result{}, err
	}
	return s.finish(ctx, models.ActionKick, guildID, target, succeed(action), ""), nil
}

// WarnUser records a warning; nothing changes on the platform.
func (s *Service) WarnUser(ctx context.Context, actor directory.Member, target directory.Target, reason string) (Result, error) {
	guildID := actor.GuildID
	if models.ValidateReason(reason) != nil {
		return s.finish(ctx, models.ActionWarn, guildID, target, invalidReason(), ""), nil
	}
	if denied, err := s.authorize(ctx, actor, target, reqWarn); err != nil || denied != nil {
		return s.finishDenied(ctx, models.ActionWarn, guildID, target, denied, err)
	}

	action, err := s.newAction(models.ActionWarn, guildID, actor.UserID, reason, nil)
	if err != nil {
		return Result{}, err
	}
	if err := s.ledger.Append(ctx, guildID, target.TargetID(), action); err != nil {
		return Result{}, err
	}
	return s.finish(ctx, models.ActionWarn, guildID, target, succeed(action), ""), nil
}

func (s *Service) finishDenied(ctx context.Context, kind models.ActionKind, guildID snowflake.ID, target directory.Target, denied *Result, err error) (Result, error) {
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(kind), "error").Inc()
		return Result{}, err
	}
	return s.finish(ctx, kind, guildID, target, *denied, ""), nil
}
