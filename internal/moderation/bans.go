package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/directory"
	"guildwarden/internal/logger"
	"guildwarden/internal/models"
	"guildwarden/internal/reversal"
)

const reasonBanExpired = "Temporary ban expired"

// BanUser bans permanently. deleteMessageDays outside 0..7 uses the
// configured default.
func (s *Service) BanUser(ctx context.Context, actor directory.Member, target directory.Target, reason string, deleteMessageDays int) (Result, error) {
	return s.ban(ctx, actor, target, reason, 0, deleteMessageDays)
}

// TempbanUser bans and schedules the automatic unban.
func (s *Service) TempbanUser(ctx context.Context, actor directory.Member, target directory.Target, reason string, duration time.Duration) (Result, error) {
	if r := s.validateDuration(duration); r != nil {
		return s.finish(ctx, models.ActionTempban, actor.GuildID, target, *r, ""), nil
	}
	return s.ban(ctx, actor, target, reason, duration, -1)
}

func (s *Service) ban(ctx context.Context, actor directory.Member, target directory.Target, reason string, duration time.Duration, deleteMessageDays int) (Result, error) {
	guildID := actor.GuildID
	userID := target.TargetID()
	kind := models.ActionBan
	if duration > 0 {
		kind = models.ActionTempban
	}
	done := func(r Result) (Result, error) {
		return s.finish(ctx, kind, guildID, target, r, ""), nil
	}

	if models.ValidateReason(reason) != nil {
		return done(invalidReason())
	}
	if denied, err := s.authorize(ctx, actor, target, reqBan); err != nil || denied != nil {
		return s.finishDenied(ctx, kind, guildID, target, denied, err)
	}

	unlock := s.lockMember(guildID, userID)
	defer unlock()

	_, err := s.dir.FetchBan(ctx, guildID, userID)
	if err == nil {
		return done(fail(FailureAlreadyBanned, "user is already banned"))
	}
	if !errors.Is(err, directory.ErrBanNotFound) {
		return Result{}, fmt.Errorf("fetch ban of %s: %w", userID, err)
	}

	if deleteMessageDays < 0 || deleteMessageDays > 7 {
		deleteMessageDays = s.opts.BanRetentionDays
	}

	meta := models.Metadata{
		models.MetaPermanent:         duration <= 0,
		models.MetaDeleteMessageDays: deleteMessageDays,
	}
	var expiresAt time.Time
	if duration > 0 {
		expiresAt = s.clock.Now().Add(duration)
		meta.SetTime(models.MetaExpiresAt, expiresAt)
		meta[models.MetaDurationMs] = duration.Milliseconds()
	}
	action, err := s.newAction(kind, guildID, actor.UserID, reason, meta)
	if err != nil {
		return Result{}, err
	}

	if err := s.dir.Ban(ctx, guildID, userID, reason, deleteMessageDays); err != nil {
		return Result{}, fmt.Errorf("ban %s: %w", userID, err)
	}
	if err := s.record(ctx, guildID, userID, action); err != nil {
		return Result{}, err
	}

	// a new ban supersedes any earlier temporary one
	key := reversal.Key{GuildID: guildID, UserID: userID, Kind: reversal.KindUnban}
	s.scheduler.Cancel(key)
	if duration > 0 {
		if err := s.scheduler.Schedule(key, expiresAt); err != nil {
			logger.Errorf("Failed to schedule unban of %s/%s: %v", guildID, userID, err)
		}
	}

	r := succeed(action)
	r.Duration = duration
	r.ExpiresAt = expiresAt
	return done(r)
}

// UnbanUser lifts a ban manually and cancels any pending automatic unban.
func (s *Service) UnbanUser(ctx context.Context, actor directory.Member, target directory.Target, reason string) (Result, error) {
	guildID := actor.GuildID
	userID := target.TargetID()
	done := func(r Result) (Result, error) {
		return s.finish(ctx, models.ActionUnban, guildID, target, r, ""), nil
	}

	if models.ValidateReason(reason) != nil {
		return done(invalidReason())
	}
	if denied, err := s.authorize(ctx, actor, target, reqUnban); err != nil || denied != nil {
		return s.finishDenied(ctx, models.ActionUnban, guildID, target, denied, err)
	}

	unlock := s.lockMember(guildID, userID)
	defer unlock()

	action, err := s.newAction(models.ActionUnban, guildID, actor.UserID, reason, nil)
	if err != nil {
		return Result{}, err
	}

	err = s.dir.Unban(ctx, guildID, userID, reason)
	if errors.Is(err, directory.ErrBanNotFound) {
		return done(fail(FailureNotBanned, "user is not banned"))
	}
	if err != nil {
		return Result{}, fmt.Errorf("unban %s: %w", userID, err)
	}

	s.scheduler.Cancel(reversal.Key{GuildID: guildID, UserID: userID, Kind: reversal.KindUnban})

	if err := s.record(ctx, guildID, userID, action); err != nil {
		return Result{}, err
	}
	return done(succeed(action))
}

// Reverse runs a fired reversal timer.
func (s *Service) Reverse(ctx context.Context, key reversal.Key) error {
	target := directory.AccountTarget{UserID: key.UserID}
	switch key.Kind {
	case reversal.KindUnban:
		return s.autoUnban(ctx, key.GuildID, key.UserID)
	case reversal.KindUnjail:
		r, err := s.unjail(ctx, key.GuildID, target, s.dir.SelfID(), reasonJailExpired, true)
		if err != nil {
			return err
		}
		if !r.Success {
			logger.Warningf("Automatic unjail of %s/%s skipped: %s", key.GuildID, key.UserID, r.Error)
		}
		return nil
	}
	return fmt.Errorf("unknown reversal kind %q", key.Kind)
}

// autoUnban lifts an expired temporary ban. A ban that is already gone on
// the platform is still recorded, flagged alreadyUnbanned. Any other
// platform error writes nothing, so the next restart retries.
func (s *Service) autoUnban(ctx context.Context, guildID, userID snowflake.ID) error {
	target := directory.AccountTarget{UserID: userID}

	unlock := s.lockMember(guildID, userID)
	defer unlock()

	record, err := s.ledger.Get(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if _, pending := record.PendingTempban(); !pending {
		logger.Infof("Tempban of %s/%s was already lifted, nothing to reverse", guildID, userID)
		return nil
	}

	meta := models.Metadata{models.MetaAutomatic: true}
	err = s.dir.Unban(ctx, guildID, userID, reasonBanExpired)
	switch {
	case errors.Is(err, directory.ErrBanNotFound):
		logger.Infof("Tempban of %s/%s expired but the user is no longer banned", guildID, userID)
		meta[models.MetaAlreadyUnbanned] = true
	case err != nil:
		logger.Errorf("Automatic unban of %s/%s failed, will retry on restart: %v", guildID, userID, err)
		return fmt.Errorf("automatic unban of %s: %w", userID, err)
	}

	action, err := s.newAction(models.ActionUnban, guildID, s.dir.SelfID(), reasonBanExpired, meta)
	if err != nil {
		return err
	}
	if err := s.record(ctx, guildID, userID, action); err != nil {
		return err
	}

	r := succeed(action)
	r.AlreadyUnbanned = meta[models.MetaAlreadyUnbanned] == true
	detail := ""
	if r.AlreadyUnbanned {
		detail = "already unbanned"
	}
	s.finish(ctx, models.ActionUnban, guildID, target, r, detail)
	return nil
}
