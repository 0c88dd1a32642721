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

const reasonJailExpired = "Timed jail expired"

// JailUser backs up the member's roles, confines them to the jail role
// and records the jail. A positive duration schedules an automatic unjail.
func (s *Service) JailUser(ctx context.Context, actor directory.Member, target directory.Target, reason string, duration time.Duration) (Result, error) {
	guildID := actor.GuildID
	done := func(r Result) (Result, error) {
		return s.finish(ctx, models.ActionJail, guildID, target, r, ""), nil
	}

	if models.ValidateReason(reason) != nil {
		return done(invalidReason())
	}
	if duration != 0 {
		if r := s.validateDuration(duration); r != nil {
			return done(*r)
		}
	}

	jailRole, jailChannel, err := s.jailConfig(ctx, guildID)
	if err != nil {
		return Result{}, err
	}
	if jailRole == 0 || jailChannel == 0 {
		return done(fail(FailureNotConfigured, "jail role and jail channel must be configured"))
	}

	if _, ok := directory.AsMember(target); !ok {
		return done(fail(FailureMemberNotFound, "user is not a member of this server"))
	}
	if denied, err := s.authorize(ctx, actor, target, reqJail); err != nil || denied != nil {
		return s.finishDenied(ctx, models.ActionJail, guildID, target, denied, err)
	}

	userID := target.TargetID()
	unlock := s.lockMember(guildID, userID)
	defer unlock()

	record, err := s.ledger.Get(ctx, guildID, userID)
	if err != nil {
		return Result{}, err
	}
	if record.IsJailed() {
		return done(fail(FailureAlreadyJailed, "user is already jailed"))
	}

	member, missing, err := s.liveMember(ctx, guildID, userID)
	if err != nil || missing != nil {
		if err != nil {
			return Result{}, err
		}
		return done(*missing)
	}
	guild, err := s.dir.Guild(ctx, guildID)
	if err != nil {
		return Result{}, fmt.Errorf("load guild %s: %w", guildID, err)
	}

	backup, kept := splitRoles(guild, member.RoleIDs, jailRole)
	live := append([]snowflake.ID{jailRole}, kept...)

	meta := models.Metadata{models.MetaRolesBackedUp: len(backup)}
	meta.SetID(models.MetaJailRoleID, jailRole)
	meta.SetID(models.MetaJailChannelID, jailChannel)
	var expiresAt time.Time
	if duration > 0 {
		expiresAt = s.clock.Now().Add(duration)
		meta.SetTime(models.MetaExpiresAt, expiresAt)
		meta[models.MetaDurationMs] = duration.Milliseconds()
	}
	action, err := s.newAction(models.ActionJail, guildID, actor.UserID, reason, meta)
	if err != nil {
		return Result{}, err
	}

	if err := s.dir.SetMemberRoles(ctx, guildID, userID, live, reason); err != nil {
		return Result{}, fmt.Errorf("replace roles of %s: %w", userID, err)
	}

	_, err = s.ledger.Update(ctx, guildID, userID, func(u *models.User) error {
		return u.Jail(backup, action)
	})
	if errors.Is(err, models.ErrAlreadyJailed) {
		// another process jailed the member between our read and write
		s.diverged(models.ActionJail, guildID, userID, err)
		return done(fail(FailureAlreadyJailed, "user is already jailed"))
	}
	if err != nil {
		return Result{}, s.diverged(models.ActionJail, guildID, userID, err)
	}

	if duration > 0 {
		key := reversal.Key{GuildID: guildID, UserID: userID, Kind: reversal.KindUnjail}
		s.scheduler.Cancel(key)
		if err := s.scheduler.Schedule(key, expiresAt); err != nil {
			logger.Errorf("Failed to schedule unjail of %s/%s: %v", guildID, userID, err)
		}
	}

	r := succeed(action)
	r.RolesBackedUp = len(backup)
	r.Duration = duration
	r.ExpiresAt = expiresAt
	return done(r)
}

// UnjailUser restores the backed-up roles that still exist and are
// assignable, and records the unjail.
func (s *Service) UnjailUser(ctx context.Context, actor directory.Member, target directory.Target, reason string) (Result, error) {
	guildID := actor.GuildID
	if models.ValidateReason(reason) != nil {
		return s.finish(ctx, models.ActionUnjail, guildID, target, invalidReason(), ""), nil
	}
	if _, ok := directory.AsMember(target); !ok {
		return s.finish(ctx, models.ActionUnjail, guildID, target, fail(FailureMemberNotFound, "user is not a member of this server"), ""), nil
	}
	if denied, err := s.authorize(ctx, actor, target, reqUnjail); err != nil || denied != nil {
		return s.finishDenied(ctx, models.ActionUnjail, guildID, target, denied, err)
	}
	return s.unjail(ctx, guildID, target, actor.UserID, reason, false)
}

func (s *Service) unjail(ctx context.Context, guildID snowflake.ID, target directory.Target, moderatorID snowflake.ID, reason string, automatic bool) (Result, error) {
	userID := target.TargetID()
	done := func(r Result, detail string) (Result, error) {
		return s.finish(ctx, models.ActionUnjail, guildID, target, r, detail), nil
	}

	unlock := s.lockMember(guildID, userID)
	defer unlock()

	record, err := s.ledger.Get(ctx, guildID, userID)
	if err != nil {
		return Result{}, err
	}
	if !record.IsJailed() {
		return done(fail(FailureNotJailed, "user is not jailed"), "")
	}
	if automatic {
		if _, timed := record.PendingTimedJail(); !timed {
			return done(fail(FailureNotJailed, "current jail has no expiry"), "")
		}
	}

	member, missing, err := s.liveMember(ctx, guildID, userID)
	if err != nil || missing != nil {
		if err != nil {
			return Result{}, err
		}
		return done(*missing, "")
	}
	guild, err := s.dir.Guild(ctx, guildID)
	if err != nil {
		return Result{}, fmt.Errorf("load guild %s: %w", guildID, err)
	}
	self, err := s.dir.Member(ctx, guildID, s.dir.SelfID())
	if err != nil {
		return Result{}, fmt.Errorf("load bot member: %w", err)
	}
	botTop := guild.HighestPosition(self.RoleIDs)

	jailRole, _, err := s.jailConfig(ctx, guildID)
	if err != nil {
		return Result{}, err
	}

	var valid, invalid []snowflake.ID
	for _, id := range record.BackedUpRoles() {
		role, ok := guild.Role(id)
		if !ok || role.Managed || role.Position >= botTop {
			invalid = append(invalid, id)
			continue
		}
		valid = append(valid, id)
	}

	_, kept := splitRoles(guild, member.RoleIDs, jailRole)
	live := append(append([]snowflake.ID{}, valid...), kept...)

	meta := models.Metadata{
		models.MetaRolesRestored:    len(valid),
		models.MetaRolesNotRestored: len(invalid),
	}
	if automatic {
		meta[models.MetaAutomatic] = true
	}
	action, err := s.newAction(models.ActionUnjail, guildID, moderatorID, reason, meta)
	if err != nil {
		return Result{}, err
	}

	if err := s.dir.SetMemberRoles(ctx, guildID, userID, live, reason); err != nil {
		return Result{}, fmt.Errorf("restore roles of %s: %w", userID, err)
	}

	_, err = s.ledger.Update(ctx, guildID, userID, func(u *models.User) error {
		return u.Unjail(action)
	})
	if errors.Is(err, models.ErrNotJailed) {
		s.diverged(models.ActionUnjail, guildID, userID, err)
		return done(fail(FailureNotJailed, "user is not jailed"), "")
	}
	if err != nil {
		return Result{}, s.diverged(models.ActionUnjail, guildID, userID, err)
	}

	s.scheduler.Cancel(reversal.Key{GuildID: guildID, UserID: userID, Kind: reversal.KindUnjail})

	r := succeed(action)
	r.RolesRestored = len(valid)
	r.RolesNotRestored = invalid
	detail := fmt.Sprintf("%d roles restored", len(valid))
	if len(invalid) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d roles could not be restored", len(invalid)))
		detail = fmt.Sprintf("%s, %d could not be restored", detail, len(invalid))
	}
	return done(r, detail)
}

func (s *Service) jailConfig(ctx context.Context, guildID snowflake.ID) (snowflake.ID, snowflake.ID, error) {
	role, err := s.config.JailRole(ctx, guildID)
	if err != nil {
		return 0, 0, fmt.Errorf("load jail role of %s: %w", guildID, err)
	}
	channel, err := s.config.JailChannel(ctx, guildID)
	if err != nil {
		return 0, 0, fmt.Errorf("load jail channel of %s: %w", guildID, err)
	}
	return role, channel, nil
}

// splitRoles separates a member's roles into the ones a jail backs up and
// the platform-managed ones that must stay on the member. The everyone
// role and the jail role belong to neither.
func splitRoles(guild directory.Guild, roleIDs []snowflake.ID, jailRole snowflake.ID) (backup, managed []snowflake.ID) {
	for _, id := range roleIDs {
		if id == guild.Everyone() || id == jailRole {
			continue
		}
		if role, ok := guild.Role(id); ok && role.Managed {
			managed = append(managed, id)
			continue
		}
		backup = append(backup, id)
	}
	return backup, managed
}
