package moderation

import (
	"context"
	"errors"

	"guildwarden/internal/directory"
	"guildwarden/internal/metrics"
	"guildwarden/internal/models"
)

// AddStaffNote attaches a moderator note to the target's record.
func (s *Service) AddStaffNote(ctx context.Context, actor directory.Member, target directory.Target, content string) (Result, error) {
	note, err := models.NewStaffNote(actor.UserID, content, s.clock.Now())
	if errors.Is(err, models.ErrInvalidNote) {
		metrics.ActionsTotal.WithLabelValues("note", string(FailureInvalidReason)).Inc()
		return fail(FailureInvalidReason, err.Error()), nil
	}
	if denied, err := s.authorize(ctx, actor, target, reqReview); err != nil || denied != nil {
		if err != nil {
			return Result{}, err
		}
		return *denied, nil
	}

	u, err := s.ledger.Update(ctx, actor.GuildID, target.TargetID(), func(u *models.User) error {
		return u.AddStaffNote(note)
	})
	if err != nil {
		return Result{}, err
	}
	metrics.ActionsTotal.WithLabelValues("note", "ok").Inc()
	return Result{Success: true, StaffNotes: u.StaffNotes()}, nil
}

// History returns the target's moderation history and staff notes.
func (s *Service) History(ctx context.Context, actor directory.Member, target directory.Target) (Result, error) {
	if denied, err := s.authorize(ctx, actor, nil, reqReview); err != nil || denied != nil {
		if err != nil {
			return Result{}, err
		}
		return *denied, nil
	}

	u, err := s.ledger.Get(ctx, actor.GuildID, target.TargetID())
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, History: u.History(), StaffNotes: u.StaffNotes()}, nil
}
