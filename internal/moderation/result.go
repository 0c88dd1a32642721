package moderation

import (
	"time"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/models"
)

// FailureType classifies an expected, user-correctable outcome.
type FailureType string

const (
	FailureAlreadyJailed    FailureType = "already_jailed"
	FailureNotJailed        FailureType = "not_jailed"
	FailurePermissionDenied FailureType = "permission_denied"
	FailureHierarchy        FailureType = "hierarchy_error"
	FailureSelfAction       FailureType = "self_action"
	FailureInvalidDuration  FailureType = "invalid_duration"
	FailureInvalidReason    FailureType = "invalid_reason"
	FailureAlreadyBanned    FailureType = "already_banned"
	FailureNotBanned        FailureType = "not_banned"
	FailureNotConfigured    FailureType = "not_configured"
	FailureMemberNotFound   FailureType = "member_not_found"
)

// Result is returned by every operation. Business-rule failures have
// Success=false with Type and Error set; infrastructure failures are
// returned as a separate error instead.
type Result struct {
	Success bool
	Error   string
	Type    FailureType

	// Action is the ledger entry written, if any.
	Action *models.ModerationAction

	RolesBackedUp    int
	RolesRestored    int
	RolesNotRestored []snowflake.ID
	Warnings         []string

	Duration        time.Duration
	ExpiresAt       time.Time
	AlreadyUnbanned bool

	History    []models.ModerationAction
	StaffNotes []models.StaffNote
}

func fail(t FailureType, msg string) Result {
	return Result{Type: t, Error: msg}
}

func succeed(action models.ModerationAction) Result {
	return Result{Success: true, Action: &action}
}

// label is the metrics result label.
func (r Result) label() string {
	if r.Success {
		return "ok"
	}
	return string(r.Type)
}
