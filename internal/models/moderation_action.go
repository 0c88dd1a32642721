package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

// ActionKind names a moderation action recorded in a user's history.
type ActionKind string

const (
	ActionWarn    ActionKind = "warn"
	ActionKick    ActionKind = "kick"
	ActionBan     ActionKind = "ban"
	ActionTempban ActionKind = "tempban"
	ActionUnban   ActionKind = "unban"
	ActionJail    ActionKind = "jail"
	ActionUnjail  ActionKind = "unjail"
	ActionMute    ActionKind = "mute"
	ActionUnmute  ActionKind = "unmute"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionWarn, ActionKick, ActionBan, ActionTempban, ActionUnban,
		ActionJail, ActionUnjail, ActionMute, ActionUnmute:
		return true
	}
	return false
}

// Metadata keys. Readers must tolerate any of them being absent.
const (
	MetaGuildID           = "guildId"
	MetaPermanent         = "permanent"
	MetaExpiresAt         = "expiresAt"
	MetaDurationMs        = "durationMs"
	MetaDeleteMessageDays = "deleteMessageDays"
	MetaRolesBackedUp     = "rolesBackedUp"
	MetaJailRoleID        = "jailRoleId"
	MetaJailChannelID     = "jailChannelId"
	MetaRolesRestored     = "rolesRestored"
	MetaRolesNotRestored  = "rolesNotRestored"
	MetaAutomatic         = "automatic"
	MetaAlreadyUnbanned   = "alreadyUnbanned"
)

const MaxReasonLength = 500

var ErrInvalidReason = errors.New("reason must be between 1 and 500 characters")

// ValidateReason checks the 1..500 character bound.
func ValidateReason(reason string) error {
	n := utf8.RuneCountInString(reason)
	if n < 1 || n > MaxReasonLength {
		return ErrInvalidReason
	}
	return nil
}

// Metadata is an open key/value map attached to a ModerationAction. New
// kinds may add keys freely; values are kept in their JSON-decoded shape
// (strings for ids and times, numbers, booleans).
type Metadata map[string]interface{}

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetID stores a snowflake in its string form.
func (m Metadata) SetID(key string, id snowflake.ID) Metadata {
	m[key] = id.String()
	return m
}

// SetTime stores t as RFC 3339 text so it survives a JSON round trip unchanged.
func (m Metadata) SetTime(key string, t time.Time) Metadata {
	m[key] = t.UTC().Format(time.RFC3339Nano)
	return m
}

func (m Metadata) Bool(key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

func (m Metadata) Int64(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (m Metadata) Time(key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}

func (m Metadata) ID(key string) (snowflake.ID, bool) {
	switch v := m[key].(type) {
	case snowflake.ID:
		return v, true
	case string:
		id, err := snowflake.Parse(v)
		return id, err == nil
	case float64:
		return snowflake.ID(v), true
	}
	return 0, false
}

// ModerationAction is one immutable ledger entry.
type ModerationAction struct {
	ID          string       `json:"id"`
	Kind        ActionKind   `json:"type"`
	ModeratorID snowflake.ID `json:"moderatorId"`
	Reason      string       `json:"reason"`
	Timestamp   time.Time    `json:"timestamp"`
	Metadata    Metadata     `json:"metadata,omitempty"`
}

// NewAction builds a validated action with a fresh id.
func NewAction(kind ActionKind, moderatorID snowflake.ID, reason string, at time.Time, meta Metadata) (ModerationAction, error) {
	if !kind.Valid() {
		return ModerationAction{}, fmt.Errorf("unknown action kind %q", kind)
	}
	if err := ValidateReason(reason); err != nil {
		return ModerationAction{}, err
	}
	if meta == nil {
		meta = Metadata{}
	}
	return ModerationAction{
		ID:          uuid.NewString(),
		Kind:        kind,
		ModeratorID: moderatorID,
		Reason:      reason,
		Timestamp:   at.UTC(),
		Metadata:    meta,
	}, nil
}

func (a ModerationAction) clone() ModerationAction {
	a.Metadata = a.Metadata.clone()
	return a
}

// IsBan reports whether the action is a ban of either kind.
func (a ModerationAction) IsBan() bool {
	return a.Kind == ActionBan || a.Kind == ActionTempban
}

// Temporary reports whether a ban record carries an expiry. Records
// without the permanent flag are treated as permanent.
func (a ModerationAction) Temporary() bool {
	if !a.IsBan() && a.Kind != ActionJail {
		return false
	}
	if a.Kind == ActionJail {
		_, ok := a.Metadata.Time(MetaExpiresAt)
		return ok
	}
	permanent, ok := a.Metadata.Bool(MetaPermanent)
	return ok && !permanent
}

// ExpiresAt returns the expiry of a temporary action.
func (a ModerationAction) ExpiresAt() (time.Time, bool) {
	return a.Metadata.Time(MetaExpiresAt)
}

// Automatic reports whether the action was taken by the bot without a moderator.
func (a ModerationAction) Automatic() bool {
	v, _ := a.Metadata.Bool(MetaAutomatic)
	return v
}
