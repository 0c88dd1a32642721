package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

var (
	ErrAlreadyJailed = errors.New("user is already jailed")
	ErrNotJailed     = errors.New("user is not jailed")
	ErrLifecycleKind = errors.New("jail and unjail actions must go through Jail and Unjail")
)

// User is the durable per-member record: jail backup, sticky roles, the
// moderation ledger and staff notes. It is only changed through its
// methods; stores persist it via Document.
//
// Invariant: IsJailed() == (len(originalRoles) > 0).
type User struct {
	guildID         snowflake.ID
	userID          snowflake.ID
	originalRoles   []snowflake.ID
	persistentRoles []snowflake.ID
	history         []ModerationAction
	staffNotes      []StaffNote
	createdAt       time.Time
	version         int64
}

// NewUser returns an empty, never persisted record.
func NewUser(guildID, userID snowflake.ID) *User {
	return &User{guildID: guildID, userID: userID}
}

func (u *User) GuildID() snowflake.ID { return u.guildID }
func (u *User) UserID() snowflake.ID  { return u.userID }

// Version is the store revision the record was loaded at; 0 means new.
func (u *User) Version() int64 { return u.version }

// MarkSaved is called by stores after a successful write.
func (u *User) MarkSaved(version int64) { u.version = version }

func (u *User) IsJailed() bool {
	return len(u.originalRoles) > 0
}

// BackedUpRoles returns the roles captured at jail time. The everyone
// role, kept as a placeholder for members jailed without any role, is
// not part of the result.
func (u *User) BackedUpRoles() []snowflake.ID {
	out := make([]snowflake.ID, 0, len(u.originalRoles))
	for _, id := range u.originalRoles {
		if id != u.guildID {
			out = append(out, id)
		}
	}
	return out
}

// Jail stores the role backup and appends the jail action.
func (u *User) Jail(backup []snowflake.ID, action ModerationAction) error {
	if u.IsJailed() {
		return ErrAlreadyJailed
	}
	if action.Kind != ActionJail {
		return fmt.Errorf("jail requires a %q action, got %q", ActionJail, action.Kind)
	}
	if err := ValidateReason(action.Reason); err != nil {
		return err
	}

	roles := dedupe(backup, u.guildID)
	if len(roles) == 0 {
		// the everyone role id equals the guild id; it marks a jailed
		// member that had nothing else to back up
		roles = []snowflake.ID{u.guildID}
	}
	u.originalRoles = roles
	u.history = append(u.history, action.clone())
	return nil
}

// Unjail clears the backup and appends the unjail action.
func (u *User) Unjail(action ModerationAction) error {
	if !u.IsJailed() {
		return ErrNotJailed
	}
	if action.Kind != ActionUnjail {
		return fmt.Errorf("unjail requires a %q action, got %q", ActionUnjail, action.Kind)
	}
	if err := ValidateReason(action.Reason); err != nil {
		return err
	}
	u.originalRoles = nil
	u.history = append(u.history, action.clone())
	return nil
}

// RecordAction appends any non-lifecycle action to the ledger.
func (u *User) RecordAction(action ModerationAction) error {
	if action.Kind == ActionJail || action.Kind == ActionUnjail {
		return ErrLifecycleKind
	}
	if !action.Kind.Valid() {
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
	if err := ValidateReason(action.Reason); err != nil {
		return err
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	u.history = append(u.history, action.clone())
	return nil
}

// History returns a copy of the ledger in chronological order.
func (u *User) History() []ModerationAction {
	out := make([]ModerationAction, len(u.history))
	for i, a := range u.history {
		out[i] = a.clone()
	}
	return out
}

// LastAction returns the most recent action of one of the given kinds.
func (u *User) LastAction(kinds ...ActionKind) (ModerationAction, bool) {
	for i := len(u.history) - 1; i >= 0; i-- {
		for _, k := range kinds {
			if u.history[i].Kind == k {
				return u.history[i].clone(), true
			}
		}
	}
	return ModerationAction{}, false
}

// PendingTempban returns the latest ban when it is temporary and no unban
// was recorded after it.
func (u *User) PendingTempban() (ModerationAction, bool) {
	last, ok := u.LastAction(ActionBan, ActionTempban, ActionUnban)
	if !ok || last.Kind == ActionUnban || !last.Temporary() {
		return ModerationAction{}, false
	}
	return last, true
}

// PendingTimedJail returns the current jail action when it has an expiry.
func (u *User) PendingTimedJail() (ModerationAction, bool) {
	if !u.IsJailed() {
		return ModerationAction{}, false
	}
	last, ok := u.LastAction(ActionJail)
	if !ok || !last.Temporary() {
		return ModerationAction{}, false
	}
	return last, true
}

// AddPersistentRoles unions ids (minus the everyone role) into the sticky
// set and reports how many were new.
func (u *User) AddPersistentRoles(ids []snowflake.ID) int {
	seen := make(map[snowflake.ID]struct{}, len(u.persistentRoles))
	for _, id := range u.persistentRoles {
		seen[id] = struct{}{}
	}
	added := 0
	for _, id := range ids {
		if id == u.guildID || id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		u.persistentRoles = append(u.persistentRoles, id)
		added++
	}
	return added
}

func (u *User) PersistentRoles() []snowflake.ID {
	return append([]snowflake.ID(nil), u.persistentRoles...)
}

func (u *User) AddStaffNote(note StaffNote) error {
	if err := note.validate(); err != nil {
		return err
	}
	u.staffNotes = append(u.staffNotes, note)
	return nil
}

func (u *User) StaffNotes() []StaffNote {
	return append([]StaffNote(nil), u.staffNotes...)
}

func dedupe(ids []snowflake.ID, skip snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == skip || id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UserDocument is the persisted shape of a User.
type UserDocument struct {
	GuildID           snowflake.ID       `json:"guildId"`
	UserID            snowflake.ID       `json:"userId"`
	OriginalRoles     []snowflake.ID     `json:"originalRoles"`
	PersistentRoles   []snowflake.ID     `json:"persistentRoles"`
	ModerationHistory []ModerationAction `json:"moderationHistory"`
	StaffNotes        []StaffNote        `json:"staffNotes"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// Document snapshots the record for persistence.
func (u *User) Document() UserDocument {
	created := u.createdAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return UserDocument{
		GuildID:           u.guildID,
		UserID:            u.userID,
		OriginalRoles:     append([]snowflake.ID(nil), u.originalRoles...),
		PersistentRoles:   u.PersistentRoles(),
		ModerationHistory: u.History(),
		StaffNotes:        u.StaffNotes(),
		CreatedAt:         created,
	}
}

// UserFromDocument rebuilds a record loaded at the given store version.
func UserFromDocument(doc UserDocument, version int64) *User {
	u := &User{
		guildID:         doc.GuildID,
		userID:          doc.UserID,
		originalRoles:   append([]snowflake.ID(nil), doc.OriginalRoles...),
		persistentRoles: append([]snowflake.ID(nil), doc.PersistentRoles...),
		history:         make([]ModerationAction, 0, len(doc.ModerationHistory)),
		staffNotes:      append([]StaffNote(nil), doc.StaffNotes...),
		createdAt:       doc.CreatedAt,
		version:         version,
	}
	for _, a := range doc.ModerationHistory {
		u.history = append(u.history, a.clone())
	}
	return u
}
