// Package directory describes the live view of a guild the moderation core
// works against: members, their roles, and bans.
package directory

import (
	"context"
	"errors"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrBanNotFound    = errors.New("ban not found")
)

// Permissions mirrors the platform permission bit set.
type Permissions uint64

const (
	PermissionKickMembers     Permissions = 1 << 1
	PermissionBanMembers      Permissions = 1 << 2
	PermissionAdministrator   Permissions = 1 << 3
	PermissionManageRoles     Permissions = 1 << 28
	PermissionModerateMembers Permissions = 1 << 40
)

// Has reports whether every bit of required is set. Administrator implies all.
func (p Permissions) Has(required Permissions) bool {
	if p&PermissionAdministrator != 0 {
		return true
	}
	return p&required == required
}

type Role struct {
	ID       snowflake.ID
	Name     string
	Position int
	Managed  bool
}

type Guild struct {
	ID      snowflake.ID
	OwnerID snowflake.ID
	Roles   []Role
}

// Everyone returns the id of the everyone role, which equals the guild id.
func (g Guild) Everyone() snowflake.ID {
	return g.ID
}

func (g Guild) Role(id snowflake.ID) (Role, bool) {
	for _, r := range g.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// HighestPosition returns the top position among roleIDs. Members with no
// role, or only unknown roles, sit at position 0 with the everyone role.
func (g Guild) HighestPosition(roleIDs []snowflake.ID) int {
	highest := 0
	for _, id := range roleIDs {
		if r, ok := g.Role(id); ok && r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

type Member struct {
	GuildID     snowflake.ID
	UserID      snowflake.ID
	DisplayName string
	RoleIDs     []snowflake.ID
	Permissions Permissions
}

func (m Member) HasRole(id snowflake.ID) bool {
	for _, r := range m.RoleIDs {
		if r == id {
			return true
		}
	}
	return false
}

type Ban struct {
	UserID snowflake.ID
	Reason string
}

// Directory is the live member and ban API of the chat platform.
type Directory interface {
	// SelfID is the bot's own user id.
	SelfID() snowflake.ID

	Guild(ctx context.Context, guildID snowflake.ID) (Guild, error)

	// Member returns ErrMemberNotFound when the user is not in the guild.
	Member(ctx context.Context, guildID, userID snowflake.ID) (Member, error)

	// SetMemberRoles replaces the member's role set.
	SetMemberRoles(ctx context.Context, guildID, userID snowflake.ID, roleIDs []snowflake.ID, reason string) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error

	Kick(ctx context.Context, guildID, userID snowflake.ID, reason string) error
	Ban(ctx context.Context, guildID, userID snowflake.ID, reason string, retentionDays int) error

	// Unban and FetchBan return ErrBanNotFound when the user is not banned.
	Unban(ctx context.Context, guildID, userID snowflake.ID, reason string) error
	FetchBan(ctx context.Context, guildID, userID snowflake.ID) (Ban, error)
}
