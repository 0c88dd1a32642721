// Package discord adapts the Discord REST API to directory.Directory.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/directory"
)

// Discord JSON error codes, see
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#json-json-error-codes
const (
	codeUnknownMember rest.JSONErrorCode = 10007
	codeUnknownUser   rest.JSONErrorCode = 10013
	codeUnknownBan    rest.JSONErrorCode = 10026
)

// restClient is the subset of rest.Rest the adapter calls.
type restClient interface {
	GetGuild(guildID snowflake.ID, withCounts bool, opts ...rest.RequestOpt) (*discord.RestGuild, error)
	GetRoles(guildID snowflake.ID, opts ...rest.RequestOpt) ([]discord.Role, error)
	GetMember(guildID snowflake.ID, userID snowflake.ID, opts ...rest.RequestOpt) (*discord.Member, error)
	UpdateMember(guildID snowflake.ID, userID snowflake.ID, memberUpdate discord.MemberUpdate, opts ...rest.RequestOpt) (*discord.Member, error)
	AddMemberRole(guildID snowflake.ID, userID snowflake.ID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	RemoveMember(guildID snowflake.ID, userID snowflake.ID, opts ...rest.RequestOpt) error
	AddBan(guildID snowflake.ID, userID snowflake.ID, deleteMessageDuration time.Duration, opts ...rest.RequestOpt) error
	DeleteBan(guildID snowflake.ID, userID snowflake.ID, opts ...rest.RequestOpt) error
	GetBan(guildID snowflake.ID, userID snowflake.ID, opts ...rest.RequestOpt) (*discord.Ban, error)
}

// Directory talks to Discord over REST on every call; guild state is never
// cached here so role positions are always current.
type Directory struct {
	rest   restClient
	selfID snowflake.ID
}

func NewDirectory(client restClient, selfID snowflake.ID) *Directory {
	return &Directory{rest: client, selfID: selfID}
}

func (d *Directory) SelfID() snowflake.ID { return d.selfID }

func (d *Directory) Guild(ctx context.Context, guildID snowflake.ID) (directory.Guild, error) {
	g, err := d.rest.GetGuild(guildID, false, rest.WithCtx(ctx))
	if err != nil {
		return directory.Guild{}, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	roles, err := d.rest.GetRoles(guildID, rest.WithCtx(ctx))
	if err != nil {
		return directory.Guild{}, fmt.Errorf("get roles of guild %s: %w", guildID, err)
	}
	return directory.Guild{
		ID:      guildID,
		OwnerID: g.OwnerID,
		Roles:   toRoles(roles),
	}, nil
}

func (d *Directory) Member(ctx context.Context, guildID, userID snowflake.ID) (directory.Member, error) {
	m, err := d.rest.GetMember(guildID, userID, rest.WithCtx(ctx))
	if err != nil {
		if hasCode(err, codeUnknownMember, codeUnknownUser) {
			return directory.Member{}, directory.ErrMemberNotFound
		}
		return directory.Member{}, fmt.Errorf("get member %s: %w", userID, err)
	}

	g, err := d.rest.GetGuild(guildID, false, rest.WithCtx(ctx))
	if err != nil {
		return directory.Member{}, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	roles, err := d.rest.GetRoles(guildID, rest.WithCtx(ctx))
	if err != nil {
		return directory.Member{}, fmt.Errorf("get roles of guild %s: %w", guildID, err)
	}

	return directory.Member{
		GuildID:     guildID,
		UserID:      userID,
		DisplayName: displayName(*m),
		RoleIDs:     append([]snowflake.ID(nil), m.RoleIDs...),
		Permissions: memberPermissions(guildID, g.OwnerID, userID, m.RoleIDs, roles),
	}, nil
}

func (d *Directory) SetMemberRoles(ctx context.Context, guildID, userID snowflake.ID, roleIDs []snowflake.ID, reason string) error {
	roles := append([]snowflake.ID{}, roleIDs...)
	_, err := d.rest.UpdateMember(guildID, userID, discord.MemberUpdate{Roles: &roles}, rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return d.memberError("set roles of", userID, err)
	}
	return nil
}

func (d *Directory) AddMemberRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	if err := d.rest.AddMemberRole(guildID, userID, roleID, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return d.memberError("add role to", userID, err)
	}
	return nil
}

func (d *Directory) Kick(ctx context.Context, guildID, userID snowflake.ID, reason string) error {
	if err := d.rest.RemoveMember(guildID, userID, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return d.memberError("kick", userID, err)
	}
	return nil
}

func (d *Directory) Ban(ctx context.Context, guildID, userID snowflake.ID, reason string, retentionDays int) error {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	if err := d.rest.AddBan(guildID, userID, retention, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("ban %s: %w", userID, err)
	}
	return nil
}

func (d *Directory) Unban(ctx context.Context, guildID, userID snowflake.ID, reason string) error {
	if err := d.rest.DeleteBan(guildID, userID, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		if hasCode(err, codeUnknownBan) {
			return directory.ErrBanNotFound
		}
		return fmt.Errorf("unban %s: %w", userID, err)
	}
	return nil
}

func (d *Directory) FetchBan(ctx context.Context, guildID, userID snowflake.ID) (directory.Ban, error) {
	ban, err := d.rest.GetBan(guildID, userID, rest.WithCtx(ctx))
	if err != nil {
		if hasCode(err, codeUnknownBan) {
			return directory.Ban{}, directory.ErrBanNotFound
		}
		return directory.Ban{}, fmt.Errorf("get ban %s: %w", userID, err)
	}
	out := directory.Ban{UserID: ban.User.ID}
	if ban.Reason != nil {
		out.Reason = *ban.Reason
	}
	return out, nil
}

func (d *Directory) memberError(op string, userID snowflake.ID, err error) error {
	if hasCode(err, codeUnknownMember) {
		return directory.ErrMemberNotFound
	}
	return fmt.Errorf("%s %s: %w", op, userID, err)
}

// hasCode reports whether err carries one of the given Discord error codes.
// The rest client returns rest.Error by value.
func hasCode(err error, codes ...rest.JSONErrorCode) bool {
	var code rest.JSONErrorCode
	var re rest.Error
	var rp *rest.Error
	switch {
	case errors.As(err, &re):
		code = re.Code
	case errors.As(err, &rp) && rp != nil:
		code = rp.Code
	default:
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

func toRoles(roles []discord.Role) []directory.Role {
	out := make([]directory.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, directory.Role{
			ID:       r.ID,
			Name:     r.Name,
			Position: r.Position,
			Managed:  r.Managed,
		})
	}
	return out
}

// memberPermissions ORs the everyone role with every role the member holds.
// The guild owner holds every permission.
func memberPermissions(guildID, ownerID, userID snowflake.ID, roleIDs []snowflake.ID, roles []discord.Role) directory.Permissions {
	if userID == ownerID {
		return directory.PermissionAdministrator
	}
	held := make(map[snowflake.ID]struct{}, len(roleIDs)+1)
	held[guildID] = struct{}{}
	for _, id := range roleIDs {
		held[id] = struct{}{}
	}

	var perms directory.Permissions
	for _, r := range roles {
		if _, ok := held[r.ID]; ok {
			perms |= directory.Permissions(r.Permissions)
		}
	}
	return perms
}

func displayName(m discord.Member) string {
	if m.Nick != nil && *m.Nick != "" {
		return *m.Nick
	}
	return m.User.EffectiveName()
}
