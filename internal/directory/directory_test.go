package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsHas(t *testing.T) {
	p := PermissionKickMembers | PermissionBanMembers
	assert.True(t, p.Has(PermissionKickMembers))
	assert.True(t, p.Has(PermissionKickMembers|PermissionBanMembers))
	assert.False(t, p.Has(PermissionManageRoles))
	assert.True(t, PermissionAdministrator.Has(PermissionManageRoles|PermissionModerateMembers))
}

func TestHighestPosition(t *testing.T) {
	g := Guild{ID: 1, Roles: []Role{{ID: 1}, {ID: 2, Position: 3}, {ID: 3, Position: 7}}}
	assert.Equal(t, 7, g.HighestPosition([]snowflake.ID{2, 3}))
	assert.Equal(t, 0, g.HighestPosition(nil))
	assert.Equal(t, 0, g.HighestPosition([]snowflake.ID{99}))
}

func TestTargetVariant(t *testing.T) {
	var target Target = MemberTarget{Member: Member{UserID: 5, DisplayName: "five"}}
	m, ok := AsMember(target)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(5), m.UserID)
	assert.Equal(t, "five", target.Name())

	target = AccountTarget{UserID: 6}
	_, ok = AsMember(target)
	assert.False(t, ok)
	assert.Equal(t, "6", target.Name())
	assert.Equal(t, snowflake.ID(6), target.TargetID())
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(100)
	d.AddGuild(Guild{ID: 1, OwnerID: 2, Roles: []Role{{ID: 10, Position: 1}, {ID: 11, Position: 2}}})
	d.AddMember(Member{GuildID: 1, UserID: 3, RoleIDs: []snowflake.ID{10}})

	g, err := d.Guild(ctx, 1)
	require.NoError(t, err)
	_, ok := g.Role(1)
	assert.True(t, ok, "everyone role is added")

	require.NoError(t, d.SetMemberRoles(ctx, 1, 3, []snowflake.ID{11}, "r"))
	require.NoError(t, d.AddMemberRole(ctx, 1, 3, 10, "r"))
	m, err := d.Member(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{11, 10}, m.RoleIDs)

	d.DeleteRole(1, 11)
	m, err = d.Member(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{10}, m.RoleIDs)

	require.NoError(t, d.Ban(ctx, 1, 3, "r", 0))
	_, err = d.Member(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.True(t, d.IsBanned(1, 3))

	require.NoError(t, d.Unban(ctx, 1, 3, "r"))
	assert.ErrorIs(t, d.Unban(ctx, 1, 3, "r"), ErrBanNotFound)
	_, err = d.FetchBan(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrBanNotFound)

	boom := errors.New("boom")
	d.Fail("Kick", boom)
	assert.ErrorIs(t, d.Kick(ctx, 1, 3, "r"), boom)
	assert.Equal(t, 1, d.Calls("Kick"))
}
