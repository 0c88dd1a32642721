package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/directory"
)

const (
	guildID   = snowflake.ID(1)
	ownerID   = snowflake.ID(2)
	botID     = snowflake.ID(3)
	modID     = snowflake.ID(4)
	memberID  = snowflake.ID(5)
	seniorID  = snowflake.ID(6)
	modRole   = snowflake.ID(10)
	botRole   = snowflake.ID(11)
	plainRole = snowflake.ID(12)
	highRole  = snowflake.ID(13)
)

type fakeSettings struct {
	role  snowflake.ID
	err   error
	calls int
}

func (s *fakeSettings) ModeratorRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	s.calls++
	return s.role, s.err
}

type fixture struct {
	dir      *directory.Memory
	settings *fakeSettings
	clock    *clockwork.FakeClock
	gate     *Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemory(botID)
	dir.AddGuild(directory.Guild{
		ID:      guildID,
		OwnerID: ownerID,
		Roles: []directory.Role{
			{ID: plainRole, Position: 1},
			{ID: modRole, Position: 5},
			{ID: botRole, Position: 8},
			{ID: highRole, Position: 9},
		},
	})
	dir.AddMember(directory.Member{GuildID: guildID, UserID: botID, RoleIDs: []snowflake.ID{botRole}})
	dir.AddMember(directory.Member{GuildID: guildID, UserID: ownerID})

	settings := &fakeSettings{role: modRole}
	clk := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return &fixture{
		dir:      dir,
		settings: settings,
		clock:    clk,
		gate:     New(dir, settings, Options{CacheTTL: 5 * time.Minute, CacheSize: 3, Clock: clk}),
	}
}

func moderator() directory.Member {
	return directory.Member{
		GuildID:     guildID,
		UserID:      modID,
		RoleIDs:     []snowflake.ID{modRole},
		Permissions: directory.PermissionBanMembers | directory.PermissionKickMembers,
	}
}

func target(id snowflake.ID, roles ...snowflake.ID) directory.Target {
	return directory.MemberTarget{Member: directory.Member{GuildID: guildID, UserID: id, RoleIDs: roles}}
}

var banReq = Requirements{
	Permissions:      directory.PermissionBanMembers,
	RequireModerator: true,
	CheckHierarchy:   true,
	Destructive:      true,
}

func TestAuthorizeAllowsModeratorOverLowerMember(t *testing.T) {
	f := newFixture(t)
	d, err := f.gate.Authorize(context.Background(), moderator(), target(memberID, plainRole), banReq)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorizeDenials(t *testing.T) {
	tests := []struct {
		name   string
		actor  func() directory.Member
		target directory.Target
		code   Code
	}{
		{
			name: "missing platform permission",
			actor: func() directory.Member {
				m := moderator()
				m.Permissions = directory.PermissionKickMembers
				return m
			},
			target: target(memberID, plainRole),
			code:   CodePermissionDenied,
		},
		{
			name: "missing moderator role",
			actor: func() directory.Member {
				m := moderator()
				m.RoleIDs = []snowflake.ID{plainRole}
				return m
			},
			target: target(memberID),
			code:   CodePermissionDenied,
		},
		{
			name:   "self action",
			actor:  moderator,
			target: target(modID, modRole),
			code:   CodeSelfAction,
		},
		{
			name:   "target is owner",
			actor:  moderator,
			target: directory.AccountTarget{UserID: ownerID},
			code:   CodeHierarchy,
		},
		{
			name:   "equal rank",
			actor:  moderator,
			target: target(memberID, modRole),
			code:   CodeHierarchy,
		},
		{
			name: "bot outranked",
			actor: func() directory.Member {
				m := moderator()
				m.RoleIDs = append(m.RoleIDs, highRole)
				m.UserID = seniorID
				return m
			},
			target: target(memberID, botRole),
			code:   CodeHierarchy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d, err := f.gate.Authorize(context.Background(), tt.actor(), tt.target, banReq)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, tt.code, d.Code)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestAuthorizeOwnerBypassesActorChecks(t *testing.T) {
	f := newFixture(t)
	owner := directory.Member{GuildID: guildID, UserID: ownerID}

	d, err := f.gate.Authorize(context.Background(), owner, target(memberID, modRole), banReq)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.gate.Authorize(context.Background(), owner, target(memberID, highRole), banReq)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "the bot still has to outrank the target")
	assert.Equal(t, CodeHierarchy, d.Code)
}

func TestAuthorizeAccountTargetSkipsHierarchy(t *testing.T) {
	f := newFixture(t)
	d, err := f.gate.Authorize(context.Background(), moderator(), directory.AccountTarget{UserID: 77}, banReq)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorizeWithoutConfiguredModeratorRole(t *testing.T) {
	f := newFixture(t)
	f.settings.role = 0

	actor := moderator()
	actor.RoleIDs = []snowflake.ID{highRole}
	d, err := f.gate.Authorize(context.Background(), actor, target(memberID, plainRole), banReq)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestModeratorLookupIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.gate.Authorize(ctx, moderator(), nil, banReq)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.settings.calls)

	f.clock.Advance(5 * time.Minute)
	_, err := f.gate.Authorize(ctx, moderator(), nil, banReq)
	require.NoError(t, err)
	assert.Equal(t, 2, f.settings.calls, "expired entries are looked up again")

	f.gate.ClearCache(guildID)
	_, err = f.gate.Authorize(ctx, moderator(), nil, banReq)
	require.NoError(t, err)
	assert.Equal(t, 3, f.settings.calls)
}

func TestSettingsErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.settings.err = errors.New("db down")

	_, err := f.gate.Authorize(context.Background(), moderator(), nil, banReq)
	assert.Error(t, err)
}

func TestCacheSweepsPastBound(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	c := newModeratorCache(clk, time.Minute, 2)

	c.Add(1, 1, true)
	c.Add(1, 2, true)
	clk.Advance(2 * time.Minute)
	c.Add(1, 3, true)
	assert.Equal(t, 1, c.Len(), "expired entries are swept once the bound is exceeded")

	c.Add(1, 4, true)
	c.Add(2, 5, true)
	assert.Equal(t, 0, c.Len(), "live entries over the bound reset the cache")

	c.Add(1, 6, false)
	c.Add(2, 7, true)
	c.ClearGuild(1)
	_, ok := c.Get(1, 6)
	assert.False(t, ok)
	v, ok := c.Get(2, 7)
	assert.True(t, ok)
	assert.True(t, v)

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
}
