package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Memory is an in-process Directory used by tests and local runs.
// Failures can be injected per operation name through Fail.
type Memory struct {
	mu     sync.Mutex
	self   snowflake.ID
	guilds map[snowflake.ID]*memoryGuild
	fail   map[string]error
	calls  map[string]int
}

type memoryGuild struct {
	guild   Guild
	members map[snowflake.ID]Member
	bans    map[snowflake.ID]Ban
}

var _ Directory = (*Memory)(nil)

func NewMemory(self snowflake.ID) *Memory {
	return &Memory{
		self:   self,
		guilds: make(map[snowflake.ID]*memoryGuild),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// AddGuild registers a guild, adding the everyone role when missing.
func (m *Memory) AddGuild(g Guild) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := g.Role(g.ID); !ok {
		g.Roles = append([]Role{{ID: g.ID, Name: "@everyone"}}, g.Roles...)
	}
	m.guilds[g.ID] = &memoryGuild{
		guild:   g,
		members: make(map[snowflake.ID]Member),
		bans:    make(map[snowflake.ID]Ban),
	}
}

func (m *Memory) AddMember(mem Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.mustGuild(mem.GuildID)
	mem.RoleIDs = append([]snowflake.ID(nil), mem.RoleIDs...)
	g.members[mem.UserID] = mem
}

func (m *Memory) RemoveMember(guildID, userID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mustGuild(guildID).members, userID)
}

// DeleteRole removes a role from the guild and from every member.
func (m *Memory) DeleteRole(guildID, roleID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.mustGuild(guildID)
	roles := g.guild.Roles[:0]
	for _, r := range g.guild.Roles {
		if r.ID != roleID {
			roles = append(roles, r)
		}
	}
	g.guild.Roles = roles
	for id, mem := range g.members {
		mem.RoleIDs = without(mem.RoleIDs, roleID)
		g.members[id] = mem
	}
}

func (m *Memory) IsBanned(guildID, userID snowflake.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mustGuild(guildID).bans[userID]
	return ok
}

// Fail makes every later call of op return err; a nil err clears it.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) SelfID() snowflake.ID {
	return m.self
}

func (m *Memory) Guild(ctx context.Context, guildID snowflake.ID) (Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Guild"); err != nil {
		return Guild{}, err
	}
	g, ok := m.guilds[guildID]
	if !ok {
		return Guild{}, fmt.Errorf("unknown guild %s", guildID)
	}
	out := g.guild
	out.Roles = append([]Role(nil), g.guild.Roles...)
	return out, nil
}

func (m *Memory) Member(ctx context.Context, guildID, userID snowflake.ID) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Member"); err != nil {
		return Member{}, err
	}
	mem, ok := m.mustGuild(guildID).members[userID]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	mem.RoleIDs = append([]snowflake.ID(nil), mem.RoleIDs...)
	return mem, nil
}

func (m *Memory) SetMemberRoles(ctx context.Context, guildID, userID snowflake.ID, roleIDs []snowflake.ID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetMemberRoles"); err != nil {
		return err
	}
	g := m.mustGuild(guildID)
	mem, ok := g.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	for _, id := range roleIDs {
		if _, ok := g.guild.Role(id); !ok {
			return fmt.Errorf("unknown role %s", id)
		}
	}
	mem.RoleIDs = append([]snowflake.ID(nil), roleIDs...)
	g.members[userID] = mem
	return nil
}

func (m *Memory) AddMemberRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddMemberRole"); err != nil {
		return err
	}
	g := m.mustGuild(guildID)
	mem, ok := g.members[userID]
	if !ok {
		return ErrMemberNotFound
	}
	if _, ok := g.guild.Role(roleID); !ok {
		return fmt.Errorf("unknown role %s", roleID)
	}
	if !mem.HasRole(roleID) {
		mem.RoleIDs = append(mem.RoleIDs, roleID)
	}
	g.members[userID] = mem
	return nil
}

func (m *Memory) Kick(ctx context.Context, guildID, userID snowflake.ID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Kick"); err != nil {
		return err
	}
	g := m.mustGuild(guildID)
	if _, ok := g.members[userID]; !ok {
		return ErrMemberNotFound
	}
	delete(g.members, userID)
	return nil
}

func (m *Memory) Ban(ctx context.Context, guildID, userID snowflake.ID, reason string, retentionDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Ban"); err != nil {
		return err
	}
	g := m.mustGuild(guildID)
	delete(g.members, userID)
	g.bans[userID] = Ban{UserID: userID, Reason: reason}
	return nil
}

func (m *Memory) Unban(ctx context.Context, guildID, userID snowflake.ID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Unban"); err != nil {
		return err
	}
	g := m.mustGuild(guildID)
	if _, ok := g.bans[userID]; !ok {
		return ErrBanNotFound
	}
	delete(g.bans, userID)
	return nil
}

func (m *Memory) FetchBan(ctx context.Context, guildID, userID snowflake.ID) (Ban, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchBan"); err != nil {
		return Ban{}, err
	}
	ban, ok := m.mustGuild(guildID).bans[userID]
	if !ok {
		return Ban{}, ErrBanNotFound
	}
	return ban, nil
}

func (m *Memory) enter(op string) error {
	m.calls[op]++
	return m.fail[op]
}

func (m *Memory) mustGuild(guildID snowflake.ID) *memoryGuild {
	g, ok := m.guilds[guildID]
	if !ok {
		panic(fmt.Sprintf("directory: guild %s not registered", guildID))
	}
	return g
}

func without(ids []snowflake.ID, drop snowflake.ID) []snowflake.ID {
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
