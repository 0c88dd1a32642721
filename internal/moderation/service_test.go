package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/directory"
	"guildwarden/internal/ledger"
	"guildwarden/internal/models"
	"guildwarden/internal/notify"
	"guildwarden/internal/permission"
	"guildwarden/internal/reversal"
)

const (
	guildID  = snowflake.ID(100)
	roleA    = snowflake.ID(201)
	roleB    = snowflake.ID(202)
	roleBot  = snowflake.ID(203)
	jailRole = snowflake.ID(204)
	modRole  = snowflake.ID(205)
	botRole  = snowflake.ID(206)
	jailChan = snowflake.ID(250)

	botID    = snowflake.ID(300)
	modID    = snowflake.ID(301)
	targetID = snowflake.ID(302)
	ownerID  = snowflake.ID(399)
)

var start = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type staticConfig struct {
	moderator, jailRole, jailChannel snowflake.ID
}

func (c *staticConfig) ModeratorRole(context.Context, snowflake.ID) (snowflake.ID, error) {
	return c.moderator, nil
}

func (c *staticConfig) JailRole(context.Context, snowflake.ID) (snowflake.ID, error) {
	return c.jailRole, nil
}

func (c *staticConfig) JailChannel(context.Context, snowflake.ID) (snowflake.ID, error) {
	return c.jailChannel, nil
}

type fixture struct {
	dir       *directory.Memory
	store     *ledger.MemoryStore
	ledger    *ledger.Ledger
	clock     *clockwork.FakeClock
	config    *staticConfig
	gate      *permission.Gate
	scheduler *reversal.Scheduler
	notifier  *notify.Recorder
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := directory.NewMemory(botID)
	dir.AddGuild(directory.Guild{
		ID:      guildID,
		OwnerID: ownerID,
		Roles: []directory.Role{
			{ID: roleA, Name: "a", Position: 1},
			{ID: roleB, Name: "b", Position: 2},
			{ID: roleBot, Name: "integration", Position: 3, Managed: true},
			{ID: jailRole, Name: "jailed", Position: 4},
			{ID: modRole, Name: "mod", Position: 5},
			{ID: botRole, Name: "warden", Position: 8, Managed: true},
		},
	})
	dir.AddMember(directory.Member{GuildID: guildID, UserID: botID, RoleIDs: []snowflake.ID{botRole}})
	dir.AddMember(directory.Member{GuildID: guildID, UserID: ownerID})
	dir.AddMember(moderatorMember())
	dir.AddMember(directory.Member{GuildID: guildID, UserID: targetID, DisplayName: "spammer", RoleIDs: []snowflake.ID{roleA, roleB, roleBot}})

	f := &fixture{
		dir:      dir,
		store:    ledger.NewMemoryStore(),
		clock:    clockwork.NewFakeClockAt(start),
		config:   &staticConfig{moderator: modRole, jailRole: jailRole, jailChannel: jailChan},
		notifier: &notify.Recorder{},
	}
	f.ledger = ledger.New(f.store)
	f.gate = permission.New(dir, f.config, permission.Options{Clock: f.clock})
	f.boot()
	t.Cleanup(func() { f.scheduler.Stop() })
	return f
}

// boot (re)creates the scheduler and service over the same ledger, the
// way a process restart would.
func (f *fixture) boot() {
	if f.scheduler != nil {
		f.scheduler.Stop()
	}
	f.scheduler = reversal.New(f.ledger, f.clock)
	f.svc = New(Deps{
		Directory: f.dir,
		Ledger:    f.ledger,
		Gate:      f.gate,
		Config:    f.config,
		Scheduler: f.scheduler,
		Notifier:  f.notifier,
		Clock:     f.clock,
		Options:   Options{MinTempban: time.Minute, MaxTempban: 30 * 24 * time.Hour, BanRetentionDays: 1},
	})
}

// eventually waits for work done by a reversal timer, which fires on its
// own goroutine.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func (f *fixture) unbans(t *testing.T) []models.ModerationAction {
	return kinds(f.record(t).History(), models.ActionUnban)
}

func moderatorMember() directory.Member {
	return directory.Member{
		GuildID: guildID,
		UserID:  modID,
		RoleIDs: []snowflake.ID{modRole},
		Permissions: directory.PermissionKickMembers | directory.PermissionBanMembers |
			directory.PermissionManageRoles | directory.PermissionModerateMembers,
	}
}

func (f *fixture) target(t *testing.T) directory.Target {
	t.Helper()
	m, err := f.dir.Member(context.Background(), guildID, targetID)
	require.NoError(t, err)
	return directory.MemberTarget{Member: m}
}

func (f *fixture) record(t *testing.T) *models.User {
	t.Helper()
	u, err := f.ledger.Get(context.Background(), guildID, targetID)
	require.NoError(t, err)
	return u
}

func (f *fixture) liveRoles(t *testing.T) []snowflake.ID {
	t.Helper()
	m, err := f.dir.Member(context.Background(), guildID, targetID)
	require.NoError(t, err)
	return m.RoleIDs
}

func kinds(actions []models.ModerationAction, kind models.ActionKind) []models.ModerationAction {
	var out []models.ModerationAction
	for _, a := range actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestJailThenUnjailRestoresRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.JailUser(ctx, moderatorMember(), f.target(t), "spam", 0)
	require.NoError(t, err)
	require.True(t, r.Success, r.Error)
	assert.Equal(t, 2, r.RolesBackedUp)

	u := f.record(t)
	assert.True(t, u.IsJailed())
	assert.Len(t, kinds(u.History(), models.ActionJail), 1)
	assert.ElementsMatch(t, []snowflake.ID{jailRole, roleBot}, f.liveRoles(t), "managed roles stay on the member")

	r, err = f.svc.UnjailUser(ctx, moderatorMember(), f.target(t), "served")
	require.NoError(t, err)
	require.True(t, r.Success, r.Error)
	assert.Equal(t, 2, r.RolesRestored)
	assert.Empty(t, r.RolesNotRestored)

	u = f.record(t)
	assert.False(t, u.IsJailed())
	unjails := kinds(u.History(), models.ActionUnjail)
	require.Len(t, unjails, 1)
	restored, ok := unjails[0].Metadata.Int64(models.MetaRolesRestored)
	require.True(t, ok)
	assert.Equal(t, int64(2), restored)
	assert.ElementsMatch(t, []snowflake.ID{roleA, roleB, roleBot}, f.liveRoles(t))

	assert.Eventually(t, func() bool { return len(f.notifier.Events()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestJailTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.JailUser(ctx, moderatorMember(), f.target(t), "spam", 0)
	require.NoError(t, err)
	require.True(t, r.Success)

	r, err = f.svc.JailUser(ctx, moderatorMember(), f.target(t), "spam again", 0)
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, FailureAlreadyJailed, r.Type)

	assert.Len(t, f.record(t).History(), 1)
	assert.Equal(t, 1, f.dir.Calls("SetMemberRoles"))
}

func TestConcurrentJailsJailOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.target(t)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.svc.JailUser(ctx, moderatorMember(), target, "raid", 0)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			assert.Equal(t, FailureAlreadyJailed, r.Type)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.record(t).History(), 1)
}

func TestUnjailReportsRolesThatCannotBeRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.JailUser(ctx, moderatorMember(), f.target(t), "spam", 0)
	require.NoError(t, err)
	f.dir.DeleteRole(guildID, roleB)

	r, err := f.svc.UnjailUser(ctx, moderatorMember(), f.target(t), "served")
	require.NoError(t, err)
	require.True(t, r.Success, "partial restore is still a success")
	assert.Equal(t, 1, r.RolesRestored)
	assert.Equal(t, []snowflake.ID{roleB}, r.RolesNotRestored)
	assert.NotEmpty(t, r.Warnings)
	assert.ElementsMatch(t, []snowflake.ID{roleA, roleBot}, f.liveRoles(t))
	assert.False(t, f.record(t).IsJailed())
}

func TestUnjailWhenFree(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.UnjailUser(context.Background(), moderatorMember(), f.target(t), "nothing")
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, FailureNotJailed, r.Type)
	assert.Equal(t, 0, f.dir.Calls("SetMemberRoles"))
	assert.Empty(t, f.record(t).History())
}

func TestJailMemberWithoutRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.AddMember(directory.Member{GuildID: guildID, UserID: targetID})

	r, err := f.svc.JailUser(ctx, moderatorMember(), f.target(t), "spam", 0)
	require.NoError(t, err)
	require.True(t, r.Success)
	assert.Equal(t, 0, r.RolesBackedUp)
	assert.True(t, f.record(t).IsJailed())

	r, err = f.svc.UnjailUser(ctx, moderatorMember(), f.target(t), "ok")
	require.NoError(t, err)
	require.True(t, r.Success)
	assert.Empty(t, f.liveRoles(t), "the jail role is cleared even with nothing to restore")
}

func TestJailRequiresConfiguration(t *testing.T) {
	f := newFixture(t)
	f.config.jailChannel = 0

	r, err := f.svc.JailUser(context.Background(), moderatorMember(), f.target(t), "spam", 0)
	require.NoError(t, err)
	assert.Equal(t, FailureNotConfigured, r.Type)
}

func TestJailAbortsWhenLiveMutationFails(t *testing.T) {
	f := newFixture(t)
	f.dir.Fail("SetMemberRoles", errors.New("missing access"))

	_, err := f.svc.JailUser(context.Background(), moderatorMember(), f.target(t), "spam", 0)
	assert.Error(t, err)
	assert.False(t, f.record(t).IsJailed())
	assert.Empty(t, f.record(t).History())
}

func TestJailReportsDurableFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailSave = errors.New("disk full")

	_, err := f.svc.JailUser(context.Background(), moderatorMember(), f.target(t), "spam", 0)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not recorded")
	assert.ElementsMatch(t, []snowflake.ID{jailRole, roleBot}, f.liveRoles(t))
}

func TestTimedJailIsReversedAutomatically(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.JailUser(context.Background(), moderatorMember(), f.target(t), "cool off", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, r.Success)
	assert.Equal(t, start.Add(30*time.Minute), r.ExpiresAt)

	f.clock.Advance(29 * time.Minute)
	assert.True(t, f.record(t).IsJailed())

	f.clock.Advance(time.Minute)
	eventually(t, func() bool { return !f.record(t).IsJailed() })
	u := f.record(t)
	unjails := kinds(u.History(), models.ActionUnjail)
	require.Len(t, unjails, 1)
	assert.True(t, unjails[0].Automatic())
	assert.Equal(t, botID, unjails[0].ModeratorID)
}

func TestManualUnjailCancelsTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.JailUser(ctx, moderatorMember(), f.target(t), "cool off", 30*time.Minute)
	require.NoError(t, err)
	_, err = f.svc.UnjailUser(ctx, moderatorMember(), f.target(t), "early release")
	require.NoError(t, err)
	assert.Empty(t, f.scheduler.Pending())

	f.clock.Advance(time.Hour)
	assert.Len(t, kinds(f.record(t).History(), models.ActionUnjail), 1)
}

func TestTempbanIsReversedOnce(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.TempbanUser(context.Background(), moderatorMember(), f.target(t), "raid", time.Hour)
	require.NoError(t, err)
	require.True(t, r.Success, r.Error)
	assert.True(t, f.dir.IsBanned(guildID, targetID))

	bans := kinds(f.record(t).History(), models.ActionTempban)
	require.Len(t, bans, 1)
	assert.True(t, bans[0].Temporary())
	d, _ := bans[0].Metadata.Int64(models.MetaDurationMs)
	assert.Equal(t, time.Hour.Milliseconds(), d)

	f.clock.Advance(59 * time.Minute)
	assert.Empty(t, kinds(f.record(t).History(), models.ActionUnban))

	f.clock.Advance(time.Minute)
	eventually(t, func() bool { return len(f.unbans(t)) == 1 })
	unbans := f.unbans(t)
	assert.True(t, unbans[0].Automatic())
	assert.False(t, f.dir.IsBanned(guildID, targetID))

	f.clock.Advance(48 * time.Hour)
	assert.Len(t, kinds(f.record(t).History(), models.ActionUnban), 1)
}

func TestAutoUnbanWhenAlreadyUnbanned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TempbanUser(ctx, moderatorMember(), f.target(t), "raid", time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.dir.Unban(ctx, guildID, targetID, "done by hand on the platform"))

	f.clock.Advance(time.Hour)
	eventually(t, func() bool { return len(f.unbans(t)) == 1 })
	unbans := f.unbans(t)
	already, ok := unbans[0].Metadata.Bool(models.MetaAlreadyUnbanned)
	assert.True(t, ok)
	assert.True(t, already)
}

func TestFailedAutoUnbanIsRetriedAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TempbanUser(ctx, moderatorMember(), f.target(t), "raid", time.Hour)
	require.NoError(t, err)

	f.dir.Fail("Unban", errors.New("gateway timeout"))
	f.clock.Advance(time.Hour)
	eventually(t, func() bool { return f.dir.Calls("Unban") == 1 })
	assert.Empty(t, kinds(f.record(t).History(), models.ActionUnban))
	assert.Empty(t, f.scheduler.Pending(), "the timer is discarded")

	f.dir.Fail("Unban", nil)
	f.boot()
	n, err := f.scheduler.RestoreAll(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	eventually(t, func() bool { return len(f.unbans(t)) == 1 })
	assert.False(t, f.dir.IsBanned(guildID, targetID))
}

func TestTempbanSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TempbanUser(ctx, moderatorMember(), f.target(t), "raid", time.Hour)
	require.NoError(t, err)

	f.clock.Advance(50 * time.Minute)
	f.boot()
	_, err = f.scheduler.RestoreAll(ctx, guildID)
	require.NoError(t, err)

	f.clock.Advance(9 * time.Minute)
	assert.Empty(t, kinds(f.record(t).History(), models.ActionUnban))
	f.clock.Advance(time.Minute)
	eventually(t, func() bool { return len(f.unbans(t)) == 1 })
}

func TestManualUnbanCancelsTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.target(t)

	_, err := f.svc.TempbanUser(ctx, moderatorMember(), target, "raid", time.Hour)
	require.NoError(t, err)

	r, err := f.svc.UnbanUser(ctx, moderatorMember(), directory.AccountTarget{UserID: targetID}, "appeal accepted")
	require.NoError(t, err)
	require.True(t, r.Success)
	assert.Empty(t, f.scheduler.Pending())

	f.clock.Advance(2 * time.Hour)
	unbans := kinds(f.record(t).History(), models.ActionUnban)
	require.Len(t, unbans, 1)
	assert.False(t, unbans[0].Automatic())
}

// slowUnban parks the manual unban inside the platform call until released.
type slowUnban struct {
	*directory.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *slowUnban) Unban(ctx context.Context, guildID, userID snowflake.ID, reason string) error {
	if reason == "appeal accepted" {
		d.once.Do(func() { close(d.entered) })
		<-d.release
	}
	return d.Memory.Unban(ctx, guildID, userID, reason)
}

func TestManualUnbanRacingTimerRecordsOneUnban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := &slowUnban{Memory: f.dir, entered: make(chan struct{}), release: make(chan struct{})}
	f.svc = New(Deps{
		Directory: dir,
		Ledger:    f.ledger,
		Gate:      f.gate,
		Config:    f.config,
		Scheduler: f.scheduler,
		Clock:     f.clock,
		Options:   Options{MinTempban: time.Minute, MaxTempban: 24 * time.Hour},
	})

	_, err := f.svc.TempbanUser(ctx, moderatorMember(), f.target(t), "raid", time.Hour)
	require.NoError(t, err)

	manual := make(chan Result, 1)
	go func() {
		r, err := f.svc.UnbanUser(ctx, moderatorMember(), directory.AccountTarget{UserID: targetID}, "appeal accepted")
		assert.NoError(t, err)
		manual <- r
	}()
	<-dir.entered

	f.clock.Advance(time.Hour)
	eventually(t, func() bool { return len(f.scheduler.Pending()) == 0 })
	time.Sleep(20 * time.Millisecond)
	close(dir.release)

	r := <-manual
	assert.True(t, r.Success, r.Error)
	assert.Never(t, func() bool { return len(f.unbans(t)) > 1 }, 100*time.Millisecond, 5*time.Millisecond)

	unbans := f.unbans(t)
	require.Len(t, unbans, 1)
	assert.False(t, unbans[0].Automatic())
	assert.False(t, f.dir.IsBanned(guildID, targetID))
}

func TestBanRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := directory.AccountTarget{UserID: 777}

	r, err := f.svc.BanUser(ctx, moderatorMember(), account, "spam bot", -1)
	require.NoError(t, err)
	require.True(t, r.Success)
	permanent, _ := r.Action.Metadata.Bool(models.MetaPermanent)
	assert.True(t, permanent)

	r, err = f.svc.BanUser(ctx, moderatorMember(), account, "spam bot", -1)
	require.NoError(t, err)
	assert.Equal(t, FailureAlreadyBanned, r.Type)

	r, err = f.svc.UnbanUser(ctx, moderatorMember(), directory.AccountTarget{UserID: 778}, "typo")
	require.NoError(t, err)
	assert.Equal(t, FailureNotBanned, r.Type)

	r, err = f.svc.TempbanUser(ctx, moderatorMember(), directory.AccountTarget{UserID: 779}, "raid", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidDuration, r.Type)
	assert.False(t, f.dir.IsBanned(guildID, 779))
}

func TestPermanentBanSupersedesTempban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := directory.AccountTarget{UserID: targetID}

	_, err := f.svc.TempbanUser(ctx, moderatorMember(), f.target(t), "raid", time.Hour)
	require.NoError(t, err)
	_, err = f.svc.UnbanUser(ctx, moderatorMember(), account, "mistake")
	require.NoError(t, err)
	_, err = f.svc.BanUser(ctx, moderatorMember(), account, "for good", 0)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	assert.True(t, f.dir.IsBanned(guildID, targetID))
}

func TestRuleViolationsWriteNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.KickUser(ctx, moderatorMember(), f.target(t), "")
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidReason, r.Type)

	plain := directory.Member{GuildID: guildID, UserID: 500, RoleIDs: []snowflake.ID{roleA}, Permissions: directory.PermissionKickMembers}
	r, err = f.svc.KickUser(ctx, plain, f.target(t), "bye")
	require.NoError(t, err)
	assert.Equal(t, FailurePermissionDenied, r.Type)

	self := directory.MemberTarget{Member: moderatorMember()}
	r, err = f.svc.JailUser(ctx, moderatorMember(), self, "me", 0)
	require.NoError(t, err)
	assert.Equal(t, FailureSelfAction, r.Type)

	r, err = f.svc.KickUser(ctx, moderatorMember(), directory.AccountTarget{UserID: 12345}, "gone")
	require.NoError(t, err)
	assert.Equal(t, FailureMemberNotFound, r.Type)

	assert.Empty(t, f.record(t).History())
	assert.Equal(t, 0, f.dir.Calls("Kick"))
}

func TestKickWarnNoteAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.target(t)

	r, err := f.svc.WarnUser(ctx, moderatorMember(), target, "be civil")
	require.NoError(t, err)
	require.True(t, r.Success)

	r, err = f.svc.AddStaffNote(ctx, moderatorMember(), target, "repeat offender")
	require.NoError(t, err)
	require.True(t, r.Success)

	r, err = f.svc.AddStaffNote(ctx, moderatorMember(), target, "")
	require.NoError(t, err)
	assert.Equal(t, FailureInvalidReason, r.Type)

	r, err = f.svc.KickUser(ctx, moderatorMember(), target, "final warning ignored")
	require.NoError(t, err)
	require.True(t, r.Success)
	_, err = f.dir.Member(ctx, guildID, targetID)
	assert.ErrorIs(t, err, directory.ErrMemberNotFound)

	r, err = f.svc.History(ctx, moderatorMember(), directory.AccountTarget{UserID: targetID})
	require.NoError(t, err)
	require.True(t, r.Success)
	require.Len(t, r.History, 2)
	assert.Equal(t, models.ActionWarn, r.History[0].Kind)
	assert.Equal(t, models.ActionKick, r.History[1].Kind)
	require.Len(t, r.StaffNotes, 1)
	assert.Equal(t, "repeat offender", r.StaffNotes[0].Content)
}
