// Package persistroles remembers a member's roles when they leave and
// gives them back when they return.
package persistroles

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/directory"
	"guildwarden/internal/ledger"
	"guildwarden/internal/logger"
	"guildwarden/internal/metrics"
	"guildwarden/internal/models"
)

const restoreReason = "Restoring persistent roles"

// JailRoles resolves the jail role of a guild; 0 means none is configured.
type JailRoles interface {
	JailRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
}

type Store struct {
	dir    directory.Directory
	ledger *ledger.Ledger
	jail   JailRoles
}

func New(dir directory.Directory, l *ledger.Ledger, jail JailRoles) *Store {
	return &Store{dir: dir, ledger: l, jail: jail}
}

// StoreOnDeparture unions the member's live roles (minus the everyone
// role) into their persistent set. It returns how many roles were new.
func (s *Store) StoreOnDeparture(ctx context.Context, guildID, userID snowflake.ID, liveRoleIDs []snowflake.ID) (int, error) {
	added := 0
	_, err := s.ledger.Update(ctx, guildID, userID, func(u *models.User) error {
		added = u.AddPersistentRoles(liveRoleIDs)
		if added == 0 {
			return ledger.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		metrics.PersistentRolesStoredTotal.Add(float64(added))
		logger.Debugf("Stored %d persistent roles for %s/%s", added, guildID, userID)
	}
	return added, nil
}

// RestoreResult reports what RestoreOnArrival did. Restored counts roles
// the member now holds, including ones already present.
type RestoreResult struct {
	Restored int
	Added    int
	Skipped  []snowflake.ID
	Failed   []snowflake.ID
}

// RestoreOnArrival reapplies stored roles that still exist, are not
// platform-managed and sit below the bot's highest role. The stored set is
// kept, so later rejoins restore again.
//
// A member the ledger shows as jailed only gets the jail role back. A free
// member never gets the jail role, even when it was stored while jailed.
func (s *Store) RestoreOnArrival(ctx context.Context, member directory.Member) (RestoreResult, error) {
	var res RestoreResult

	u, err := s.ledger.Get(ctx, member.GuildID, member.UserID)
	if err != nil {
		return res, err
	}
	stored := u.PersistentRoles()
	jailed := u.IsJailed()
	if len(stored) == 0 && !jailed {
		return res, nil
	}

	jailRole, err := s.jail.JailRole(ctx, member.GuildID)
	if err != nil {
		return res, fmt.Errorf("load jail role of %s: %w", member.GuildID, err)
	}
	wanted := make([]snowflake.ID, 0, len(stored))
	if jailed {
		if jailRole == 0 {
			logger.Warningf("Jailed member %s/%s rejoined but guild has no jail role", member.GuildID, member.UserID)
			return res, nil
		}
		wanted = append(wanted, jailRole)
		for _, id := range stored {
			if id != jailRole {
				res.Skipped = append(res.Skipped, id)
			}
		}
	} else {
		for _, id := range stored {
			if id == jailRole {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			wanted = append(wanted, id)
		}
	}
	if len(wanted) == 0 {
		return res, nil
	}

	guild, err := s.dir.Guild(ctx, member.GuildID)
	if err != nil {
		return res, fmt.Errorf("load guild %s: %w", member.GuildID, err)
	}
	self, err := s.dir.Member(ctx, member.GuildID, s.dir.SelfID())
	if err != nil {
		return res, fmt.Errorf("load bot member: %w", err)
	}
	botTop := guild.HighestPosition(self.RoleIDs)

	for _, id := range wanted {
		role, ok := guild.Role(id)
		if !ok || role.Managed || role.Position >= botTop {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if member.HasRole(id) {
			res.Restored++
			continue
		}
		if err := s.dir.AddMemberRole(ctx, member.GuildID, member.UserID, id, restoreReason); err != nil {
			logger.Warningf("Failed to restore role %s to %s/%s: %v", id, member.GuildID, member.UserID, err)
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Restored++
		res.Added++
	}

	metrics.PersistentRolesRestoredTotal.Add(float64(res.Added))
	logger.Infof("Restored %d of %d persistent roles for %s/%s (jailed: %t)", res.Restored, len(wanted), member.GuildID, member.UserID, jailed)
	return res, nil
}
