package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guildwarden/internal/ledger"
	"guildwarden/internal/models"
)

// UserRow stores one member record as a JSON document. Jailed is
// denormalized so operators can query it directly.
type UserRow struct {
	GuildID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	Jailed    bool   `gorm:"index"`
	Document  string `gorm:"type:mediumtext;not null"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserRow) TableName() string {
	return "moderation_users"
}

// UserRepository is the SQL implementation of ledger.Store.
type UserRepository struct {
	db *gorm.DB
}

var _ ledger.Store = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Get(ctx context.Context, guildID, userID snowflake.ID) (*models.User, error) {
	var row UserRow
	result := r.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", uint64(guildID), uint64(userID)).
		Take(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.NewUser(guildID, userID), nil
		}
		return nil, result.Error
	}
	return row.user()
}

func (r *UserRepository) Save(ctx context.Context, u *models.User) error {
	doc, err := json.Marshal(u.Document())
	if err != nil {
		return fmt.Errorf("encode user document: %w", err)
	}

	next := u.Version() + 1
	now := time.Now()

	if u.Version() == 0 {
		row := UserRow{
			GuildID:   uint64(u.GuildID()),
			UserID:    uint64(u.UserID()),
			Jailed:    u.IsJailed(),
			Document:  string(doc),
			Version:   next,
			CreatedAt: now,
			UpdatedAt: now,
		}
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return ledger.ErrVersionConflict
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledger.ErrVersionConflict
		}
		u.MarkSaved(next)
		return nil
	}

	result := r.db.WithContext(ctx).Model(&UserRow{}).
		Where("guild_id = ? AND user_id = ? AND version = ?", uint64(u.GuildID()), uint64(u.UserID()), u.Version()).
		Updates(map[string]interface{}{
			"jailed":     u.IsJailed(),
			"document":   string(doc),
			"version":    next,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrVersionConflict
	}
	u.MarkSaved(next)
	return nil
}

func (r *UserRepository) FindMany(ctx context.Context, guildID snowflake.ID, match func(*models.User) bool) ([]*models.User, error) {
	var rows []UserRow
	if err := r.db.WithContext(ctx).Where("guild_id = ?", uint64(guildID)).Find(&rows).Error; err != nil {
		return nil, err
	}

	var out []*models.User
	for i := range rows {
		u, err := rows[i].user()
		if err != nil {
			return nil, err
		}
		if match == nil || match(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// JailedByGuild returns how many members are currently jailed, keyed by guild.
func (r *UserRepository) JailedByGuild(ctx context.Context) (map[snowflake.ID]int64, error) {
	var rows []struct {
		GuildID uint64
		Jailed  int64
	}
	err := r.db.WithContext(ctx).Model(&UserRow{}).
		Select("guild_id, COUNT(*) AS jailed").
		Where("jailed = ?", true).
		Group("guild_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[snowflake.ID]int64, len(rows))
	for _, row := range rows {
		out[snowflake.ID(row.GuildID)] = row.Jailed
	}
	return out, nil
}

func (row *UserRow) user() (*models.User, error) {
	var doc models.UserDocument
	if err := json.Unmarshal([]byte(row.Document), &doc); err != nil {
		return nil, fmt.Errorf("decode user document %d/%d: %w", row.GuildID, row.UserID, err)
	}
	return models.UserFromDocument(doc, row.Version), nil
}
