package storage

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"gorm.io/gorm"

	"guildwarden/internal/logger"
	"guildwarden/internal/models"
)

// GuildRepository handles database operations for GuildConfig
type GuildRepository struct {
	db *gorm.DB
}

func NewGuildRepository(db *gorm.DB) *GuildRepository {
	return &GuildRepository{db: db}
}

// GetGuildConfig returns nil, nil when the guild has no row.
func (r *GuildRepository) GetGuildConfig(ctx context.Context, guildID snowflake.ID) (*models.GuildConfig, error) {
	var cfg models.GuildConfig
	result := r.db.WithContext(ctx).Where("guild_id = ?", uint64(guildID)).First(&cfg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cfg, nil
}

// CreateOrUpdateGuildConfig creates a new row or updates the existing one
func (r *GuildRepository) CreateOrUpdateGuildConfig(ctx context.Context, cfg *models.GuildConfig) error {
	db := r.db.WithContext(ctx)

	var existing models.GuildConfig
	result := db.Where("guild_id = ?", cfg.GuildID).First(&existing)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			cfg.CreatedAt = time.Now()
			cfg.UpdatedAt = cfg.CreatedAt
			return db.Create(cfg).Error
		}
		return result.Error
	}

	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now()
	return db.Save(cfg).Error
}

func (r *GuildRepository) GetAllGuildConfigs(ctx context.Context) ([]*models.GuildConfig, error) {
	var configs []*models.GuildConfig
	if err := r.db.WithContext(ctx).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *GuildRepository) DeleteGuildConfig(ctx context.Context, guildID snowflake.ID) error {
	return r.db.WithContext(ctx).Where("guild_id = ?", uint64(guildID)).Delete(&models.GuildConfig{}).Error
}

// LoadGuildConfigs fills the cache from the database.
func (r *GuildRepository) LoadGuildConfigs(ctx context.Context, manager *models.GuildConfigManager) error {
	configs, err := r.GetAllGuildConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		manager.Add(cfg)
	}
	logger.Infof("Loaded %d guild configs from database into cache", len(configs))
	return nil
}
