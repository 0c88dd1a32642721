package models

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// GuildConfig holds the per-guild settings the moderation core reads:
// which role marks moderators and where jailed members are confined.
type GuildConfig struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	GuildID         uint64 `gorm:"uniqueIndex;not null"`
	ModeratorRoleID uint64 `gorm:"default:0"`
	JailRoleID      uint64 `gorm:"default:0"`
	JailChannelID   uint64 `gorm:"default:0"`
	Language        string `gorm:"size:8;default:'en'"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (g *GuildConfig) Guild() snowflake.ID         { return snowflake.ID(g.GuildID) }
func (g *GuildConfig) ModeratorRole() snowflake.ID { return snowflake.ID(g.ModeratorRoleID) }
func (g *GuildConfig) JailRole() snowflake.ID      { return snowflake.ID(g.JailRoleID) }
func (g *GuildConfig) JailChannel() snowflake.ID   { return snowflake.ID(g.JailChannelID) }

// JailConfigured reports whether both jail settings are present.
func (g *GuildConfig) JailConfigured() bool {
	return g.JailRoleID != 0 && g.JailChannelID != 0
}

type GuildConfigManager struct {
	configs map[snowflake.ID]*GuildConfig
	mu      sync.RWMutex
}

func NewGuildConfigManager() *GuildConfigManager {
	return &GuildConfigManager{
		configs: make(map[snowflake.ID]*GuildConfig),
	}
}

func (m *GuildConfigManager) Get(guildID snowflake.ID) *GuildConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configs[guildID]
}

func (m *GuildConfigManager) Add(cfg *GuildConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Guild()] = cfg
}

func (m *GuildConfigManager) Remove(guildID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, guildID)
}

func (m *GuildConfigManager) IDs() []snowflake.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]snowflake.ID, 0, len(m.configs))
	for id := range m.configs {
		ids = append(ids, id)
	}
	return ids
}
