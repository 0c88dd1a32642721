package service

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/config"
	"guildwarden/internal/logger"
	"guildwarden/internal/models"
	"guildwarden/internal/storage"
)

// GuildSettings resolves per-guild configuration from the in-memory cache,
// then the database, then the static guilds of the config file.
type GuildSettings struct {
	manager *models.GuildConfigManager
	repo    *storage.GuildRepository
	static  map[snowflake.ID]*models.GuildConfig
}

// NewGuildSettings parses the static guild list. repo may be nil when no
// SQL database is configured.
func NewGuildSettings(cfg *config.Config, repo *storage.GuildRepository) (*GuildSettings, error) {
	static := make(map[snowflake.ID]*models.GuildConfig, len(cfg.Guilds))
	for i, g := range cfg.Guilds {
		parsed, err := parseGuildConfig(g)
		if err != nil {
			return nil, fmt.Errorf("guilds[%d]: %w", i, err)
		}
		static[parsed.Guild()] = parsed
	}

	return &GuildSettings{
		manager: models.NewGuildConfigManager(),
		repo:    repo,
		static:  static,
	}, nil
}

func parseGuildConfig(g config.GuildConfig) (*models.GuildConfig, error) {
	out := &models.GuildConfig{Language: g.Language}
	if out.Language == "" {
		out.Language = models.LangEnglish
	}

	fields := []struct {
		name  string
		value string
		dst   *uint64
	}{
		{"guild_id", g.GuildID, &out.GuildID},
		{"moderator_role_id", g.ModeratorRoleID, &out.ModeratorRoleID},
		{"jail_role_id", g.JailRoleID, &out.JailRoleID},
		{"jail_channel_id", g.JailChannelID, &out.JailChannelID},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		id, err := snowflake.Parse(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		*f.dst = uint64(id)
	}
	return out, nil
}

// Preload fills the cache with every database row.
func (s *GuildSettings) Preload(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.LoadGuildConfigs(ctx, s.manager)
}

// GuildIDs lists every guild with static or cached settings.
func (s *GuildSettings) GuildIDs() []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(s.static))
	var out []snowflake.ID
	for id := range s.static {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range s.manager.IDs() {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Get never returns nil: unknown guilds get an empty configuration.
func (s *GuildSettings) Get(ctx context.Context, guildID snowflake.ID) (*models.GuildConfig, error) {
	if cfg := s.manager.Get(guildID); cfg != nil {
		return cfg, nil
	}

	if s.repo != nil {
		cfg, err := s.repo.GetGuildConfig(ctx, guildID)
		if err != nil {
			return nil, fmt.Errorf("load guild config %s: %w", guildID, err)
		}
		if cfg != nil {
			logger.Infof("Found guild config in database for guild %s", guildID)
			s.manager.Add(cfg)
			return cfg, nil
		}
	}

	if cfg, ok := s.static[guildID]; ok {
		copied := *cfg
		s.manager.Add(&copied)
		return &copied, nil
	}

	return &models.GuildConfig{GuildID: uint64(guildID), Language: models.LangEnglish}, nil
}

// Update writes the configuration to the cache and, when available, the database.
func (s *GuildSettings) Update(ctx context.Context, cfg *models.GuildConfig) error {
	if s.repo != nil {
		if err := s.repo.CreateOrUpdateGuildConfig(ctx, cfg); err != nil {
			return fmt.Errorf("save guild config %d: %w", cfg.GuildID, err)
		}
	}
	s.manager.Add(cfg)
	return nil
}

// ClearCache drops a guild from the cache, e.g. after the bot left it.
func (s *GuildSettings) ClearCache(guildID snowflake.ID) {
	s.manager.Remove(guildID)
}

func (s *GuildSettings) ModeratorRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	cfg, err := s.Get(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return cfg.ModeratorRole(), nil
}

func (s *GuildSettings) JailRole(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	cfg, err := s.Get(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return cfg.JailRole(), nil
}

func (s *GuildSettings) JailChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	cfg, err := s.Get(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return cfg.JailChannel(), nil
}

// Language returns the reply language of a guild, English on any error.
func (s *GuildSettings) Language(ctx context.Context, guildID snowflake.ID) string {
	cfg, err := s.Get(ctx, guildID)
	if err != nil {
		logger.Warningf("Error loading language for guild %s: %v", guildID, err)
		return models.LangEnglish
	}
	return cfg.Language
}
