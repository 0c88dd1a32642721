package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/config"
	"guildwarden/internal/models"
	"guildwarden/internal/storage"
)

func staticConfig() *config.Config {
	return &config.Config{Guilds: []config.GuildConfig{{
		GuildID:         "111",
		ModeratorRoleID: "222",
		JailRoleID:      "333",
		JailChannelID:   "444",
		Language:        models.LangSimplifiedChinese,
	}}}
}

func TestStaticSettings(t *testing.T) {
	s, err := NewGuildSettings(staticConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	mod, err := s.ModeratorRole(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(222), mod)

	role, err := s.JailRole(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(333), role)

	channel, err := s.JailChannel(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(444), channel)

	assert.Equal(t, models.LangSimplifiedChinese, s.Language(ctx, 111))

	unknown, err := s.Get(ctx, 999)
	require.NoError(t, err)
	assert.False(t, unknown.JailConfigured())
	assert.Equal(t, models.LangEnglish, s.Language(ctx, 999))
}

func TestInvalidStaticSettings(t *testing.T) {
	cfg := staticConfig()
	cfg.Guilds[0].JailRoleID = "not-a-number"
	_, err := NewGuildSettings(cfg, nil)
	assert.Error(t, err)
}

func TestDatabaseOverridesStatic(t *testing.T) {
	db, err := storage.Open(config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "settings.db"),
		LogLevel: "SILENT",
	})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	repo := storage.NewGuildRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateOrUpdateGuildConfig(ctx, &models.GuildConfig{
		GuildID: 111, JailRoleID: 555, JailChannelID: 666, Language: models.LangEnglish,
	}))

	s, err := NewGuildSettings(staticConfig(), repo)
	require.NoError(t, err)
	require.NoError(t, s.Preload(ctx))

	role, err := s.JailRole(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(555), role)

	require.NoError(t, s.Update(ctx, &models.GuildConfig{GuildID: 111, JailRoleID: 777, JailChannelID: 666, Language: models.LangEnglish}))
	s.ClearCache(111)
	role, err = s.JailRole(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(777), role, "updates reach the database")

	require.NoError(t, s.Update(ctx, &models.GuildConfig{GuildID: 222, Language: models.LangEnglish}))
	assert.ElementsMatch(t, []snowflake.ID{111, 222}, s.GuildIDs())
}
