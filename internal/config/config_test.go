package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "abc"
`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", loaded.Discord.Token)
	assert.True(t, loaded.Discord.SyncCommands)
	assert.Equal(t, DriverSQLite, loaded.Database.Driver)
	assert.Equal(t, 5*time.Minute, loaded.Moderation.PermissionCacheTTL)
	assert.Equal(t, 1000, loaded.Moderation.PermissionCacheSize)
	assert.Equal(t, time.Minute, loaded.Moderation.MinTempban)
	assert.Equal(t, ":8080", loaded.Server.Listen)
	assert.Same(t, loaded, Get())
}

func TestLoad_Guilds(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: "abc"
moderation:
  permission_cache_ttl: 90s
guilds:
  - guild_id: "100"
    moderator_role_id: "200"
    jail_role_id: "300"
    jail_channel_id: "400"
    language: en
`)

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Len(t, loaded.Guilds, 1)
	assert.Equal(t, "300", loaded.Guilds[0].JailRoleID)
	assert.Equal(t, 90*time.Second, loaded.Moderation.PermissionCacheTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown driver", "database:\n  driver: postgres\n", "unknown database driver"},
		{"telegram without chat", "telegram:\n  enabled: true\n  token: x\n", "telegram.token"},
		{"retention out of range", "moderation:\n  ban_retention_days: 9\n", "ban_retention_days"},
		{"guild without id", "guilds:\n  - jail_role_id: \"1\"\n", "guild_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLevelWatcher(t *testing.T) {
	path := writeConfig(t, "discord:\n  token: abc\nlogger:\n  level: INFO\n")
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	var got []string
	watch := levelWatcher(v, func(level string) { got = append(got, level) })

	watch(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Empty(t, got, "unchanged level")

	require.NoError(t, os.WriteFile(path, []byte("discord:\n  token: abc\nlogger:\n  level: DEBUG\n"), 0644))
	require.NoError(t, v.ReadInConfig())
	watch(fsnotify.Event{Name: path, Op: fsnotify.Write})
	watch(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Equal(t, []string{"DEBUG"}, got)
}
