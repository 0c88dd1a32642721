package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// global configuration structure
type Config struct {
	Discord    DiscordConfig    `mapstructure:"discord"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Server     ServerConfig     `mapstructure:"server"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Guilds     []GuildConfig    `mapstructure:"guilds"`
}

// Discord gateway configuration
type DiscordConfig struct {
	Token        string `mapstructure:"token"`
	SyncCommands bool   `mapstructure:"sync_commands"`
}

// Telegram mod-log relay configuration
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// status server configuration
type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	DebugPath   string `mapstructure:"debug_path"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// logging configuration
type LoggerConfig struct {
	Directory string            `mapstructure:"directory"`
	Rotation  LogRotationConfig `mapstructure:"rotation"`
	Level     string            `mapstructure:"level"`
}

// log rotation settings
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Charset  string `mapstructure:"charset"`
	LogLevel string `mapstructure:"log_level"`
}

// moderation tuning
type ModerationConfig struct {
	PermissionCacheTTL  time.Duration `mapstructure:"permission_cache_ttl"`
	PermissionCacheSize int           `mapstructure:"permission_cache_size"`
	MinTempban          time.Duration `mapstructure:"min_tempban"`
	MaxTempban          time.Duration `mapstructure:"max_tempban"`
	BanRetentionDays    int           `mapstructure:"ban_retention_days"`
}

// static per-guild defaults, used until a database row exists
type GuildConfig struct {
	GuildID         string `mapstructure:"guild_id"`
	ModeratorRoleID string `mapstructure:"moderator_role_id"`
	JailRoleID      string `mapstructure:"jail_role_id"`
	JailChannelID   string `mapstructure:"jail_channel_id"`
	Language        string `mapstructure:"language"`
}

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverBolt   = "bolt"
)

var (
	cfg    *Config
	loaded *viper.Viper
)

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("GUILDWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	log.Printf("Using config file: %s", v.ConfigFileUsed())

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg = c
	loaded = v
	return cfg, nil
}

// WatchLogLevel watches the loaded config file and calls onChange when
// logger.level changes. Every other setting needs a restart.
func WatchLogLevel(onChange func(level string)) {
	if loaded == nil {
		return
	}
	loaded.OnConfigChange(levelWatcher(loaded, onChange))
	loaded.WatchConfig()
}

// levelWatcher runs after viper re-read the file.
func levelWatcher(v *viper.Viper, onChange func(level string)) func(fsnotify.Event) {
	current := v.GetString("logger.level")
	return func(e fsnotify.Event) {
		level := v.GetString("logger.level")
		if strings.EqualFold(level, current) {
			return
		}
		log.Printf("Config file %s changed: logger.level %s -> %s", e.Name, current, level)
		current = level
		onChange(level)
	}
}

func Get() *Config {
	if cfg == nil {
		log.Fatal("Configuration not initialized, call Load() first")
	}
	return cfg
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverBolt:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the %s driver", c.Database.Driver)
		}
	case DriverMySQL:
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required for mysql")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram is enabled")
	}

	m := c.Moderation
	if m.MinTempban <= 0 || m.MaxTempban < m.MinTempban {
		return fmt.Errorf("moderation tempban bounds are inconsistent: min=%s max=%s", m.MinTempban, m.MaxTempban)
	}
	if m.BanRetentionDays < 0 || m.BanRetentionDays > 7 {
		return fmt.Errorf("moderation.ban_retention_days must be between 0 and 7")
	}

	for i, g := range c.Guilds {
		if g.GuildID == "" {
			return fmt.Errorf("guilds[%d].guild_id is required", i)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.sync_commands", true)

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.debug_path", "/debug")
	v.SetDefault("server.metrics_path", "/metrics")

	v.SetDefault("logger.directory", "logs")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)
	v.SetDefault("logger.level", "INFO")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/guildwarden.db")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.log_level", "WARNING")

	v.SetDefault("moderation.permission_cache_ttl", 5*time.Minute)
	v.SetDefault("moderation.permission_cache_size", 1000)
	v.SetDefault("moderation.min_tempban", time.Minute)
	v.SetDefault("moderation.max_tempban", 365*24*time.Hour)
	v.SetDefault("moderation.ban_retention_days", 1)
}
