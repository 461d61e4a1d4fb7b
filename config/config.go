package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any IP
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// DirectoryConfig configures the external directory API client.
type DirectoryConfig struct {
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	TokenURL       string        `mapstructure:"token_url"`
	BaseURL        string        `mapstructure:"base_url"` // "{region}" is replaced per request
	Locale         string        `mapstructure:"locale"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type SyncConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	RunOnStartup         bool          `mapstructure:"run_on_startup"`
	GuildConcurrency     int           `mapstructure:"guild_concurrency"`
	CharacterConcurrency int           `mapstructure:"character_concurrency"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Load reads config from the given YAML file path. An empty path skips the file
// and uses defaults plus GUILDSYNC_* environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("guildsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.admin_ips", []string{})
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/guildsync.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.postgres_dsn", "")
	v.SetDefault("database.max_open", 25)
	v.SetDefault("database.max_idle", 5)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 64)
	v.SetDefault("directory.client_id", "")
	v.SetDefault("directory.client_secret", "")
	v.SetDefault("directory.token_url", "https://oauth.battle.net/token")
	v.SetDefault("directory.base_url", "https://{region}.api.blizzard.com")
	v.SetDefault("directory.locale", "en_US")
	v.SetDefault("directory.timeout", "15s")
	v.SetDefault("directory.rate_limit_rps", 90)
	v.SetDefault("directory.rate_limit_burst", 10)
	v.SetDefault("directory.max_retries", 3)
	v.SetDefault("directory.retry_backoff", "500ms")
	v.SetDefault("sync.interval", "1h")
	v.SetDefault("sync.run_on_startup", false)
	v.SetDefault("sync.guild_concurrency", 5)
	v.SetDefault("sync.character_concurrency", 3)
	v.SetDefault("sync.lock_ttl", "2h")
	v.SetDefault("security.rate_limit_rps", 20)
	v.SetDefault("security.rate_limit_burst", 40)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
