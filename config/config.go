package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// AppConfig holds environment driven configuration values.
// Secrets never have defaults inside code and must be provided via the config file or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	TokenTTLHours      int
	RateLimitPerMinute int
	AllowedOrigins     []string
	// AdminUsernames may use the operator routes, e.g. granting bank days
	AdminUsernames []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Local cache (sqlite file)
	LocalDBPath string
	// Remote backend: "postgres" or "mysql"; empty DSN runs offline only
	RemoteDialect string
	RemoteDSN     string
	// Redis for projection cache and token blacklist
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	CacheTTLSec   int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Streak behaviour
	AtRiskCutoffHour   int
	AutoBankProtection bool
	MoodWindowDays     int
	// Sync tuning
	SyncIntervalSec       int
	SyncTimeoutSec        int
	SyncBackoffInitialSec int
	SyncBackoffMaxSec     int
	SyncMaxRetries        int
	SyncIdleTTLHours      int
	MaxClockSkewHours     int
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config file (json, yaml or toml) -> defaults -> environment variable overrides
	path := getEnv("CONFIG_PATH", filepath.Join("config", "config.json"))
	// settings whose zero value is meaningful get their default before the file
	cfg.AutoBankProtection = true
	cfg.AtRiskCutoffHour = 20
	if err := loadConfigFile(path, &cfg); err != nil {
		log.Fatalf("invalid config file %s: %v", path, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// TokenTTL is the lifetime of issued session tokens.
func (c AppConfig) TokenTTL() time.Duration { return time.Duration(c.TokenTTLHours) * time.Hour }

// CacheTTL is how long a rendered projection stays cached.
func (c AppConfig) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSec) * time.Second }

func (c AppConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

func (c AppConfig) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSec) * time.Second
}

func (c AppConfig) SyncBackoffInitial() time.Duration {
	return time.Duration(c.SyncBackoffInitialSec) * time.Second
}

func (c AppConfig) SyncBackoffMax() time.Duration {
	return time.Duration(c.SyncBackoffMaxSec) * time.Second
}

func (c AppConfig) SyncIdleTTL() time.Duration {
	return time.Duration(c.SyncIdleTTLHours) * time.Hour
}

func (c AppConfig) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewHours) * time.Hour
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// decodeRaw turns a config file into nested maps; the format follows the extension.
func decodeRaw(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	return raw, err
}

// loadConfigFile reads the grouped config file into out if present. Returns error only for invalid content.
func loadConfigFile(path string, out *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	raw, err := decodeRaw(path, data)
	if err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			case int64:
				return int(t)
			}
		}
		return 0
	}
	getIntOr := func(m map[string]any, key string, def int) int {
		if _, ok := m[key]; !ok {
			return def
		}
		return getInt(m, key)
	}
	getBool := func(m map[string]any, key string, def bool) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return def
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.TokenTTLHours = getInt(app, "TokenTTLHours")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if list := getStringSlice(app, "AdminUsernames"); len(list) > 0 {
			out.AdminUsernames = list
		}
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		out.GinMode = getString(g, "Mode")
		out.GinPath = getString(g, "LogPath")
	}

	if l, ok := raw["local"].(map[string]any); ok {
		out.LocalDBPath = getString(l, "Path")
	}

	if r, ok := raw["remote"].(map[string]any); ok {
		out.RemoteDialect = getString(r, "Dialect")
		out.RemoteDSN = getString(r, "DSN")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
		out.CacheTTLSec = getInt(rds, "CacheTTLSec")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress", false)
	}

	if st, ok := raw["streak"].(map[string]any); ok {
		out.AtRiskCutoffHour = getIntOr(st, "AtRiskCutoffHour", out.AtRiskCutoffHour)
		out.AutoBankProtection = getBool(st, "AutoBankProtection", true)
		out.MoodWindowDays = getInt(st, "MoodWindowDays")
	}

	if sy, ok := raw["sync"].(map[string]any); ok {
		out.SyncIntervalSec = getInt(sy, "IntervalSec")
		out.SyncTimeoutSec = getInt(sy, "TimeoutSec")
		out.SyncBackoffInitialSec = getInt(sy, "BackoffInitialSec")
		out.SyncBackoffMaxSec = getInt(sy, "BackoffMaxSec")
		out.SyncMaxRetries = getInt(sy, "MaxRetries")
		out.SyncIdleTTLHours = getInt(sy, "IdleTTLHours")
		out.MaxClockSkewHours = getInt(sy, "MaxClockSkewHours")
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 72
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.LocalDBPath == "" {
		c.LocalDBPath = "data/ascend.db"
	}
	if c.RemoteDialect == "" {
		c.RemoteDialect = "postgres"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.CacheTTLSec == 0 {
		c.CacheTTLSec = 600
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.MoodWindowDays == 0 {
		c.MoodWindowDays = 14
	}
	if c.SyncIntervalSec == 0 {
		c.SyncIntervalSec = 180
	}
	if c.SyncTimeoutSec == 0 {
		c.SyncTimeoutSec = 10
	}
	if c.SyncBackoffInitialSec == 0 {
		c.SyncBackoffInitialSec = 5
	}
	if c.SyncBackoffMaxSec == 0 {
		c.SyncBackoffMaxSec = 300
	}
	if c.SyncMaxRetries == 0 {
		c.SyncMaxRetries = 5
	}
	if c.SyncIdleTTLHours == 0 {
		c.SyncIdleTTLHours = 24
	}
	if c.MaxClockSkewHours == 0 {
		c.MaxClockSkewHours = 24
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("TOKEN_TTL_HOURS", ""); v != "" {
		c.TokenTTLHours = mustParseInt(v)
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
	if v := getEnv("ADMIN_USERNAMES", ""); v != "" {
		c.AdminUsernames = readListEnv("ADMIN_USERNAMES", c.AdminUsernames)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("LOCAL_DB_PATH", ""); v != "" {
		c.LocalDBPath = v
	}
	if v := getEnv("REMOTE_DIALECT", ""); v != "" {
		c.RemoteDialect = v
	}
	if v := getEnv("REMOTE_DSN", ""); v != "" {
		c.RemoteDSN = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("CACHE_TTL_SEC", ""); v != "" {
		c.CacheTTLSec = mustParseInt(v)
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("AT_RISK_CUTOFF_HOUR", ""); v != "" {
		c.AtRiskCutoffHour = mustParseInt(v)
	}
	if v := getEnv("AUTO_BANK_PROTECTION", ""); v != "" {
		c.AutoBankProtection = v == "true"
	}
	if v := getEnv("MOOD_WINDOW_DAYS", ""); v != "" {
		c.MoodWindowDays = mustParseInt(v)
	}
	if v := getEnv("SYNC_INTERVAL_SEC", ""); v != "" {
		c.SyncIntervalSec = mustParseInt(v)
	}
	if v := getEnv("SYNC_TIMEOUT_SEC", ""); v != "" {
		c.SyncTimeoutSec = mustParseInt(v)
	}
	if v := getEnv("SYNC_BACKOFF_INITIAL_SEC", ""); v != "" {
		c.SyncBackoffInitialSec = mustParseInt(v)
	}
	if v := getEnv("SYNC_BACKOFF_MAX_SEC", ""); v != "" {
		c.SyncBackoffMaxSec = mustParseInt(v)
	}
	if v := getEnv("SYNC_MAX_RETRIES", ""); v != "" {
		c.SyncMaxRetries = mustParseInt(v)
	}
	if v := getEnv("SYNC_IDLE_TTL_HOURS", ""); v != "" {
		c.SyncIdleTTLHours = mustParseInt(v)
	}
	if v := getEnv("MAX_CLOCK_SKEW_HOURS", ""); v != "" {
		c.MaxClockSkewHours = mustParseInt(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
