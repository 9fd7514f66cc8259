// Package config provides configuration loading and validation for the
// gateway.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/loadbalance/main.go)
//  2. Environment variables (LOADBALANCE_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Uses LOADBALANCE_ prefix: LOADBALANCE_SERVER_HOST -> server.host
	v.SetEnvPrefix("LOADBALANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 15)
	v.SetDefault("server.shutdown_grace_secs", 10)

	// Upstream defaults
	v.SetDefault("upstream.fleet", []UpstreamDescriptor{})
	v.SetDefault("upstream.rate_per_second", 20)
	v.SetDefault("upstream.max_concurrency", 200)
	v.SetDefault("upstream.busy_timeout_secs", 36)
	v.SetDefault("upstream.token_refresh_hours", 23)
	v.SetDefault("upstream.call_timeout_secs", 30)
	v.SetDefault("upstream.idle_poll_secs", 1)
	v.SetDefault("upstream.idle_poll_max_attempts", 36)

	// Queue defaults
	v.SetDefault("queue.max_size", 200)
	v.SetDefault("queue.wait_timeout_secs", 300)
	v.SetDefault("queue.poll_interval_millis", 50)
	v.SetDefault("queue.dequeue_idle_wait_millis", 10)

	// MySQL defaults
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mysql.max_idle_conns", 50)
	v.SetDefault("mysql.conn_max_life_mins", 60)

	// Redis defaults
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults (matches the historical fixed demo key/IV; operators
	// are expected to override these in production).
	v.SetDefault("auth.aes_key", "RuoYi@2026#Key!!")
	v.SetDefault("auth.aes_iv", "RuoYi@InitVector")
	v.SetDefault("auth.jwt_secret", "ApiStore_SecretKey_2026_LoadBalance_System")
	v.SetDefault("auth.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", true)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	if err := loadUpstreamConfig(v, cfg); err != nil {
		return nil, err
	}
	loadQueueConfig(v, cfg)
	loadMySQLConfig(v, cfg)
	loadRedisConfig(v, cfg)
	loadAuthConfig(v, cfg)
	loadLoggingConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.ReadTimeoutSecs = v.GetInt("server.read_timeout_secs")
	cfg.Server.WriteTimeoutSecs = v.GetInt("server.write_timeout_secs")
	cfg.Server.ShutdownGraceSecs = v.GetInt("server.shutdown_grace_secs")
	cfg.Server.WorkersRaw = v.GetString("server.workers")
	cfg.Server.Workers = parseWorkers(cfg.Server.WorkersRaw)
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) error {
	// The fleet can arrive as structured YAML (decoded with UnmarshalKey) or
	// as a JSON array via an environment string override.
	if s := v.GetString("upstream.fleet_json"); s != "" {
		var fleet []UpstreamDescriptor
		if err := json.Unmarshal([]byte(s), &fleet); err != nil {
			return fmt.Errorf("parse upstream.fleet_json: %w", err)
		}
		cfg.Upstream.Fleet = fleet
	} else if err := v.UnmarshalKey("upstream.fleet", &cfg.Upstream.Fleet); err != nil {
		return fmt.Errorf("parse upstream.fleet: %w", err)
	}

	cfg.Upstream.RatePerSecond = v.GetInt("upstream.rate_per_second")
	cfg.Upstream.MaxConcurrency = v.GetInt("upstream.max_concurrency")
	cfg.Upstream.BusyTimeoutSecs = v.GetInt("upstream.busy_timeout_secs")
	cfg.Upstream.TokenRefreshHours = v.GetInt("upstream.token_refresh_hours")
	cfg.Upstream.CallTimeoutSecs = v.GetInt("upstream.call_timeout_secs")
	cfg.Upstream.IdlePollSecs = v.GetInt("upstream.idle_poll_secs")
	cfg.Upstream.IdlePollMaxAttempts = v.GetInt("upstream.idle_poll_max_attempts")
	return nil
}

func loadQueueConfig(v *viper.Viper, cfg *Config) {
	cfg.Queue.MaxSize = v.GetInt("queue.max_size")
	cfg.Queue.WaitTimeoutSecs = v.GetInt("queue.wait_timeout_secs")
	cfg.Queue.PollIntervalMillis = v.GetInt("queue.poll_interval_millis")
	cfg.Queue.DequeueIdleWaitMillis = v.GetInt("queue.dequeue_idle_wait_millis")
}

func loadMySQLConfig(v *viper.Viper, cfg *Config) {
	cfg.MySQL.DSN = v.GetString("mysql.dsn")
	cfg.MySQL.MaxOpenConns = v.GetInt("mysql.max_open_conns")
	cfg.MySQL.MaxIdleConns = v.GetInt("mysql.max_idle_conns")
	cfg.MySQL.ConnMaxLifeMins = v.GetInt("mysql.conn_max_life_mins")
}

func loadRedisConfig(v *viper.Viper, cfg *Config) {
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
}

func loadAuthConfig(v *viper.Viper, cfg *Config) {
	cfg.Auth.AESKey = v.GetString("auth.aes_key")
	cfg.Auth.AESIV = v.GetString("auth.aes_iv")
	cfg.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	cfg.Auth.AdminToken = v.GetString("auth.admin_token")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	if len(cfg.Upstream.Fleet) == 0 {
		return errors.New("upstream.fleet must list at least one decryption upstream")
	}
	if cfg.Upstream.RatePerSecond <= 0 {
		cfg.Upstream.RatePerSecond = 20
	}
	if cfg.Upstream.MaxConcurrency <= 0 {
		cfg.Upstream.MaxConcurrency = 200
	}
	if cfg.Upstream.BusyTimeoutSecs <= 0 {
		cfg.Upstream.BusyTimeoutSecs = 36
	}

	if cfg.Queue.MaxSize <= 0 {
		cfg.Queue.MaxSize = 200
	}
	if cfg.Queue.WaitTimeoutSecs <= 0 {
		cfg.Queue.WaitTimeoutSecs = 300
	}

	if len(cfg.Auth.AESKey) != 16 || len(cfg.Auth.AESIV) != 16 {
		return errors.New("auth.aes_key and auth.aes_iv must each be exactly 16 bytes")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must not be empty")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	return nil
}
