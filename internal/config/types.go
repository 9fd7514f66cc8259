// Package config provides configuration loading for the gateway using Viper.
// Configuration is loaded from a YAML file with automatic environment
// variable binding.
//
// Environment variables use the LOADBALANCE_ prefix and underscore-separated
// keys:
//   - LOADBALANCE_SERVER_HOST -> server.host
//   - LOADBALANCE_SERVER_PORT -> server.port
//   - LOADBALANCE_UPSTREAM_FLEET_JSON -> upstream.fleet (JSON array)
//   - LOADBALANCE_MYSQL_DSN -> mysql.dsn
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto sizes the pool from the number of configured upstreams,
	// with a minimum of 2.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the dispatcher worker pool size.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Host              string        `yaml:"host"                mapstructure:"host"`
	Port              int           `yaml:"port"                mapstructure:"port"`
	Workers           WorkerSetting `yaml:"-"                   mapstructure:"-"`
	WorkersRaw        string        `yaml:"workers"             mapstructure:"workers"`
	ReadTimeoutSecs   int           `yaml:"read_timeout_secs"   mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs  int           `yaml:"write_timeout_secs"  mapstructure:"write_timeout_secs"`
	ShutdownGraceSecs int           `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
}

// UpstreamDescriptor is one decryption upstream's connection details.
type UpstreamDescriptor struct {
	URL      string `json:"url"      yaml:"url"      mapstructure:"url"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
}

// UpstreamConfig contains decryption-upstream fleet and flow-control settings.
type UpstreamConfig struct {
	Fleet              []UpstreamDescriptor `yaml:"fleet"                 mapstructure:"fleet"`
	FleetRaw           string               `yaml:"fleet_json"            mapstructure:"fleet_json"` // JSON array, used for env override
	RatePerSecond      int                  `yaml:"rate_per_second"       mapstructure:"rate_per_second"`
	MaxConcurrency     int                  `yaml:"max_concurrency"       mapstructure:"max_concurrency"`
	BusyTimeoutSecs    int                  `yaml:"busy_timeout_secs"     mapstructure:"busy_timeout_secs"`
	TokenRefreshHours  int                  `yaml:"token_refresh_hours"   mapstructure:"token_refresh_hours"`
	CallTimeoutSecs    int                  `yaml:"call_timeout_secs"     mapstructure:"call_timeout_secs"`
	IdlePollSecs       int                  `yaml:"idle_poll_secs"        mapstructure:"idle_poll_secs"`
	IdlePollMaxAttempts int                 `yaml:"idle_poll_max_attempts" mapstructure:"idle_poll_max_attempts"`
}

// QueueConfig contains priority-queue sizing and wait-timeout settings.
// WaitTimeoutSecs is the sole timeout knob: it bounds both how long a caller
// waits on a queued key-packet result and the Redis task-slot TTL backing
// that wait, so the two can never drift apart.
type QueueConfig struct {
	MaxSize               int `yaml:"max_size"                 mapstructure:"max_size"`
	WaitTimeoutSecs       int `yaml:"wait_timeout_secs"        mapstructure:"wait_timeout_secs"`
	PollIntervalMillis    int `yaml:"poll_interval_millis"     mapstructure:"poll_interval_millis"`
	DequeueIdleWaitMillis int `yaml:"dequeue_idle_wait_millis" mapstructure:"dequeue_idle_wait_millis"`
}

// MySQLConfig contains the user-store database connection.
type MySQLConfig struct {
	DSN             string `yaml:"dsn"                mapstructure:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"     mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"     mapstructure:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins" mapstructure:"conn_max_life_mins"`
}

// RedisConfig contains the queue/KV broker connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"     mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db"       mapstructure:"db"`
}

// AuthConfig contains password-cipher and token-signing secrets.
type AuthConfig struct {
	AESKey        string `yaml:"aes_key"         mapstructure:"aes_key"`
	AESIV         string `yaml:"aes_iv"          mapstructure:"aes_iv"`
	JWTSecret     string `yaml:"jwt_secret"      mapstructure:"jwt_secret"`
	AdminToken    string `yaml:"admin_token"     mapstructure:"admin_token"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"   mapstructure:"server"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Queue    QueueConfig    `yaml:"queue"    mapstructure:"queue"`
	MySQL    MySQLConfig    `yaml:"mysql"    mapstructure:"mysql"`
	Redis    RedisConfig    `yaml:"redis"    mapstructure:"redis"`
	Auth     AuthConfig     `yaml:"auth"     mapstructure:"auth"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("LOADBALANCE_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable
// overrides. This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (LOADBALANCE_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
