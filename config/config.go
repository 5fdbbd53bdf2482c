// Package config loads settings.json from the config directory, with
// secrets and endpoints overridable from the environment or a .env file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	SettingsFile = "settings.json"
	EnvFile      = ".env"
)

// Config is the daemon configuration. Zero fields take the defaults below.
type Config struct {
	HTTPPort int    `json:"http_port"`
	WebPath  string `json:"web_path"`
	Debug    bool   `json:"debug"`

	LogDir          string `json:"log_dir"`
	FailedDecodeLog string `json:"failed_decode_log"`

	DatabaseURL string `json:"database_url"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	StatsCacheTTL int    `json:"stats_cache_ttl_seconds"`

	InfluxAddr     string `json:"influx_addr"`
	InfluxDatabase string `json:"influx_database"`
	InfluxInterval int    `json:"influx_interval_seconds"`

	MQTTServer string `json:"mqtt_server"`
	MQTTTLS    bool   `json:"mqtt_tls"`
	MQTTAuth   string `json:"mqtt_auth"`
	MQTTTopic  string `json:"mqtt_topic"`

	NumWorkers            int     `json:"num_workers"`
	QueueSize             int     `json:"queue_size"`
	FragmentTTL           int     `json:"fragment_ttl_seconds"`
	StrictChecksum        bool    `json:"strict_checksum"`
	DeduplicationWindowMs int     `json:"deduplication_window_ms"`
	StatsInterval         int     `json:"stats_interval_seconds"`
	DefaultSpoofLimitKm   float64 `json:"default_spoof_limit_km"`

	BroadcastIntervalMs int `json:"broadcast_interval_ms"`
	ReadTimeoutMs       int `json:"read_timeout_ms"`
	RetryDelay          int `json:"retry_delay_seconds"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	setInt(&c.HTTPPort, 8080)
	setInt(&c.StatsCacheTTL, 5)
	setInt(&c.InfluxInterval, 10)
	setInt(&c.QueueSize, 1024)
	setInt(&c.FragmentTTL, 30)
	setInt(&c.StatsInterval, 5)
	setInt(&c.BroadcastIntervalMs, 2000)
	setInt(&c.ReadTimeoutMs, 1000)
	setInt(&c.RetryDelay, 5)
	if c.InfluxDatabase == "" {
		c.InfluxDatabase = "aisguard"
	}
	if c.MQTTTopic == "" {
		c.MQTTTopic = "aisguard"
	}
	if c.DefaultSpoofLimitKm <= 0 {
		c.DefaultSpoofLimitKm = 500
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Load reads dir/settings.json and applies environment overrides. A
// missing settings file means all defaults; a missing .env is ignored.
func Load(dir string) (*Config, error) {
	c := &Config{}
	path := filepath.Join(dir, SettingsFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
		}
	}

	envPath := filepath.Join(dir, EnvFile)
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.resolvePaths(dir)
	return c, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"AISGUARD_DATABASE_URL":   &c.DatabaseURL,
		"AISGUARD_REDIS_ADDR":     &c.RedisAddr,
		"AISGUARD_REDIS_PASSWORD": &c.RedisPassword,
		"AISGUARD_INFLUX_ADDR":    &c.InfluxAddr,
		"AISGUARD_MQTT_SERVER":    &c.MQTTServer,
		"AISGUARD_MQTT_AUTH":      &c.MQTTAuth,
		"AISGUARD_LOG_DIR":        &c.LogDir,
	}
	for k, dst := range str {
		if v, ok := os.LookupEnv(k); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("AISGUARD_HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: invalid AISGUARD_HTTP_PORT: %q", v)
		}
		c.HTTPPort = port
	}
	if v, ok := os.LookupEnv("AISGUARD_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid AISGUARD_DEBUG: %q", v)
		}
		c.Debug = b
	}
	return nil
}

// resolvePaths makes relative file settings relative to the config dir.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.LogDir, &c.FailedDecodeLog, &c.WebPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// ListenAddr returns the host:port string for the HTTP server.
func (c *Config) ListenAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

func (c *Config) FragmentTTLDuration() time.Duration {
	return time.Duration(c.FragmentTTL) * time.Second
}

func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DeduplicationWindowMs) * time.Millisecond
}

func (c *Config) StatsIntervalDuration() time.Duration {
	return time.Duration(c.StatsInterval) * time.Second
}

func (c *Config) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

func (c *Config) StatsCacheTTLDuration() time.Duration {
	return time.Duration(c.StatsCacheTTL) * time.Second
}

func (c *Config) InfluxIntervalDuration() time.Duration {
	return time.Duration(c.InfluxInterval) * time.Second
}
