// Package config loads the goscan configuration from a JSON5 file with
// GOSCAN_* environment overrides.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration shared by the gateway and the device CLI.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Auth      AuthConfig      `json:"auth"`
	Database  DatabaseConfig  `json:"database"`
	Storage   StorageConfig   `json:"storage"`
	Redis     RedisConfig     `json:"redis"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
	Device    DeviceConfig    `json:"device"`
}

// GatewayConfig controls the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"token,omitempty"`      // bearer for POST /v1/auth/token
	PublicURL    string `json:"public_url,omitempty"` // base for bootstrap/QR/storage URLs
	RateLimitRPM int    `json:"rate_limit_rpm"`       // channel.broadcast per user; 0 disables
	RateBurst    int    `json:"rate_burst"`
}

// AuthConfig controls the auth bridge and token issuance.
type AuthConfig struct {
	JWTSecret        string   `json:"jwt_secret,omitempty"`
	AccessTTL        Duration `json:"access_ttl"`
	RefreshTTL       Duration `json:"refresh_ttl"`
	LinkTTL          Duration `json:"link_ttl"`
	CallbackURL      string   `json:"callback_url,omitempty"`
	AllowedRedirects []string `json:"allowed_redirects,omitempty"` // URL prefixes
}

// DatabaseConfig selects the scan-session store.
type DatabaseConfig struct {
	Mode        string `json:"mode"` // "standalone" (sqlite) or "managed" (postgres)
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// StorageConfig selects the temporary scan-image store.
type StorageConfig struct {
	Backend    string   `json:"backend"` // "local" or "s3"
	Bucket     string   `json:"bucket,omitempty"`
	Region     string   `json:"region,omitempty"`
	Endpoint   string   `json:"endpoint,omitempty"` // S3-compatible endpoint override
	AccessKey  string   `json:"access_key,omitempty"`
	SecretKey  string   `json:"secret_key,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	LocalDir   string   `json:"local_dir,omitempty"`
	PresignTTL Duration `json:"presign_ttl"`
	MaxBytes   int64    `json:"max_bytes"`
}

// RedisConfig enables cross-instance broadcast fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// LogConfig controls the slog default handler.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// DeviceConfig is read by the desktop and mobile CLI commands.
type DeviceConfig struct {
	ServerURL  string `json:"server_url"`
	Mailbox    string `json:"mailbox"` // "keyring" or "file"
	MailboxDir string `json:"mailbox_dir,omitempty"`
	MailboxKey string `json:"mailbox_key,omitempty"` // AES key for the file mailbox
	Language   string `json:"language"`
}

// Duration is a time.Duration that unmarshals from "30s" style strings or
// integer seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts both JSON and JSON5 quoting since json5 hands the raw
// token through.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		v, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return fmt.Errorf("invalid duration %s: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", s)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Default returns a config that runs a single local gateway with sqlite and
// on-disk image storage.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := home + "/.goscan"
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18800,
			RateLimitRPM: 240,
			RateBurst:    20,
		},
		Auth: AuthConfig{
			AccessTTL:  Duration(time.Hour),
			RefreshTTL: Duration(7 * 24 * time.Hour),
			LinkTTL:    Duration(5 * time.Minute),
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: base + "/data/goscan.db",
		},
		Storage: StorageConfig{
			Backend:    "local",
			LocalDir:   base + "/data/scan-images",
			PresignTTL: Duration(15 * time.Minute),
			MaxBytes:   20 << 20,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Device: DeviceConfig{
			ServerURL:  "http://127.0.0.1:18800",
			Mailbox:    "keyring",
			MailboxDir: base + "/device",
			Language:   "en",
		},
	}
}

// Load reads the config at path over Default(). A missing file is not an
// error; env overrides are always applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Mode {
	case "standalone":
	case "managed":
		if c.Database.PostgresDSN == "" {
			return errors.New("database.mode=managed requires database.postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown database.mode %q", c.Database.Mode)
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.backend=s3 requires storage.bucket")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway.port %d", c.Gateway.Port)
	}
	return nil
}

// PublicBaseURL returns Gateway.PublicURL or a URL derived from host/port.
func (c *Config) PublicBaseURL() string {
	if c.Gateway.PublicURL != "" {
		return strings.TrimRight(c.Gateway.PublicURL, "/")
	}
	host := c.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Gateway.Port)
}

// Hash returns a stable digest of the config for change detection.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// MaskedCopy returns a copy with secrets replaced for display.
func (c *Config) MaskedCopy() *Config {
	cp := *c
	cp.Gateway.Token = mask(c.Gateway.Token)
	cp.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	cp.Database.PostgresDSN = mask(c.Database.PostgresDSN)
	cp.Redis.Password = mask(c.Redis.Password)
	cp.Storage.SecretKey = mask(c.Storage.SecretKey)
	cp.Device.MailboxKey = mask(c.Device.MailboxKey)
	if len(c.Telemetry.Headers) > 0 {
		cp.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k, v := range c.Telemetry.Headers {
			cp.Telemetry.Headers[k] = mask(v)
		}
	}
	return &cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func (c *Config) applyEnv() {
	envStr("GOSCAN_GATEWAY_HOST", &c.Gateway.Host)
	envInt("GOSCAN_GATEWAY_PORT", &c.Gateway.Port)
	envStr("GOSCAN_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("GOSCAN_PUBLIC_URL", &c.Gateway.PublicURL)
	envStr("GOSCAN_JWT_SECRET", &c.Auth.JWTSecret)
	envStr("GOSCAN_CALLBACK_URL", &c.Auth.CallbackURL)
	envStr("GOSCAN_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" && os.Getenv("GOSCAN_DATABASE_MODE") == "" {
		c.Database.Mode = "managed"
	}
	envStr("GOSCAN_DATABASE_MODE", &c.Database.Mode)
	envStr("GOSCAN_STORAGE_BACKEND", &c.Storage.Backend)
	envStr("GOSCAN_S3_BUCKET", &c.Storage.Bucket)
	envStr("GOSCAN_S3_REGION", &c.Storage.Region)
	envStr("GOSCAN_S3_ENDPOINT", &c.Storage.Endpoint)
	envStr("GOSCAN_S3_ACCESS_KEY", &c.Storage.AccessKey)
	envStr("GOSCAN_S3_SECRET_KEY", &c.Storage.SecretKey)
	envStr("GOSCAN_REDIS_ADDR", &c.Redis.Addr)
	envStr("GOSCAN_REDIS_PASSWORD", &c.Redis.Password)
	envStr("GOSCAN_LOG_LEVEL", &c.Log.Level)
	envStr("GOSCAN_SERVER_URL", &c.Device.ServerURL)
	envStr("GOSCAN_MAILBOX_KEY", &c.Device.MailboxKey)
	envStr("GOSCAN_LANG", &c.Device.Language)
	if v := os.Getenv("GOSCAN_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
