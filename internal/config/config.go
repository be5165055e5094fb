// Package config loads the server configuration.
//
// Values are layered, later layers winning:
//
//	defaults → TOML config file → FLIPBOOK_* env vars → legacy env names
//
// Env var names follow the TOML keys: server.port becomes FLIPBOOK_SERVER_PORT.
// The legacy names PORT, DB_PATH, JWT_SECRET and GITHUB_CLIENT_ID,
// GITHUB_CLIENT_SECRET, GITHUB_CALLBACK_URL are still honored.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every config env var.
const EnvPrefix = "FLIPBOOK"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"    mapstructure:"server"`
	Database  DatabaseConfig  `toml:"database"  mapstructure:"database"`
	Storage   StorageConfig   `toml:"storage"   mapstructure:"storage"`
	Auth      AuthConfig      `toml:"auth"      mapstructure:"auth"`
	Session   SessionConfig   `toml:"session"   mapstructure:"session"`
	Cache     CacheConfig     `toml:"cache"     mapstructure:"cache"`
	Render    RenderConfig    `toml:"render"    mapstructure:"render"`
	Publish   PublishConfig   `toml:"publish"   mapstructure:"publish"`
	RateLimit RateLimitConfig `toml:"ratelimit" mapstructure:"ratelimit"`
	Log       LogConfig       `toml:"log"       mapstructure:"log"`
}

type ServerConfig struct {
	Host string `toml:"host" mapstructure:"host"`
	Port int    `toml:"port" mapstructure:"port"`
	// BaseURL is the externally visible origin, used for file URLs and
	// email links. Empty derives http://localhost:<port>.
	BaseURL         string   `toml:"base_url"         mapstructure:"base_url"`
	ReadTimeout     Duration `toml:"read_timeout"     mapstructure:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"    mapstructure:"write_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout"     mapstructure:"idle_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

// StorageConfig is a tagged union: Driver picks which block applies.
type StorageConfig struct {
	Driver string   `toml:"driver" mapstructure:"driver"` // "filesystem" or "s3"
	Root   string   `toml:"root"   mapstructure:"root"`   // filesystem only
	S3     S3Config `toml:"s3"     mapstructure:"s3"`
}

type S3Config struct {
	Region          string `toml:"region"            mapstructure:"region"`
	Endpoint        string `toml:"endpoint"          mapstructure:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"     mapstructure:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" mapstructure:"secret_access_key"`
	BucketPrefix    string `toml:"bucket_prefix"     mapstructure:"bucket_prefix"`
	PublicBaseURL   string `toml:"public_base_url"   mapstructure:"public_base_url"`
}

type AuthConfig struct {
	JWTSecret     string       `toml:"jwt_secret"     mapstructure:"jwt_secret"`
	SessionTTL    Duration     `toml:"session_ttl"    mapstructure:"session_ttl"`
	ResetTTL      Duration     `toml:"reset_ttl"      mapstructure:"reset_ttl"`
	SecureCookies bool         `toml:"secure_cookies" mapstructure:"secure_cookies"`
	GitHub        GitHubConfig `toml:"github"         mapstructure:"github"`
}

type GitHubConfig struct {
	ClientID     string `toml:"client_id"     mapstructure:"client_id"`
	ClientSecret string `toml:"client_secret" mapstructure:"client_secret"`
	CallbackURL  string `toml:"callback_url"  mapstructure:"callback_url"`
}

// Enabled reports whether GitHub sign-in is configured.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type SessionConfig struct {
	// DataDir keeps each session's local store on disk. Empty keeps it in memory.
	DataDir           string   `toml:"data_dir"           mapstructure:"data_dir"`
	IdleTimeout       Duration `toml:"idle_timeout"       mapstructure:"idle_timeout"`
	CookieMaxAge      Duration `toml:"cookie_max_age"     mapstructure:"cookie_max_age"`
	NavigationSettle  Duration `toml:"navigation_settle"  mapstructure:"navigation_settle"`
	NavigationRecheck Duration `toml:"navigation_recheck" mapstructure:"navigation_recheck"`
}

type CacheConfig struct {
	PublicationsTTL Duration `toml:"publications_ttl" mapstructure:"publications_ttl"`
}

type RenderConfig struct {
	Enabled  bool     `toml:"enabled"   mapstructure:"enabled"`
	Image    string   `toml:"image"     mapstructure:"image"`
	PoolSize int      `toml:"pool_size" mapstructure:"pool_size"`
	Timeout  Duration `toml:"timeout"   mapstructure:"timeout"`
	Width    int      `toml:"width"     mapstructure:"width"`
}

type PublishConfig struct {
	DeleteVerifyAttempts int      `toml:"delete_verify_attempts" mapstructure:"delete_verify_attempts"`
	DeleteVerifyInterval Duration `toml:"delete_verify_interval" mapstructure:"delete_verify_interval"`
}

type RateLimitConfig struct {
	UploadsPerMinute float64 `toml:"uploads_per_minute" mapstructure:"uploads_per_minute"`
	UploadBurst      int     `toml:"upload_burst"       mapstructure:"upload_burst"`
}

type LogConfig struct {
	Format string `toml:"format" mapstructure:"format"` // text, json or pretty
	Level  string `toml:"level"  mapstructure:"level"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{Path: filepath.Join("data", "flipbook.db")},
		Storage: StorageConfig{
			Driver: "filesystem",
			Root:   filepath.Join("data", "files"),
			S3:     S3Config{Region: "us-east-1"},
		},
		Auth: AuthConfig{
			SessionTTL: Duration(24 * time.Hour),
			ResetTTL:   Duration(time.Hour),
		},
		Session: SessionConfig{
			IdleTimeout:       Duration(30 * time.Minute),
			CookieMaxAge:      Duration(30 * 24 * time.Hour),
			NavigationSettle:  Duration(800 * time.Millisecond),
			NavigationRecheck: Duration(200 * time.Millisecond),
		},
		Cache: CacheConfig{PublicationsTTL: Duration(5 * time.Minute)},
		Render: RenderConfig{
			Enabled:  true,
			Image:    "minidocks/poppler:latest",
			PoolSize: 2,
			Timeout:  Duration(20 * time.Second),
			Width:    480,
		},
		Publish: PublishConfig{
			DeleteVerifyAttempts: 3,
			DeleteVerifyInterval: Duration(250 * time.Millisecond),
		},
		RateLimit: RateLimitConfig{UploadsPerMinute: 10, UploadBurst: 3},
		Log:       LogConfig{Format: "text", Level: "info"},
	}
}

// legacyEnv maps the old unprefixed env names to config keys.
var legacyEnv = map[string]string{
	"server.port":               "PORT",
	"database.path":             "DB_PATH",
	"auth.jwt_secret":           "JWT_SECRET",
	"auth.github.client_id":     "GITHUB_CLIENT_ID",
	"auth.github.client_secret": "GITHUB_CLIENT_SECRET",
	"auth.github.callback_url":  "GITHUB_CALLBACK_URL",
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if _, set := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); set {
			continue
		}
		if val, ok := os.LookupEnv(env); ok {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(durationHook())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key of d with viper. AutomaticEnv only
// overrides keys viper already knows about.
func setDefaults(v *viper.Viper, d *Config) {
	var flat map[string]any
	// Round-trip through TOML so the keys match the file format exactly.
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		panic(fmt.Sprintf("config: encoding defaults: %v", err))
	}
	if _, err := toml.Decode(buf.String(), &flat); err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	walk("", flat, func(key string, val any) { v.SetDefault(key, val) })
}

func walk(prefix string, m map[string]any, fn func(string, any)) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walk(key, sub, fn)
			continue
		}
		fn(key, val)
	}
}

func (c *Config) applyDerived() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Auth.GitHub.CallbackURL == "" {
		c.Auth.GitHub.CallbackURL = c.Server.BaseURL + "/auth/github/callback"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		bad("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		bad("database.path is required")
	}
	switch c.Storage.Driver {
	case "filesystem":
		if c.Storage.Root == "" {
			bad("storage.root is required for the filesystem driver")
		}
	case "s3":
		if c.Storage.S3.Region == "" {
			bad("storage.s3.region is required for the s3 driver")
		}
	default:
		bad("storage.driver %q must be filesystem or s3", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		bad("auth.jwt_secret is required (JWT_SECRET)")
	} else if len(c.Auth.JWTSecret) < 32 {
		bad("auth.jwt_secret must be at least 32 characters")
	}
	switch c.Log.Format {
	case "text", "json", "pretty":
	default:
		bad("log.format %q must be text, json or pretty", c.Log.Format)
	}
	if c.Publish.DeleteVerifyAttempts < 1 {
		bad("publish.delete_verify_attempts must be at least 1")
	}
	if c.Cache.PublicationsTTL <= 0 {
		bad("cache.publications_ttl must be positive")
	}
	if c.Render.Enabled && c.Render.PoolSize < 1 {
		bad("render.pool_size must be at least 1")
	}
	return errors.Join(errs...)
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// Init writes cfg to path, refusing to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if err := Write(f, cfg); err != nil {
		f.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return f.Close()
}
