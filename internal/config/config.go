package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Map         MapConfig         `yaml:"map" mapstructure:"map"`
	Geolocation GeolocationConfig `yaml:"geolocation" mapstructure:"geolocation"`
	Capture     CaptureConfig     `yaml:"capture" mapstructure:"capture"`
	Workspace   WorkspaceConfig   `yaml:"workspace" mapstructure:"workspace"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32       `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32       `yaml:"min_conns" mapstructure:"min_conns"`
	Tables      TableConfig `yaml:"tables" mapstructure:"tables"`
}

// TableConfig names the tables holding projects and field notes. Both are
// verified at startup; a missing table is a configuration error.
type TableConfig struct {
	Projects   string `yaml:"projects" mapstructure:"projects"`
	FieldNotes string `yaml:"field_notes" mapstructure:"field_notes"`
}

// StorageConfig configures the S3-compatible photo bucket.
type StorageConfig struct {
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	Region        string `yaml:"region" mapstructure:"region"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	UsePathStyle  bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
	CacheControl  string `yaml:"cache_control" mapstructure:"cache_control"`
}

// MapConfig configures the map view and base layers.
type MapConfig struct {
	InitialZoom     int     `yaml:"initial_zoom" mapstructure:"initial_zoom"`
	MinZoom         int     `yaml:"min_zoom" mapstructure:"min_zoom"`
	MaxZoom         int     `yaml:"max_zoom" mapstructure:"max_zoom"`
	DefaultLat      float64 `yaml:"default_lat" mapstructure:"default_lat"`
	DefaultLng      float64 `yaml:"default_lng" mapstructure:"default_lng"`
	LayersFile      string  `yaml:"layers_file" mapstructure:"layers_file"`
	TileCacheSize   int     `yaml:"tile_cache_size" mapstructure:"tile_cache_size"`
	TileCacheTTLMin int     `yaml:"tile_cache_ttl_min" mapstructure:"tile_cache_ttl_min"`
	TileTimeoutSecs int     `yaml:"tile_timeout_secs" mapstructure:"tile_timeout_secs"`
}

// GeolocationConfig configures how the operator position is resolved.
type GeolocationConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	IPLookupURL string  `yaml:"ip_lookup_url" mapstructure:"ip_lookup_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CaptureConfig configures the note capture form.
type CaptureConfig struct {
	MaxConcurrentUploads int   `yaml:"max_concurrent_uploads" mapstructure:"max_concurrent_uploads"`
	MaxPhotoBytes        int64 `yaml:"max_photo_bytes" mapstructure:"max_photo_bytes"`
}

// WorkspaceConfig configures operator session lifetime.
type WorkspaceConfig struct {
	SessionTTLMin      int  `yaml:"session_ttl_min" mapstructure:"session_ttl_min"`
	AutoCancelOnSwitch bool `yaml:"auto_cancel_on_switch" mapstructure:"auto_cancel_on_switch"`
}

// SessionTTL returns the idle TTL as a duration.
func (w WorkspaceConfig) SessionTTL() time.Duration {
	return time.Duration(w.SessionTTLMin) * time.Minute
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FIELDNOTES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.tables.projects", "projects")
	v.SetDefault("store.tables.field_notes", "field_notes")
	v.SetDefault("storage.bucket", "fieldnote-photos")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.use_path_style", true)
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.cache_control", "max-age=3600")
	v.SetDefault("map.initial_zoom", 16)
	v.SetDefault("map.min_zoom", 3)
	v.SetDefault("map.max_zoom", 19)
	v.SetDefault("map.default_lat", 25.9087)
	v.SetDefault("map.default_lng", -80.3087)
	v.SetDefault("map.layers_file", "")
	v.SetDefault("map.tile_cache_size", 2048)
	v.SetDefault("map.tile_cache_ttl_min", 60)
	v.SetDefault("map.tile_timeout_secs", 10)
	v.SetDefault("geolocation.provider", "client")
	v.SetDefault("geolocation.ip_lookup_url", "http://ip-api.com/json/")
	v.SetDefault("geolocation.rate_limit", 1.0)
	v.SetDefault("geolocation.timeout_secs", 5)
	v.SetDefault("capture.max_concurrent_uploads", 3)
	v.SetDefault("capture.max_photo_bytes", 20<<20)
	v.SetDefault("workspace.session_ttl_min", 30)
	v.SetDefault("workspace.auto_cancel_on_switch", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings required by the given mode ("serve", "migrate"
// or "cli"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "migrate", "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.Tables.Projects == "" || c.Store.Tables.FieldNotes == "" {
		errs = append(errs, "store.tables.projects and store.tables.field_notes are required")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Map.MinZoom > c.Map.MaxZoom {
			errs = append(errs, fmt.Sprintf("map.min_zoom %d exceeds map.max_zoom %d", c.Map.MinZoom, c.Map.MaxZoom))
		}
		switch c.Geolocation.Provider {
		case "client", "ip", "static":
		default:
			errs = append(errs, fmt.Sprintf("geolocation.provider %q is not client, ip or static", c.Geolocation.Provider))
		}
		if c.Capture.MaxConcurrentUploads < 1 || c.Capture.MaxConcurrentUploads > 16 {
			errs = append(errs, "capture.max_concurrent_uploads must be between 1 and 16")
		}
		if c.Storage.Bucket == "" {
			errs = append(errs, "storage.bucket is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
