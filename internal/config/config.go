package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Atlas   AtlasConfig   `yaml:"atlas" mapstructure:"atlas"`
	Resolve ResolveConfig `yaml:"resolve" mapstructure:"resolve"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// Atlas sources.
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// AtlasConfig selects where region boundaries and soil profiles come from.
type AtlasConfig struct {
	Source       string `yaml:"source" mapstructure:"source"`               // embedded, file or postgres
	Path         string `yaml:"path" mapstructure:"path"`                   // GeoJSON path when source is file
	Table        string `yaml:"table" mapstructure:"table"`                 // PostGIS table when source is postgres
	ProfilesPath string `yaml:"profiles_path" mapstructure:"profiles_path"` // optional soil profile YAML override
}

// ResolveConfig tunes the resolution engine.
type ResolveConfig struct {
	Metric       string         `yaml:"metric" mapstructure:"metric"`
	ThresholdDeg float64        `yaml:"threshold_deg" mapstructure:"threshold_deg"`
	ThresholdKm  float64        `yaml:"threshold_km" mapstructure:"threshold_km"`
	UseIndex     bool           `yaml:"use_index" mapstructure:"use_index"`
	Coverage     CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
}

// CoverageConfig is the macro bounding box; points outside it are out of
// coverage.
type CoverageConfig struct {
	MinLat float64 `yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat float64 `yaml:"max_lat" mapstructure:"max_lat"`
	MinLon float64 `yaml:"min_lon" mapstructure:"min_lon"`
	MaxLon float64 `yaml:"max_lon" mapstructure:"max_lon"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int             `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string        `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit          RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	RequestTimeoutSecs int             `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	TrustedProxies     []string        `yaml:"trusted_proxies" mapstructure:"trusted_proxies"` // CIDRs or addresses whose X-Forwarded-For is believed
}

// RateLimitConfig is a per-client token bucket. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// BatchConfig configures bulk resolution.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// StoreConfig configures the Postgres connection used for the PostGIS atlas.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
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
	v.SetEnvPrefix("SOILMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("atlas.source", SourceEmbedded)
	v.SetDefault("atlas.path", "")
	v.SetDefault("atlas.table", "geo.soil_regions")
	v.SetDefault("atlas.profiles_path", "")
	v.SetDefault("resolve.metric", "planar")
	v.SetDefault("resolve.threshold_deg", 0.5)
	v.SetDefault("resolve.threshold_km", 55.0)
	v.SetDefault("resolve.use_index", true)
	v.SetDefault("resolve.coverage.min_lat", 6.0)
	v.SetDefault("resolve.coverage.max_lat", 37.5)
	v.SetDefault("resolve.coverage.min_lon", 68.0)
	v.SetDefault("resolve.coverage.max_lon", 97.5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit.rps", 50.0)
	v.SetDefault("server.rate_limit.burst", 100)
	v.SetDefault("server.request_timeout_secs", 10)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("store.database_url", "")
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

// Validate checks the settings a command needs. mode is one of resolve,
// batch, serve or publish.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Atlas.Source {
	case SourceEmbedded:
	case SourceFile:
		if c.Atlas.Path == "" {
			errs = append(errs, "atlas.path is required when atlas.source is file")
		}
	case SourcePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required when atlas.source is postgres")
		}
	default:
		errs = append(errs, "atlas.source must be one of embedded, file, postgres")
	}

	switch strings.ToLower(c.Resolve.Metric) {
	case "", "planar", "haversine":
	default:
		errs = append(errs, "resolve.metric must be planar or haversine")
	}
	if c.Resolve.ThresholdDeg < 0 || c.Resolve.ThresholdKm < 0 {
		errs = append(errs, "resolve thresholds must be >= 0")
	}
	cov := c.Resolve.Coverage
	if cov.MinLat >= cov.MaxLat || cov.MinLon >= cov.MaxLon {
		errs = append(errs, "resolve.coverage min values must be below max values")
	}

	switch mode {
	case "resolve", "atlas":
	case "batch":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 256 {
			errs = append(errs, "batch.concurrency must be between 1 and 256")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RequestTimeoutSecs <= 0 {
			errs = append(errs, "server.request_timeout_secs must be > 0")
		}
		if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst < 1 {
			errs = append(errs, "server.rate_limit.burst must be >= 1 when rps is set")
		}
		for _, p := range c.Server.TrustedProxies {
			if !validProxy(p) {
				errs = append(errs, fmt.Sprintf("server.trusted_proxies entry %q is not an address or CIDR", p))
			}
		}
	case "publish":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
