// Package config loads service settings from the environment and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/metrics"
	refreshkafka "github.com/mohammed-shakir/featuregrid/pkg/refresh/kafka"
)

const (
	DefaultMapServiceURL = "https://arcgisservertest.maine.gov/arcgis/rest/services/mdot/MaineDOT_Dynamic_New/MapServer"
	DefaultPageSize      = 250
)

var DefaultLayerTitles = []string{"Culverts - Cross", "Construction Advertise Plan"}

type PageCacheCfg struct {
	Enabled   bool
	Size      int
	TTL       time.Duration
	RedisAddr string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	MapServiceURL   string
	LayerTitles     []string
	PageSize        int
	UpstreamTimeout time.Duration
	BootstrapRetry  time.Duration

	PushFailureMode string
	StalePolicy     string
	ShortPageEnd    bool

	PageCache PageCacheCfg
	Refresh   refreshkafka.RefreshConfig
	Metrics   metrics.Config
}

// fileConfig is the optional CONFIG_FILE document. Environment variables win.
type fileConfig struct {
	MapServiceURL string   `yaml:"map_service_url"`
	PageSize      int      `yaml:"page_size"`
	Layers        []string `yaml:"layers"`
}

// Load reads CONFIG_FILE when set, then applies the environment.
func Load() (Config, error) {
	var fc fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg := fromEnv(fc)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from the environment only.
func FromEnv() Config {
	return fromEnv(fileConfig{})
}

func fromEnv(fc fileConfig) Config {
	mapURL := DefaultMapServiceURL
	if fc.MapServiceURL != "" {
		mapURL = fc.MapServiceURL
	}
	pageSize := DefaultPageSize
	if fc.PageSize > 0 {
		pageSize = fc.PageSize
	}
	titles := DefaultLayerTitles
	if len(fc.Layers) > 0 {
		titles = fc.Layers
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		MapServiceURL:   strings.TrimRight(getenv("MAP_SERVICE_URL", mapURL), "/"),
		LayerTitles:     getlist("LAYER_TITLES", titles),
		PageSize:        getint("PAGE_SIZE", pageSize),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		BootstrapRetry:  getduration("BOOTSTRAP_RETRY", 5*time.Second),

		PushFailureMode: strings.ToLower(getenv("PUSH_FAILURE_MODE", "drop")),
		StalePolicy:     strings.ToLower(getenv("STALE_POLICY", "discard")),
		ShortPageEnd:    getbool("SHORT_PAGE_END", false),

		PageCache: PageCacheCfg{
			Enabled:   getbool("PAGE_CACHE_ENABLED", false),
			Size:      getint("PAGE_CACHE_SIZE", 512),
			TTL:       getduration("PAGE_CACHE_TTL", 60*time.Second),
			RedisAddr: getenv("REDIS_ADDR", ""),
		},
		Refresh: refreshkafka.FromEnv(),
		Metrics: metrics.Config{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
			Build: metrics.BuildInfo{
				Version:   os.Getenv("BUILD_VERSION"),
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		},
	}
}

func (c Config) Validate() error {
	if c.MapServiceURL == "" {
		return fmt.Errorf("config: map service url is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("config: page size must be positive, got %d", c.PageSize)
	}
	if len(c.LayerTitles) == 0 {
		return fmt.Errorf("config: at least one layer title is required")
	}
	switch c.PushFailureMode {
	case "drop", "emit":
	default:
		return fmt.Errorf("config: PUSH_FAILURE_MODE must be drop or emit, got %q", c.PushFailureMode)
	}
	switch c.StalePolicy {
	case "discard", "deliver":
	default:
		return fmt.Errorf("config: STALE_POLICY must be discard or deliver, got %q", c.StalePolicy)
	}
	return nil
}

func (c Config) StreamOptions() []collection.StreamOption {
	var opts []collection.StreamOption
	if c.PushFailureMode == "emit" {
		opts = append(opts, collection.WithFailureMode(collection.EmitFailureEvent))
	}
	if c.StalePolicy == "deliver" {
		opts = append(opts, collection.WithStalePolicy(collection.DeliverAll))
	}
	return opts
}

func (c Config) DatasourceOptions() []collection.DatasourceOption {
	if c.ShortPageEnd {
		return []collection.DatasourceOption{collection.WithShortPageEnd()}
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// comma separated, blanks dropped
func getlist(k string, def []string) []string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
