// Package offline0 runs the offline worker behind an HTTP front: config,
// storage, the control channel, metrics and the request path pages hit.
package offline0

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"offline0/internal/worker"
)

// Duration is a time.Duration read from config as "30s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration: expected a string like \"30s\"")
	}
	v, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Worker   WorkerConfig   `yaml:"worker"`
	Manifest ManifestConfig `yaml:"manifest"`
	Fallback FallbackConfig `yaml:"fallback"`
	Push     PushConfig     `yaml:"push"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`

	origin    *url.URL
	publicURL *url.URL
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	Origin string `yaml:"origin"`
	// PublicURL is the origin pages load the app from. Defaults to Origin.
	PublicURL string `yaml:"public_url"`
	Scope     string `yaml:"scope"`
	// Admin guards the push, notification click and sync endpoints. They
	// answer 403 while no password is set.
	Admin AdminConfig `yaml:"admin"`
}

type AdminConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type WorkerConfig struct {
	Version     string `yaml:"version"`
	CachePrefix string `yaml:"cache_prefix"`
	// UserAgent picks the profile of the root worker. Requests from other
	// browsers get a sibling worker with their own profile.
	UserAgent  string   `yaml:"user_agent"`
	Manifest   []string `yaml:"manifest"`
	CoreAssets []string `yaml:"core_assets"`
	// CDNHosts widens interception to absolute URLs on these hosts. The HTTP
	// front always addresses the scope origin, and cross-origin responses are
	// never stored.
	CDNHosts              []string `yaml:"cdn_hosts"`
	RefreshMinInterval    Duration `yaml:"refresh_min_interval"`
	SelfCheckEvery        Duration `yaml:"self_check_every"`
	BackgroundConcurrency int      `yaml:"background_concurrency"`
	FetchTimeout          Duration `yaml:"fetch_timeout"`
	SkipWaiting           bool     `yaml:"skip_waiting"`
	ProbePath             string   `yaml:"probe_path"`
	ProbeTimeout          Duration `yaml:"probe_timeout"`
}

type ManifestConfig struct {
	Sitemaps        []string `yaml:"sitemaps"`
	DiscoverTimeout Duration `yaml:"discover_timeout"`
}

type FallbackConfig struct {
	OfflinePage      string `yaml:"offline_page"`
	PlaceholderImage string `yaml:"placeholder_image"`
}

type PushConfig struct {
	Title       string `yaml:"title"`
	Body        string `yaml:"body"`
	Icon        string `yaml:"icon"`
	Badge       string `yaml:"badge"`
	DefaultPath string `yaml:"default_path"`
}

type StorageConfig struct {
	Driver string   `yaml:"driver"`
	Path   string   `yaml:"path"`
	Max    ByteSize `yaml:"max"`
}

type LoggingConfig struct {
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"`
	StatsEvery Duration `yaml:"stats_every"`
}

// DefaultConfig returns a Config populated with all default values. The
// upstream origin has no default.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:  8080,
			Scope: "/",
			Admin: AdminConfig{User: "admin"},
		},
		Worker: WorkerConfig{
			Version:     "v1",
			CachePrefix: "jelisos-image-compressor-",
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Manifest: []string{
				"/",
				"/index.html",
				"/styles.css",
				"/app.js",
				"/manifest.json",
				"/offline.html",
				"/placeholder-image.svg",
				"/icons/icon-192x192.png",
				"/icons/icon-512x512.png",
			},
			CoreAssets:            []string{"/", "/index.html", "/offline.html"},
			CDNHosts:              []string{"cdn.jsdelivr.net", "cdnjs.cloudflare.com"},
			RefreshMinInterval:    Duration(30 * time.Second),
			SelfCheckEvery:        Duration(60 * time.Second),
			BackgroundConcurrency: 32,
			FetchTimeout:          Duration(30 * time.Second),
			ProbePath:             "/manifest.json",
			ProbeTimeout:          Duration(5 * time.Second),
		},
		Manifest: ManifestConfig{
			DiscoverTimeout: Duration(2 * time.Minute),
		},
		Fallback: FallbackConfig{
			OfflinePage:      "/offline.html",
			PlaceholderImage: "/placeholder-image.svg",
		},
		Push: PushConfig{
			Title:       "Image Compressor",
			Body:        "You have a new message",
			Icon:        "/icons/icon-192x192.png",
			Badge:       "/icons/icon-72x72.png",
			DefaultPath: "/",
		},
		Storage: StorageConfig{
			Driver: "leveldb",
			Path:   "./data/leveldb",
			Max:    256 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config and resolves its URLs. Call it again after
// changing fields of a loaded config.
func (c *Config) Validate() error { return c.validate() }

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Origin) == "" {
		return errors.New("server.origin is required")
	}
	origin, err := parseBaseURL(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	c.Server.Origin = origin.String()
	c.origin = origin

	c.publicURL = origin
	if c.Server.PublicURL != "" {
		pub, err := parseBaseURL(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("server.public_url: %w", err)
		}
		c.Server.PublicURL = pub.String()
		c.publicURL = pub
	}

	if c.Server.Scope == "" {
		c.Server.Scope = "/"
	}
	if !strings.HasPrefix(c.Server.Scope, "/") {
		return fmt.Errorf("server.scope must start with /, got %q", c.Server.Scope)
	}

	if c.Server.Admin.Password != "" && strings.TrimSpace(c.Server.Admin.User) == "" {
		return errors.New("server.admin.user is required when a password is set")
	}

	if strings.TrimSpace(c.Worker.Version) == "" {
		return errors.New("worker.version is required")
	}
	if c.Worker.BackgroundConcurrency < 0 {
		return errors.New("worker.background_concurrency must not be negative")
	}
	if c.Worker.RefreshMinInterval < 0 {
		return errors.New("worker.refresh_min_interval must not be negative")
	}
	if c.Manifest.DiscoverTimeout <= 0 {
		c.Manifest.DiscoverTimeout = Duration(2 * time.Minute)
	}

	switch c.Storage.Driver {
	case "leveldb":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the leveldb driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be leveldb or memory, got %q", c.Storage.Driver)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// parseBaseURL accepts an absolute http(s) URL and drops any path.
func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// ScopeURL is the public URL the worker controls.
func (c Config) ScopeURL() *url.URL {
	u := *c.publicURL
	u.Path = c.Server.Scope
	return &u
}

func (c Config) OriginURL() *url.URL {
	u := *c.origin
	return &u
}

// WorkerOptions maps the config onto the worker's options.
func (c Config) WorkerOptions() worker.Options {
	return worker.Options{
		Version:               c.Worker.Version,
		CachePrefix:           c.Worker.CachePrefix,
		Scope:                 c.ScopeURL(),
		UserAgent:             c.Worker.UserAgent,
		Manifest:              append([]string(nil), c.Worker.Manifest...),
		CoreAssets:            append([]string(nil), c.Worker.CoreAssets...),
		CDNHosts:              append([]string(nil), c.Worker.CDNHosts...),
		OfflinePage:           c.Fallback.OfflinePage,
		PlaceholderImage:      c.Fallback.PlaceholderImage,
		RefreshMinInterval:    c.Worker.RefreshMinInterval.Std(),
		BackgroundConcurrency: c.Worker.BackgroundConcurrency,
		FetchTimeout:          c.Worker.FetchTimeout.Std(),
		Push: worker.PushOptions{
			Title:       c.Push.Title,
			Body:        c.Push.Body,
			Icon:        c.Push.Icon,
			Badge:       c.Push.Badge,
			DefaultPath: c.Push.DefaultPath,
		},
	}
}
