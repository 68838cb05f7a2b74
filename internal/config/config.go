// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. SAMEAS_STORE_TYPE.
const EnvPrefix = "SAMEAS"

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Interface defines the contract for accessing application configuration.
// Components receive it so tests can hand in a fixed configuration.
type Interface interface {
	Logger() LoggerConfig
	Store() StoreConfig
	Federation() FederationConfig
	Discovery() DiscoveryConfig
	Metrics() MetricsConfig

	// Discovery Setters, driven by CLI flags.
	SetDiscoverySeeds([]string)
	SetDiscoveryDatasets([]DatasetConfig)
	SetDiscoveryFunctionalProperties(bool)
	SetDiscoveryNonASCIIHandling(bool)
	SetDiscoveryMaxIterations(int)

	// Federation Setters
	SetFederationTimeout(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	FederationCfg FederationConfig `mapstructure:"federation" yaml:"federation"`
	DiscoveryCfg  DiscoveryConfig  `mapstructure:"discovery" yaml:"discovery"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) Federation() FederationConfig { return c.FederationCfg }
func (c *Config) Discovery() DiscoveryConfig   { return c.DiscoveryCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetDiscoverySeeds(s []string)            { c.DiscoveryCfg.Seeds = s }
func (c *Config) SetDiscoveryDatasets(d []DatasetConfig)  { c.DiscoveryCfg.Datasets = d }
func (c *Config) SetDiscoveryFunctionalProperties(b bool) { c.DiscoveryCfg.FunctionalProperties = b }
func (c *Config) SetDiscoveryNonASCIIHandling(b bool)     { c.DiscoveryCfg.NonASCIIHandling = b }
func (c *Config) SetDiscoveryMaxIterations(n int)         { c.DiscoveryCfg.MaxIterations = n }
func (c *Config) SetFederationTimeout(d time.Duration)    { c.FederationCfg.Timeout = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// StoreConfig selects the graph store backend.
type StoreConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
// URL, when set, wins over the individual fields.
type PostgresConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
}

// DSN renders the connection string for pgxpool.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.DBName,
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else if p.User != "" {
		u.User = url.User(p.User)
	}
	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	if p.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(p.MaxConns))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// FederationConfig controls how remote endpoints are queried.
type FederationConfig struct {
	// Timeout bounds each remote query.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Concurrency bounds the number of endpoints queried at once.
	Concurrency       int     `mapstructure:"concurrency" yaml:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	// MaxRetries adds attempts within a stage. Zero leaves a failed endpoint
	// to be retried on the next iteration.
	MaxRetries uint `mapstructure:"max_retries" yaml:"max_retries"`
	// BatchSize is the number of frontier resources bound per VALUES query.
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ProxyURL        string `mapstructure:"proxy_url" yaml:"proxy_url"`
}

// DatasetConfig names one dataset and its SPARQL endpoint.
type DatasetConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// DiscoveryConfig configures the discovery loop.
type DiscoveryConfig struct {
	Seeds     []string        `mapstructure:"seeds" yaml:"seeds"`
	SeedsFile string          `mapstructure:"seeds_file" yaml:"seeds_file"`
	Datasets  []DatasetConfig `mapstructure:"datasets" yaml:"datasets"`
	// FunctionalProperties enables candidate discovery, voting and inference.
	FunctionalProperties bool `mapstructure:"functional_properties" yaml:"functional_properties"`
	// NonASCIIHandling sends non-ASCII resources to endpoints that accept them.
	NonASCIIHandling bool `mapstructure:"non_ascii_handling" yaml:"non_ascii_handling"`
	// MaxIterations stops the loop early; zero runs until the frontier is empty.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// ProbeCeiling caps the result-limit probe.
	ProbeCeiling      int           `mapstructure:"probe_ceiling" yaml:"probe_ceiling"`
	SchemaPageSize    int           `mapstructure:"schema_page_size" yaml:"schema_page_size"`
	VocabularyTimeout time.Duration `mapstructure:"vocabulary_timeout" yaml:"vocabulary_timeout"`
	SkipProbe         bool          `mapstructure:"skip_probe" yaml:"skip_probe"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "sameas-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Store --
	v.SetDefault("store.type", StoreMemory)
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.password", "") // Should be set via env var
	v.SetDefault("store.postgres.dbname", "sameas")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("store.postgres.max_conns", 8)

	// -- Federation --
	v.SetDefault("federation.timeout", "200s")
	v.SetDefault("federation.concurrency", 8)
	v.SetDefault("federation.requests_per_second", 2.0)
	v.SetDefault("federation.burst", 2)
	v.SetDefault("federation.max_retries", 0)
	v.SetDefault("federation.batch_size", 50)
	v.SetDefault("federation.user_agent", "sameas-cli")
	v.SetDefault("federation.ignore_tls_errors", false)

	// -- Discovery --
	v.SetDefault("discovery.functional_properties", false)
	v.SetDefault("discovery.non_ascii_handling", false)
	v.SetDefault("discovery.max_iterations", 0)
	v.SetDefault("discovery.probe_ceiling", 100000)
	v.SetDefault("discovery.schema_page_size", 10000)
	v.SetDefault("discovery.vocabulary_timeout", "30s")
	v.SetDefault("discovery.skip_probe", false)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.postgres.password", EnvPrefix+"_PG_PASSWORD")
	_ = v.BindEnv("store.postgres.url", EnvPrefix+"_PG_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.LoggerCfg.LogFile, err = homedir.Expand(c.LoggerCfg.LogFile); err != nil {
		return err
	}
	if c.DiscoveryCfg.SeedsFile, err = homedir.Expand(c.DiscoveryCfg.SeedsFile); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.StoreCfg.Type {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreCfg.Type)
	}
	if err := c.FederationCfg.Validate(); err != nil {
		return fmt.Errorf("federation configuration invalid: %w", err)
	}
	if err := c.DiscoveryCfg.Validate(); err != nil {
		return fmt.Errorf("discovery configuration invalid: %w", err)
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

// Validate checks the federation settings.
func (f *FederationConfig) Validate() error {
	if f.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if f.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if f.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be a positive integer")
	}
	if f.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if f.ProxyURL != "" {
		if _, err := url.Parse(f.ProxyURL); err != nil {
			return fmt.Errorf("proxy_url is not a valid URL: %w", err)
		}
	}
	return nil
}

// Validate checks the discovery settings.
func (d *DiscoveryConfig) Validate() error {
	if d.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative")
	}
	if d.SchemaPageSize <= 0 {
		return fmt.Errorf("schema_page_size must be a positive integer")
	}
	seen := make(map[string]bool, len(d.Datasets))
	for i, ds := range d.Datasets {
		if strings.TrimSpace(ds.ID) == "" || strings.TrimSpace(ds.Endpoint) == "" {
			return fmt.Errorf("datasets[%d] needs both id and endpoint", i)
		}
		if seen[ds.ID] {
			return fmt.Errorf("dataset %q is declared twice", ds.ID)
		}
		seen[ds.ID] = true
		u, err := url.Parse(ds.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("dataset %q endpoint %q must be an http(s) URL", ds.ID, ds.Endpoint)
		}
	}
	return nil
}

// ParseDataset reads the "id=endpoint" form used on the command line.
func ParseDataset(s string) (DatasetConfig, error) {
	id, endpoint, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(endpoint) == "" {
		return DatasetConfig{}, fmt.Errorf("dataset %q must have the form id=endpoint", s)
	}
	return DatasetConfig{ID: strings.TrimSpace(id), Endpoint: strings.TrimSpace(endpoint)}, nil
}
