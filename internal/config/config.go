// Package config loads process configuration and per-sender extraction policies.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds all configuration for docfetch.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Advisor  AdvisorConfig  `mapstructure:"advisor"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Policies PoliciesConfig `mapstructure:"policies"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	Token         string        `mapstructure:"token"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// AdvisorConfig bounds the remote AI advisors. With no Gemini key the heuristics are used.
type AdvisorConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	Burst        int           `mapstructure:"burst"`
}

type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxPDFBytes  int64         `mapstructure:"max_pdf_bytes"`
	UserAgent    string        `mapstructure:"user_agent"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	Burst        int           `mapstructure:"burst"`
}

type BrowserConfig struct {
	ExecPath           string        `mapstructure:"exec_path"`
	Headless           bool          `mapstructure:"headless"`
	NoSandbox          bool          `mapstructure:"no_sandbox"`
	DownloadDir        string        `mapstructure:"download_dir"`
	LaunchTimeout      time.Duration `mapstructure:"launch_timeout"`
	NavigateTimeout    time.Duration `mapstructure:"navigate_timeout"`
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	DownloadTimeout    time.Duration `mapstructure:"download_timeout"`
	PrintTimeout       time.Duration `mapstructure:"print_timeout"`
}

// AgentConfig points at the agentic browser service. An empty BaseURL disables the lane.
type AgentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StorageConfig struct {
	// Backend is local, minio or none.
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Prefix  string `mapstructure:"prefix"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Stream        string        `mapstructure:"stream"`
	ResultsStream string        `mapstructure:"results_stream"`
	Consumer      string        `mapstructure:"consumer"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	NakDelay      time.Duration `mapstructure:"nak_delay"`
}

type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type PipelineConfig struct {
	Workers      int           `mapstructure:"workers"`
	MaxRetries   int           `mapstructure:"max_retries"`
	ItemTimeout  time.Duration `mapstructure:"item_timeout"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	FailFast     bool          `mapstructure:"fail_fast"`
	MaxHops      int           `mapstructure:"max_hops"`
}

type PoliciesConfig struct {
	File string `mapstructure:"file"`
}

const envPrefix = "DOCFETCH"

// Load reads defaults, then the optional YAML file at path, then DOCFETCH_* environment
// variables (section.key becomes DOCFETCH_SECTION_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrapf(err, "read config file %s", path)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The Gemini key is commonly exported without the prefix.
	if err := v.BindEnv("gemini.api_key", envPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "bind gemini api key")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.token", "")
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_grace", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.base_url", "")

	v.SetDefault("advisor.timeout", "15s")
	v.SetDefault("advisor.rate_limit_rps", 1.0)
	v.SetDefault("advisor.burst", 2)

	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.max_pdf_bytes", 25<<20)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.rate_limit_rps", 5.0)
	v.SetDefault("fetch.burst", 5)

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.download_dir", "")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigate_timeout", "30s")
	v.SetDefault("browser.step_timeout", "10s")
	v.SetDefault("browser.network_idle_timeout", "45s")
	v.SetDefault("browser.download_timeout", "20s")
	v.SetDefault("browser.print_timeout", "30s")

	v.SetDefault("agent.base_url", "")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.task_timeout", "3m")
	v.SetDefault("agent.request_timeout", "30s")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "./documents")
	v.SetDefault("storage.prefix", "inbound")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "docfetch")
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.stream", "DOCFETCH")
	v.SetDefault("nats.results_stream", "DOCFETCH_RESULTS")
	v.SetDefault("nats.consumer", "docfetch-workers")
	v.SetDefault("nats.ack_wait", "5m")
	v.SetDefault("nats.max_deliver", 3)
	v.SetDefault("nats.nak_delay", "30s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.prefix", "docfetch:seen:")
	v.SetDefault("redis.ttl", "72h")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.item_timeout", "5m")
	v.SetDefault("pipeline.rate_limit_rps", 0.0)
	v.SetDefault("pipeline.fail_fast", false)
	v.SetDefault("pipeline.max_hops", 4)

	v.SetDefault("policies.file", "")
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return eris.New("storage.dir is required for the local backend")
		}
	case "minio":
		if strings.TrimSpace(c.MinIO.Endpoint) == "" {
			return eris.New("minio.endpoint is required for the minio backend")
		}
	case "none":
	default:
		return eris.Errorf("invalid storage.backend %q (want local, minio or none)", c.Storage.Backend)
	}
	if c.Pipeline.Workers <= 0 {
		return eris.Errorf("pipeline.workers must be > 0, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxRetries < 0 {
		return eris.Errorf("pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.MaxHops <= 0 {
		return eris.Errorf("pipeline.max_hops must be > 0, got %d", c.Pipeline.MaxHops)
	}
	return nil
}
