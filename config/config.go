package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the trendwatch service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address           string `mapstructure:"address"`
	JWTSecret         string `mapstructure:"jwt_secret"`
	PublicBaseURL     string `mapstructure:"public_base_url"`
	AdminEmail        string `mapstructure:"admin_email"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

// PipelineConfig drives the ingestion cycle and its retry behaviour.
type PipelineConfig struct {
	CrawlInterval         time.Duration `mapstructure:"crawl_interval"`
	Cron                  string        `mapstructure:"cron"`
	MaxIngestionRetries   int           `mapstructure:"max_ingestion_retries"`
	ProcessRetryDelay     time.Duration `mapstructure:"process_retry_delay"`
	IngestionFailureDelay time.Duration `mapstructure:"ingestion_failure_delay"`
	TopicLimit            int           `mapstructure:"topic_limit"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
}

// Normalize fills unset values with the service defaults.
func (p PipelineConfig) Normalize() PipelineConfig {
	if p.CrawlInterval <= 0 {
		p.CrawlInterval = 30 * time.Minute
	}
	if p.MaxIngestionRetries <= 0 {
		p.MaxIngestionRetries = 5
	}
	if p.ProcessRetryDelay < 0 {
		p.ProcessRetryDelay = 0
	}
	if p.IngestionFailureDelay <= 0 {
		p.IngestionFailureDelay = 15 * time.Minute
	}
	if p.TopicLimit <= 0 {
		p.TopicLimit = 10
	}
	if p.FetchTimeout <= 0 {
		p.FetchTimeout = time.Minute
	}
	p.Cron = strings.TrimSpace(p.Cron)
	return p
}

func (p PipelineConfig) Validate() error {
	if p.MaxIngestionRetries > 50 {
		return fmt.Errorf("pipeline.max_ingestion_retries must be <= 50")
	}
	return nil
}

// DedupConfig toggles the optional semantic and reasoning tiers.
type DedupConfig struct {
	SemanticEnabled   bool    `mapstructure:"semantic_enabled"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
	RecentVectors     int     `mapstructure:"recent_vectors"`
	ReasoningEnabled  bool    `mapstructure:"reasoning_enabled"`
	RecentTopics      int     `mapstructure:"recent_topics"`
}

// Normalize applies defaults for unset dedup values.
func (d DedupConfig) Normalize() DedupConfig {
	if d.SemanticThreshold <= 0 {
		d.SemanticThreshold = 0.9
	}
	if d.RecentVectors <= 0 {
		d.RecentVectors = 200
	}
	if d.RecentTopics <= 0 {
		d.RecentTopics = 10
	}
	return d
}

func (d DedupConfig) Validate() error {
	if d.SemanticThreshold > 1 {
		return fmt.Errorf("dedup.semantic_threshold must be <= 1")
	}
	return nil
}

// NotifierConfig contains SMTP delivery settings.
type NotifierConfig struct {
	EmailSendInterval time.Duration `mapstructure:"email_send_interval"`
	SMTPHost          string        `mapstructure:"smtp_host"`
	SMTPPort          int           `mapstructure:"smtp_port"`
	SMTPUser          string        `mapstructure:"smtp_user"`
	SMTPPass          string        `mapstructure:"smtp_pass"`
	FromAddress       string        `mapstructure:"from_address"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RatePerMinute     int           `mapstructure:"rate_per_minute"`
}

// Enabled reports whether enough SMTP settings exist to send real mail.
func (n NotifierConfig) Enabled() bool {
	return strings.TrimSpace(n.SMTPHost) != "" && strings.TrimSpace(n.SMTPUser) != ""
}

func (n NotifierConfig) Validate() error {
	if n.SMTPPort < 0 || n.SMTPPort > 65535 {
		return fmt.Errorf("notifier.smtp_port out of range")
	}
	if n.Enabled() && strings.TrimSpace(n.SMTPPass) == "" {
		return fmt.Errorf("notifier.smtp_pass required when smtp_user is set")
	}
	return nil
}

// LLMConfig selects the reasoning provider used by chat and dedup.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"` // openai, anthropic
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ChatModel      string        `mapstructure:"chat_model"`
	JudgeModel     string        `mapstructure:"judge_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Provider)) {
	case "", "openai", "anthropic":
		return nil
	default:
		return fmt.Errorf("llm.provider %q not supported", l.Provider)
	}
}

// SourcesConfig lists the content providers queried for candidates.
type SourcesConfig struct {
	Providers  []string           `mapstructure:"providers"`
	MaxResults int                `mapstructure:"max_results"`
	SerpAPI    APIKeyConfig       `mapstructure:"serpapi"`
	Serper     APIKeyConfig       `mapstructure:"serper"`
	Brave      APIKeyConfig       `mapstructure:"brave"`
	NewsAPI    NewsAPIConfig      `mapstructure:"newsapi"`
	RSS        RSSConfig          `mapstructure:"rss"`
	Enrich     EnrichConfig       `mapstructure:"enrich"`
	Policy     SourcePolicyConfig `mapstructure:"policy"`
}

type APIKeyConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type NewsAPIConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

type RSSConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// EnrichConfig controls article fetching for candidates without a summary.
type EnrichConfig struct {
	Mode     string        `mapstructure:"mode"` // off, http, chromedp
	MaxChars int           `mapstructure:"max_chars"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (s SourcesConfig) Validate() error {
	for _, p := range s.Providers {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "serpapi", "serper", "brave", "newsapi", "rss":
		default:
			return fmt.Errorf("sources.providers: unknown provider %q", p)
		}
	}
	switch strings.ToLower(s.Enrich.Mode) {
	case "", "off", "http", "chromedp":
	default:
		return fmt.Errorf("sources.enrich.mode %q not supported", s.Enrich.Mode)
	}
	return s.Policy.Validate()
}

// StorageConfig contains database settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings. Redis is optional.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port with the default port applied.
func (r RedisConfig) Addr() string {
	port := strings.TrimSpace(r.Port)
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", strings.TrimSpace(r.Host), port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains metrics exposure settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("TRENDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (TRENDWATCH_*)

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Finalize(); err != nil {
		panic(err)
	}
	return &config
}

// Finalize normalizes every section and validates the result.
func (c *Config) Finalize() error {
	c.Pipeline = c.Pipeline.Normalize()
	c.Dedup = c.Dedup.Normalize()
	c.Sources.Policy = c.Sources.Policy.Normalize()
	if c.Sources.MaxResults <= 0 {
		c.Sources.MaxResults = 10
	}
	if len(c.Sources.Providers) == 0 {
		c.Sources.Providers = []string{"rss"}
	}

	validators := []func() error{
		c.Pipeline.Validate,
		c.Dedup.Validate,
		c.Notifier.Validate,
		c.LLM.Validate,
		c.Sources.Validate,
		c.Storage.Postgres.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("server.address", ":10001")
	v.SetDefault("pipeline.crawl_interval", 30*time.Minute)
	v.SetDefault("pipeline.max_ingestion_retries", 5)
	v.SetDefault("pipeline.process_retry_delay", 30*time.Second)
	v.SetDefault("pipeline.ingestion_failure_delay", 15*time.Minute)
	v.SetDefault("pipeline.topic_limit", 10)
	v.SetDefault("pipeline.fetch_timeout", time.Minute)
	v.SetDefault("dedup.semantic_threshold", 0.9)
	v.SetDefault("dedup.recent_vectors", 200)
	v.SetDefault("dedup.recent_topics", 10)
	v.SetDefault("notifier.email_send_interval", time.Hour)
	v.SetDefault("notifier.smtp_host", "smtp.gmail.com")
	v.SetDefault("notifier.smtp_port", 587)
	v.SetDefault("notifier.timeout", 30*time.Second)
	v.SetDefault("notifier.rate_per_minute", 30)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.judge_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("sources.providers", []string{"rss"})
	v.SetDefault("sources.max_results", 10)
	v.SetDefault("sources.newsapi.endpoint", "https://newsapi.org/v2/everything")
	v.SetDefault("sources.rss.endpoint", "https://news.google.com/rss/search")
	v.SetDefault("sources.enrich.mode", "off")
	v.SetDefault("sources.enrich.max_chars", 600)
	v.SetDefault("sources.enrich.timeout", 20*time.Second)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics_path", "/metrics")
}
