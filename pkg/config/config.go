package config

import (
	"encoding/json"
	"time"
)

const redacted = "[REDACTED]"

// SensitiveString holds a secret that must never be printed or serialized.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the underlying secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config represents the complete configuration of the assistant service.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Runtime    RuntimeConfig    `koanf:"runtime"`
	Embedder   EmbedderConfig   `koanf:"embedder"`
	Store      StoreConfig      `koanf:"store"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Completion CompletionConfig `koanf:"completion"`
	Relay      RelayConfig      `koanf:"relay"`
	Reindex    ReindexConfig    `koanf:"reindex"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Cache      CacheConfig      `koanf:"cache"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"        env:"SERVER_HOST"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `koanf:"read_timeout"                                env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `koanf:"write_timeout"                               env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"                                env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"                            env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// RuntimeConfig contains process-level settings.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error disabled" env:"RUNTIME_LOG_LEVEL"`
	LogJSON     bool   `koanf:"log_json"                                                     env:"RUNTIME_LOG_JSON"`
}

// EmbedderConfig selects and tunes the feature-extraction backend.
type EmbedderConfig struct {
	Provider  string          `koanf:"provider"   validate:"oneof=http local openai" env:"EMBEDDER_PROVIDER"`
	Model     string          `koanf:"model"      validate:"required"                env:"EMBEDDER_MODEL"`
	BaseURL   string          `koanf:"base_url"                                      env:"EMBEDDER_BASE_URL"`
	APIKey    SensitiveString `koanf:"api_key"                                       env:"HF_API_KEY"        sensitive:"true"`
	Dimension int             `koanf:"dimension"  validate:"min=1,max=8192"          env:"EMBEDDER_DIMENSION"`
	ModelsDir string          `koanf:"models_dir"                                    env:"EMBEDDER_MODELS_DIR"`
	Timeout   time.Duration   `koanf:"timeout"                                       env:"EMBEDDER_TIMEOUT"`
	CacheSize int             `koanf:"cache_size" validate:"min=0"                   env:"EMBEDDER_CACHE_SIZE"`
}

// StoreConfig selects the corpus index backend.
type StoreConfig struct {
	Driver      string          `koanf:"driver"       validate:"oneof=memory sqlite postgres postgrest" env:"STORE_DRIVER"`
	DSN         SensitiveString `koanf:"dsn"                                                            env:"DATABASE_URL"              sensitive:"true"`
	Path        string          `koanf:"path"                                                           env:"STORE_PATH"`
	URL         string          `koanf:"url"                                                            env:"NEXT_PUBLIC_SUPABASE_URL"`
	APIKey      SensitiveString `koanf:"api_key"                                                        env:"SUPABASE_SERVICE_ROLE"     sensitive:"true"`
	Timeout     time.Duration   `koanf:"timeout"                                                        env:"STORE_TIMEOUT"`
	AutoMigrate bool            `koanf:"auto_migrate"                                                   env:"STORE_AUTO_MIGRATE"`
	MaxConns    int32           `koanf:"max_conns"    validate:"min=0"                                  env:"STORE_MAX_CONNS"`
}

// RetrievalConfig tunes the similarity lookup behind grounded answers.
type RetrievalConfig struct {
	TopK          int     `koanf:"top_k"          validate:"min=1,max=100" env:"RETRIEVAL_TOP_K"`
	MinSimilarity float64 `koanf:"min_similarity" validate:"min=0,max=1"   env:"RETRIEVAL_MIN_SIMILARITY"`
	FallbackQuery string  `koanf:"fallback_query" validate:"required"      env:"RETRIEVAL_FALLBACK_QUERY"`
}

// CompletionConfig configures the OpenAI-compatible completion endpoint used for grounded answers.
type CompletionConfig struct {
	BaseURL     string          `koanf:"base_url"    validate:"required,url" env:"COMPLETION_BASE_URL"`
	APIKey      SensitiveString `koanf:"api_key"                             env:"OPENROUTER_API_KEY"   sensitive:"true"`
	Model       string          `koanf:"model"       validate:"required"     env:"COMPLETION_MODEL"`
	Temperature float64         `koanf:"temperature" validate:"min=0,max=2"  env:"COMPLETION_TEMPERATURE"`
	Timeout     time.Duration   `koanf:"timeout"                             env:"COMPLETION_TIMEOUT"`
	MaxRetries  int             `koanf:"max_retries" validate:"min=0,max=3"  env:"COMPLETION_MAX_RETRIES"`
	Referer     string          `koanf:"referer"                             env:"NEXT_PUBLIC_SITE_URL"`
	Title       string          `koanf:"title"                               env:"COMPLETION_TITLE"`
}

// RelayConfig configures the direct, non-grounded completion relay.
type RelayConfig struct {
	BaseURL      string          `koanf:"base_url"      validate:"required,url" env:"RELAY_BASE_URL"`
	APIKey       SensitiveString `koanf:"api_key"                               env:"RELAY_API_KEY"     sensitive:"true"`
	Model        string          `koanf:"model"         validate:"required"     env:"RELAY_MODEL"`
	SystemPrompt string          `koanf:"system_prompt"                         env:"RELAY_SYSTEM_PROMPT"`
}

// ReindexConfig bounds batch reindexing.
type ReindexConfig struct {
	BatchLimit int    `koanf:"batch_limit" validate:"min=1" env:"REINDEX_BATCH_LIMIT"`
	Schedule   string `koanf:"schedule"                     env:"REINDEX_SCHEDULE"`
}

// RateLimitConfig limits completion-backed endpoints per client IP.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled"                    env:"RATELIMIT_ENABLED"`
	Limit   int64         `koanf:"limit"   validate:"min=0"   env:"RATELIMIT_LIMIT"`
	Period  time.Duration `koanf:"period"                     env:"RATELIMIT_PERIOD"`
}

// CacheConfig configures the shared Redis tier of the embedding cache.
type CacheConfig struct {
	RedisURL SensitiveString `koanf:"redis_url" env:"REDIS_URL"    sensitive:"true"`
	TTL      time.Duration   `koanf:"ttl"       env:"CACHE_TTL"`
	Prefix   string          `koanf:"prefix"    env:"CACHE_PREFIX"`
}

// MonitoringConfig toggles the Prometheus endpoint.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Embedder: EmbedderConfig{
			Provider:  "local",
			Model:     "sentence-transformers/all-MiniLM-L6-v2",
			BaseURL:   "https://router.huggingface.co/hf-inference/models",
			Dimension: 384,
			ModelsDir: "models",
			Timeout:   30 * time.Second,
			CacheSize: 1024,
		},
		Store: StoreConfig{
			Driver:   "memory",
			Path:     "utakatik.db",
			Timeout:  10 * time.Second,
			MaxConns: 10,
		},
		Retrieval: RetrievalConfig{
			TopK:          6,
			MinSimilarity: 0.25,
			FallbackQuery: "Help me find products",
		},
		Completion: CompletionConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "mistralai/mistral-7b-instruct",
			Temperature: 0.3,
			Timeout:     60 * time.Second,
			MaxRetries:  1,
			Referer:     "http://localhost:3000",
			Title:       "Utak-Atik",
		},
		Relay: RelayConfig{
			BaseURL:      "https://router.huggingface.co/v1",
			Model:        "mistralai/Mistral-7B-Instruct-v0.2:featherless-ai",
			SystemPrompt: "You are a helpful assistant.",
		},
		Reindex: ReindexConfig{
			BatchLimit: 5000,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Limit:   30,
			Period:  time.Minute,
		},
		Cache: CacheConfig{
			TTL:    24 * time.Hour,
			Prefix: "utakatik:emb:",
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
