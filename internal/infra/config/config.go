package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full environment-driven configuration, one section per
// concern. Load fills every section with defaults where the environment is
// silent; Validate rejects values the pipeline cannot run with.
type Config struct {
	Env string
	// PlansFile optionally points at a YAML mode-plan override.
	PlansFile string
	Server    ServerConfig
	Database  DatabaseConfig
	Index     IndexConfig
	Embedder  EmbedderConfig
	Generator GeneratorConfig
	Enhance   EnhanceConfig
	Fusion    FusionConfig
	Rerank    RerankConfig
	Cache     CacheConfig
	Worker    WorkerConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
	Analytics AnalyticsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxK caps the per-request result count at the API boundary.
	MaxK int
	// MaxBatch caps items per batch retrieval request.
	MaxBatch int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// IndexConfig selects and parameterizes the vector index backend.
type IndexConfig struct {
	// Backend is "postgres" or "qdrant".
	Backend string
	// RetrieveTimeout bounds one embed-plus-search round trip.
	RetrieveTimeout time.Duration
	Qdrant          QdrantConfig
}

type QdrantConfig struct {
	Addr       string
	Collection string
	APIKey     string
	UseTLS     bool
}

type EmbedderConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// RequestsPerSecond is the client-side rate limit; zero disables it.
	RequestsPerSecond float64
	// RetryAttempts bounds retries on upstream throttling.
	RetryAttempts int
}

type GeneratorConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

type EnhanceConfig struct {
	MaxVariants        int
	PerStrategyTimeout time.Duration
	MaxTokens          int
}

type FusionConfig struct {
	RRFK float64
}

type RerankConfig struct {
	Enabled          bool
	BaseURL          string
	Model            string
	Device           string
	CandidateCeiling int
	Timeout          time.Duration
}

type CacheConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend   string
	TTL       time.Duration
	Size      int
	RedisAddr string
	RedisDB   int
}

type WorkerConfig struct {
	PoolSize   int
	QueueDepth int
	JobTimeout time.Duration
}

type AuthConfig struct {
	// APIKey enables key auth on the v1 routes when non-empty.
	APIKey string
}

type TelemetryConfig struct {
	Enabled      bool
	Endpoint     string
	ServiceName  string
	SampleRatio  float64
	UseTLSExport bool
}

type AnalyticsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level string
}

// Load reads the environment into a Config. It never fails; call Validate
// afterwards to reject unusable values.
func Load() *Config {
	return &Config{
		Env:       getEnv("ENV", "development"),
		PlansFile: getEnv("MODE_PLANS_FILE", ""),
		Server: ServerConfig{
			Port:            getEnv("PORT", "9020"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxK:            getEnvInt("RETRIEVAL_MAX_K", 100),
			MaxBatch:        getEnvInt("RETRIEVAL_MAX_BATCH", 32),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "passage-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "retrieval_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "retrieval_password"),
			Name:     getEnv("DB_NAME", "passages_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Index: IndexConfig{
			Backend:         getEnv("VECTOR_BACKEND", "postgres"),
			RetrieveTimeout: getEnvDuration("RETRIEVE_TIMEOUT", 5*time.Second),
			Qdrant: QdrantConfig{
				Addr:       getEnv("QDRANT_ADDR", "qdrant:6334"),
				Collection: getEnv("QDRANT_COLLECTION", "passages"),
				APIKey:     getSecret("QDRANT_API_KEY", "QDRANT_API_KEY_FILE", ""),
				UseTLS:     getEnvBool("QDRANT_USE_TLS", false),
			},
		},
		Embedder: EmbedderConfig{
			BaseURL:           getEnvWithAlt("EMBEDDER_URL", "MODEL_RUNTIME_URL", "http://model-runtime:11434"),
			Model:             getEnv("EMBEDDING_MODEL", "embeddinggemma"),
			Timeout:           getEnvDuration("EMBEDDER_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvFloat("EMBEDDER_RPS", 20),
			RetryAttempts:     getEnvInt("EMBEDDER_RETRY_ATTEMPTS", 3),
		},
		Generator: GeneratorConfig{
			BaseURL:     getEnvWithAlt("GENERATOR_URL", "MODEL_RUNTIME_URL", "http://model-runtime:11434"),
			Model:       getEnv("GENERATOR_MODEL", "gemma3:4b"),
			Timeout:     getEnvDuration("GENERATOR_TIMEOUT", 20*time.Second),
			Temperature: getEnvFloat("GENERATOR_TEMPERATURE", 0.4),
		},
		Enhance: EnhanceConfig{
			MaxVariants:        getEnvInt("ENHANCE_MAX_VARIANTS", 5),
			PerStrategyTimeout: getEnvDuration("ENHANCE_STRATEGY_TIMEOUT", 8*time.Second),
			MaxTokens:          getEnvInt("ENHANCE_MAX_TOKENS", 220),
		},
		Fusion: FusionConfig{
			RRFK: getEnvFloat("FUSION_RRF_K", 60),
		},
		Rerank: RerankConfig{
			Enabled:          getEnvBool("RERANK_ENABLED", true),
			BaseURL:          getEnv("RERANK_URL", "http://reranker:8085"),
			Model:            getEnv("RERANK_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
			Device:           getEnv("RERANK_DEVICE", "auto"),
			CandidateCeiling: getEnvInt("RERANK_CANDIDATE_CEILING", 50),
			Timeout:          getEnvDuration("RERANK_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			Backend:   getEnv("CACHE_BACKEND", "memory"),
			TTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
			Size:      getEnvInt("CACHE_SIZE", 2048),
			RedisAddr: getEnv("CACHE_REDIS_ADDR", "redis:6379"),
			RedisDB:   getEnvInt("CACHE_REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			PoolSize:   getEnvInt("WORKER_POOL_SIZE", 8),
			QueueDepth: getEnvInt("WORKER_QUEUE_DEPTH", 64),
			JobTimeout: getEnvDuration("WORKER_JOB_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			APIKey: getSecret("AUTH_API_KEY", "AUTH_API_KEY_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvBool("OTEL_ENABLED", false),
			Endpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "retrieval-orchestrator"),
			SampleRatio:  getEnvFloat("OTEL_SAMPLE_RATIO", 0.1),
			UseTLSExport: getEnvBool("OTEL_EXPORT_TLS", false),
		},
		Analytics: AnalyticsConfig{
			Enabled: getEnvBool("ANALYTICS_ENABLED", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate checks every section and returns the first violation.
func (c *Config) Validate() error {
	if c.Server.MaxK <= 0 {
		return fmt.Errorf("config: RETRIEVAL_MAX_K must be positive, got %d", c.Server.MaxK)
	}
	if c.Server.MaxBatch <= 0 {
		return fmt.Errorf("config: RETRIEVAL_MAX_BATCH must be positive, got %d", c.Server.MaxBatch)
	}
	switch c.Index.Backend {
	case "postgres", "qdrant":
	default:
		return fmt.Errorf("config: VECTOR_BACKEND must be postgres or qdrant, got %q", c.Index.Backend)
	}
	if c.Index.RetrieveTimeout <= 0 {
		return fmt.Errorf("config: RETRIEVE_TIMEOUT must be positive")
	}
	if c.Embedder.RetryAttempts < 1 {
		return fmt.Errorf("config: EMBEDDER_RETRY_ATTEMPTS must be at least 1, got %d", c.Embedder.RetryAttempts)
	}
	if c.Embedder.RequestsPerSecond < 0 {
		return fmt.Errorf("config: EMBEDDER_RPS must not be negative")
	}
	if c.Enhance.MaxVariants < 1 || c.Enhance.MaxVariants > 5 {
		return fmt.Errorf("config: ENHANCE_MAX_VARIANTS must be in [1,5], got %d", c.Enhance.MaxVariants)
	}
	if c.Fusion.RRFK <= 0 {
		return fmt.Errorf("config: FUSION_RRF_K must be positive, got %v", c.Fusion.RRFK)
	}
	if c.Rerank.CandidateCeiling <= 0 {
		return fmt.Errorf("config: RERANK_CANDIDATE_CEILING must be positive, got %d", c.Rerank.CandidateCeiling)
	}
	switch c.Rerank.Device {
	case "auto", "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("config: RERANK_DEVICE must be auto, cpu, cuda or mps, got %q", c.Rerank.Device)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("config: CACHE_BACKEND must be memory, redis or none, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "memory" && c.Cache.Size <= 0 {
		return fmt.Errorf("config: CACHE_SIZE must be positive for the memory backend, got %d", c.Cache.Size)
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be at least 1, got %d", c.Worker.PoolSize)
	}
	if c.Worker.QueueDepth < 1 {
		return fmt.Errorf("config: WORKER_QUEUE_DEPTH must be at least 1, got %d", c.Worker.QueueDepth)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: OTEL_SAMPLE_RATIO must be in [0,1], got %v", c.Telemetry.SampleRatio)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
