// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, logging,
// persistence, storage, vector index, vendor and ingestion settings.
//
// The resulting Config value is passed explicitly to every component that
// needs it; nothing below the entrypoint reads the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-rag-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the relational store. A postgres DSN in URL wins
// over the SQLite file at Path.
type DatabaseConfig struct {
	URL  string // DATABASE_URL
	Path string // DB_PATH
}

// StorageConfig selects where uploaded files live.
type StorageConfig struct {
	Backend   string // local|s3
	UploadDir string // UPLOAD_DIR (local)

	S3Endpoint   string
	S3Bucket     string
	S3Region     string
	S3AccessKey  string
	S3SecretKey  string
	S3UseSSL     bool
	S3PublicRead bool
	URLExpiry    time.Duration // presigned URL lifetime
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Backend    string // chromem|qdrant
	Path       string // VECTOR_PATH; empty keeps chromem in memory
	Collection string
	QdrantURL  string
	QdrantKey  string
	Timeout    time.Duration
}

// ModelConfig describes one OpenAI-compatible (or Ollama) model endpoint.
type ModelConfig struct {
	Provider    string // openai|ollama
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// OCRConfig configures document/image text extraction.
type OCRConfig struct {
	Provider string // mistral|local
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// TranscriptionConfig configures audio transcription.
type TranscriptionConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// IngestConfig configures chunking and the background worker pool.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	Workers        int
	QueueSize      int
	TaskTimeout    time.Duration
	MaxUploadBytes int64
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 120s (answers wait on the LLM)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	Database DatabaseConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// RAG
	Storage       StorageConfig
	Vector        VectorConfig
	Embedding     ModelConfig
	LLM           ModelConfig
	OCR           OCRConfig
	Transcription TranscriptionConfig
	Ingest        IngestConfig
	TopK          int
	LexicalWeight float64 // RETRIEVAL_LEXICAL_WEIGHT in [0,1]; 0 keeps pure vector order
	PromptFile    string  // optional YAML override for the answer prompt

	// Chat
	HistoryLimit    int // CHAT_HISTORY_LIMIT; 0 sends the whole conversation
	MaxMessageRunes int // MAX_MESSAGE_RUNES
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Database: DatabaseConfig{
			URL:  getenv("DATABASE_URL", ""),
			Path: getenv("DB_PATH", "app.db"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-rag-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		Storage: StorageConfig{
			Backend:      strings.ToLower(getenv("STORAGE_BACKEND", "local")),
			UploadDir:    getenv("UPLOAD_DIR", "uploads"),
			S3Endpoint:   getenv("S3_ENDPOINT", ""),
			S3Bucket:     getenv("S3_BUCKET", ""),
			S3Region:     getenv("S3_REGION", "us-east-1"),
			S3AccessKey:  getenv("S3_ACCESS_KEY", ""),
			S3SecretKey:  getenv("S3_SECRET_KEY", ""),
			S3UseSSL:     getbool("S3_USE_SSL", true),
			S3PublicRead: getbool("S3_PUBLIC_READ", false),
			URLExpiry:    getdur("STORAGE_URL_EXPIRY", time.Hour),
		},

		Vector: VectorConfig{
			Backend:    strings.ToLower(getenv("VECTOR_BACKEND", "chromem")),
			Path:       getenv("VECTOR_PATH", "data/vectors"),
			Collection: getenv("VECTOR_COLLECTION", "knowledge"),
			QdrantURL:  strings.TrimRight(getenv("QDRANT_URL", "http://localhost:6333"), "/"),
			QdrantKey:  getenv("QDRANT_API_KEY", ""),
			Timeout:    getdur("VECTOR_TIMEOUT", 15*time.Second),
		},

		Embedding: ModelConfig{
			Provider: strings.ToLower(getenv("EMBEDDING_PROVIDER", "openai")),
			BaseURL:  getenv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:   getenv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:    getenv("EMBEDDING_MODEL", "text-embedding-3-large"),
		},

		LLM: ModelConfig{
			Provider:    strings.ToLower(getenv("LLM_PROVIDER", "openai")),
			BaseURL:     getenv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:      getenv("LLM_API_KEY", os.Getenv("GROQ_API_KEY")),
			Model:       getenv("LLM_MODEL", "llama-3.3-70b-versatile"),
			Temperature: getfloat("LLM_TEMPERATURE", 0.2),
		},

		OCR: OCRConfig{
			Provider: strings.ToLower(getenv("OCR_PROVIDER", "mistral")),
			BaseURL:  strings.TrimRight(getenv("OCR_BASE_URL", "https://api.mistral.ai/v1"), "/"),
			APIKey:   getenv("OCR_API_KEY", os.Getenv("MISTRAL_API_KEY")),
			Model:    getenv("OCR_MODEL", "mistral-ocr-latest"),
			Timeout:  getdur("OCR_TIMEOUT", 5*time.Minute),
		},

		Transcription: TranscriptionConfig{
			BaseURL:  strings.TrimRight(getenv("TRANSCRIPTION_BASE_URL", "https://api.groq.com/openai/v1"), "/"),
			APIKey:   getenv("TRANSCRIPTION_API_KEY", os.Getenv("GROQ_API_KEY")),
			Model:    getenv("TRANSCRIPTION_MODEL", "whisper-large-v3"),
			Language: getenv("TRANSCRIPTION_LANGUAGE", "id"),
			Timeout:  getdur("TRANSCRIPTION_TIMEOUT", 5*time.Minute),
		},

		Ingest: IngestConfig{
			ChunkSize:      getint("CHUNK_SIZE", 1000),
			ChunkOverlap:   getint("CHUNK_OVERLAP", 200),
			Workers:        getint("INGEST_WORKERS", 4),
			QueueSize:      getint("INGEST_QUEUE_SIZE", 64),
			TaskTimeout:    getdur("INGEST_TASK_TIMEOUT", 15*time.Minute),
			MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 50<<20)),
		},
		TopK:          getint("TOP_K", 5),
		LexicalWeight: getfloat("RETRIEVAL_LEXICAL_WEIGHT", 0),
		PromptFile:    getenv("PROMPT_FILE", ""),

		HistoryLimit:    getint("CHAT_HISTORY_LIMIT", 0),
		MaxMessageRunes: getint("MAX_MESSAGE_RUNES", 4000),
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" && strings.TrimSpace(cfg.Database.Path) == "" {
		return cfg, errors.New("one of DATABASE_URL or DB_PATH must be set")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	switch cfg.Storage.Backend {
	case "local":
		if strings.TrimSpace(cfg.Storage.UploadDir) == "" {
			return cfg, errors.New("UPLOAD_DIR must not be empty")
		}
	case "s3":
		if cfg.Storage.S3Endpoint == "" || cfg.Storage.S3Bucket == "" {
			return cfg, errors.New("S3_ENDPOINT and S3_BUCKET are required for STORAGE_BACKEND=s3")
		}
	default:
		return cfg, errors.New("STORAGE_BACKEND must be one of: local, s3")
	}

	switch cfg.Vector.Backend {
	case "chromem":
	case "qdrant":
		if cfg.Vector.QdrantURL == "" {
			return cfg, errors.New("QDRANT_URL is required for VECTOR_BACKEND=qdrant")
		}
	default:
		return cfg, errors.New("VECTOR_BACKEND must be one of: chromem, qdrant")
	}
	if strings.TrimSpace(cfg.Vector.Collection) == "" {
		return cfg, errors.New("VECTOR_COLLECTION must not be empty")
	}

	for _, p := range []string{cfg.Embedding.Provider, cfg.LLM.Provider} {
		switch p {
		case "openai", "ollama":
		default:
			return cfg, errors.New("EMBEDDING_PROVIDER and LLM_PROVIDER must be one of: openai, ollama")
		}
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return cfg, errors.New("LLM_TEMPERATURE must be in [0,2]")
	}

	switch cfg.OCR.Provider {
	case "mistral", "local":
	default:
		return cfg, errors.New("OCR_PROVIDER must be one of: mistral, local")
	}

	if cfg.Ingest.ChunkSize <= 0 {
		return cfg, errors.New("CHUNK_SIZE must be > 0")
	}
	if cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return cfg, errors.New("CHUNK_OVERLAP must be >= 0 and < CHUNK_SIZE")
	}
	if cfg.Ingest.Workers < 1 {
		return cfg, errors.New("INGEST_WORKERS must be >= 1")
	}
	if cfg.Ingest.QueueSize < 0 {
		return cfg, errors.New("INGEST_QUEUE_SIZE must be >= 0")
	}
	if cfg.Ingest.TaskTimeout <= 0 {
		return cfg, errors.New("INGEST_TASK_TIMEOUT must be > 0")
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.TopK < 1 {
		return cfg, errors.New("TOP_K must be >= 1")
	}
	if cfg.LexicalWeight < 0 || cfg.LexicalWeight > 1 {
		return cfg, errors.New("RETRIEVAL_LEXICAL_WEIGHT must be in [0,1]")
	}
	if cfg.HistoryLimit < 0 {
		return cfg, errors.New("CHAT_HISTORY_LIMIT must be >= 0")
	}
	if cfg.MaxMessageRunes < 1 {
		return cfg, errors.New("MAX_MESSAGE_RUNES must be >= 1")
	}

	return cfg, nil
}

// UsePostgres reports whether the database URL points at PostgreSQL.
func (d DatabaseConfig) UsePostgres() bool {
	u := strings.ToLower(strings.TrimSpace(d.URL))
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
