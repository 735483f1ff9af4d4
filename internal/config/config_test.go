package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
}

func TestLoad_Defaults_RAG(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Ingest.ChunkSize != 1000 || cfg.Ingest.ChunkOverlap != 200 {
		t.Fatalf("chunking defaults unexpected: %+v", cfg.Ingest)
	}
	if cfg.TopK != 5 {
		t.Fatalf("TopK default = %d; want 5", cfg.TopK)
	}
	if cfg.Storage.Backend != "local" || cfg.Vector.Backend != "chromem" {
		t.Fatalf("backend defaults unexpected: storage=%q vector=%q", cfg.Storage.Backend, cfg.Vector.Backend)
	}
	if cfg.Transcription.Language != "id" || cfg.OCR.Model != "mistral-ocr-latest" {
		t.Fatalf("vendor defaults unexpected: %+v %+v", cfg.Transcription, cfg.OCR)
	}
	if cfg.Database.UsePostgres() {
		t.Fatalf("sqlite should be the default database")
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("GIN_MODE", "weird")
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v2/")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/rag")
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("IDEMPOTENCY_TTL", "48h")
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("S3_ENDPOINT", "sgp1.digitaloceanspaces.com")
	t.Setenv("S3_BUCKET", "kb")
	t.Setenv("S3_PUBLIC_READ", "true")
	t.Setenv("VECTOR_BACKEND", "qdrant")
	t.Setenv("QDRANT_URL", "http://qdrant:6333/")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("OCR_PROVIDER", "local")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("INGEST_WORKERS", "2")
	t.Setenv("INGEST_TASK_TIMEOUT", "90s")
	t.Setenv("TOP_K", "8")
	t.Setenv("PROMPT_FILE", "prompt.yaml")
	t.Setenv("RETRIEVAL_LEXICAL_WEIGHT", "0.3")
	t.Setenv("CHAT_HISTORY_LIMIT", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.WriteTimeout != 3*time.Second || cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v2" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if !cfg.Database.UsePostgres() {
		t.Fatalf("postgres DSN not detected: %q", cfg.Database.URL)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("security/idempotency unexpected: %+v", cfg)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.S3Bucket != "kb" || !cfg.Storage.S3PublicRead {
		t.Fatalf("storage unexpected: %+v", cfg.Storage)
	}
	if cfg.Vector.Backend != "qdrant" || cfg.Vector.QdrantURL != "http://qdrant:6333" {
		t.Fatalf("vector unexpected: %+v", cfg.Vector)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Temperature != 0.7 || cfg.OCR.Provider != "local" {
		t.Fatalf("vendors unexpected: %+v %+v", cfg.LLM, cfg.OCR)
	}
	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 50 || cfg.Ingest.Workers != 2 || cfg.Ingest.TaskTimeout != 90*time.Second {
		t.Fatalf("ingest unexpected: %+v", cfg.Ingest)
	}
	if cfg.TopK != 8 || cfg.PromptFile != "prompt.yaml" {
		t.Fatalf("retrieval unexpected: topk=%d prompt=%q", cfg.TopK, cfg.PromptFile)
	}
	if cfg.LexicalWeight != 0.3 || cfg.HistoryLimit != 12 || cfg.MaxMessageRunes != 4000 {
		t.Fatalf("chat unexpected: w=%v history=%d runes=%d", cfg.LexicalWeight, cfg.HistoryLimit, cfg.MaxMessageRunes)
	}
}

// Each case triggers exactly one validation error.
func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"no database", map[string]string{"DB_PATH": "   "}, "DATABASE_URL or DB_PATH"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
		{"unknown storage", map[string]string{"STORAGE_BACKEND": "ftp"}, "STORAGE_BACKEND"},
		{"s3 without bucket", map[string]string{"STORAGE_BACKEND": "s3", "S3_ENDPOINT": "x"}, "S3_BUCKET"},
		{"empty upload dir", map[string]string{"UPLOAD_DIR": " "}, "UPLOAD_DIR"},
		{"unknown vector", map[string]string{"VECTOR_BACKEND": "faiss"}, "VECTOR_BACKEND"},
		{"unknown llm", map[string]string{"LLM_PROVIDER": "bard"}, "LLM_PROVIDER"},
		{"temperature", map[string]string{"LLM_TEMPERATURE": "3"}, "LLM_TEMPERATURE"},
		{"unknown ocr", map[string]string{"OCR_PROVIDER": "tesseract"}, "OCR_PROVIDER"},
		{"chunk size", map[string]string{"CHUNK_SIZE": "0"}, "CHUNK_SIZE"},
		{"overlap >= size", map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}, "CHUNK_OVERLAP"},
		{"workers", map[string]string{"INGEST_WORKERS": "0"}, "INGEST_WORKERS"},
		{"task timeout", map[string]string{"INGEST_TASK_TIMEOUT": "0s"}, "INGEST_TASK_TIMEOUT"},
		{"upload bytes", map[string]string{"MAX_UPLOAD_BYTES": "-5"}, "MAX_UPLOAD_BYTES"},
		{"top k", map[string]string{"TOP_K": "0"}, "TOP_K"},
		{"lexical weight", map[string]string{"RETRIEVAL_LEXICAL_WEIGHT": "1.5"}, "RETRIEVAL_LEXICAL_WEIGHT"},
		{"history limit", map[string]string{"CHAT_HISTORY_LIMIT": "-1"}, "CHAT_HISTORY_LIMIT"},
		{"message runes", map[string]string{"MAX_MESSAGE_RUNES": "0"}, "MAX_MESSAGE_RUNES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}
	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}
	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on"} {
		t.Setenv("B_VAL", v)
		if !getbool("B_VAL", false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for _, v := range []string{"0", "false", " no ", "N", "Off"} {
		t.Setenv("B_VAL", v)
		if getbool("B_VAL", true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}
	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestDatabaseConfig_UsePostgres(t *testing.T) {
	for url, want := range map[string]bool{
		"":                          false,
		"postgres://h/db":           true,
		" POSTGRESQL://h/db":        true,
		"file:app.db?cache=shared":  false,
		"mysql://root@localhost/db": false,
	} {
		if got := (DatabaseConfig{URL: url}).UsePostgres(); got != want {
			t.Fatalf("UsePostgres(%q) = %v; want %v", url, got, want)
		}
	}
}

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DATABASE_URL", "OPENAI_API_KEY", "GROQ_API_KEY", "MISTRAL_API_KEY"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
