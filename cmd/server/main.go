// Command server runs the thesis guidance RAG API: knowledge uploads are
// ingested in the background and chat questions are answered from the
// indexed content.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-rag-backend/internal/clients/mistral"
	"github.com/tbourn/go-rag-backend/internal/clients/whisper"
	"github.com/tbourn/go-rag-backend/internal/config"
	httpapi "github.com/tbourn/go-rag-backend/internal/http"
	"github.com/tbourn/go-rag-backend/internal/ingest"
	"github.com/tbourn/go-rag-backend/internal/llm"
	"github.com/tbourn/go-rag-backend/internal/observability"
	"github.com/tbourn/go-rag-backend/internal/rag"
	"github.com/tbourn/go-rag-backend/internal/repo"
	"github.com/tbourn/go-rag-backend/internal/search"
	"github.com/tbourn/go-rag-backend/internal/services"
	"github.com/tbourn/go-rag-backend/internal/storage"
	"github.com/tbourn/go-rag-backend/internal/sysutil"
	"github.com/tbourn/go-rag-backend/internal/vectorstore"
	"github.com/tbourn/go-rag-backend/internal/worker"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

// @title       Thesis Guidance RAG API
// @version     1.0
// @description Chat with a knowledge base of thesis writing guides.
// @BasePath    /api/v1
func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr, cfg.OTEL.ServiceName)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Persistence
	db, err := repo.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// Models and index
	embedder, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	index, err := newIndex(cfg.Vector, embedder)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	model, err := llm.NewModel(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	prompt, err := rag.LoadPrompt(cfg.PromptFile)
	if err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	retriever := search.NewRetriever(index,
		search.WithDefaultK(cfg.TopK),
		search.WithLexicalWeight(cfg.LexicalWeight),
	)
	generator := rag.NewGenerator(model, retriever, prompt, cfg.TopK, cfg.LLM.Temperature)

	// Ingestion pipeline
	extractor := &ingest.Extractor{
		Blobs: blobs,
		Audio: whisper.New(cfg.Transcription),
	}
	switch cfg.OCR.Provider {
	case "mistral":
		ocr := mistral.New(cfg.OCR)
		extractor.Documents, extractor.Images = ocr, ocr
	default:
		// No image reader: image uploads fail with a recorded reason.
		extractor.Documents = ingest.LocalDocuments{}
	}
	processor := &ingest.Processor{
		Extractor: extractor,
		Splitter:  ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		Store:     &ingest.Store{Index: index},
	}

	queue := worker.New(worker.Options{
		Workers:     cfg.Ingest.Workers,
		QueueSize:   cfg.Ingest.QueueSize,
		TaskTimeout: cfg.Ingest.TaskTimeout,
	})
	queue.Start(context.Background())

	// Services
	chat := services.NewChatService(db, generator)
	chat.HistoryLimit = cfg.HistoryLimit
	chat.MaxMessageRunes = cfg.MaxMessageRunes
	chat.IdempotencyTTL = cfg.IdempotencyTTL

	knowledge := &services.KnowledgeService{
		DB:             db,
		Storage:        blobs,
		Queue:          queue,
		Processor:      processor,
		Index:          index,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		URLExpiry:      cfg.Storage.URLExpiry,
		FileURLPrefix:  cfg.APIBasePath,
		SubmitTimeout:  5 * time.Second,
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Services{
		Chat:          chat,
		Conversations: services.NewConversationService(db),
		Knowledge:     knowledge,
		Replayable:    chat.Replayable,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", ver).
			Str("storage", cfg.Storage.Backend).
			Str("vector", cfg.Vector.Backend).
			Str("ocr", cfg.OCR.Provider).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			_ = queue.Stop(context.Background())
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Sources still processing when the drain times out stay "processing".
	if err := queue.Stop(sctx); err != nil {
		log.Warn().Err(err).Msg("ingestion queue did not drain")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
	return nil
}

func newIndex(cfg config.VectorConfig, embedder vectorstore.Embedder) (vectorstore.Index, error) {
	switch cfg.Backend {
	case "qdrant":
		return vectorstore.NewQdrant(vectorstore.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantKey,
			Collection: cfg.Collection,
			Timeout:    cfg.Timeout,
		}, embedder), nil
	default:
		return vectorstore.NewChromem(cfg.Path, cfg.Collection, embedder)
	}
}
