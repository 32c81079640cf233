// Package main implements the Voicera harvest API server: it accepts
// harvest requests, runs the extraction pipelines in the background, and
// exposes run snapshots for the UI to poll.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/classify"
	"github.com/VoiceraAI/voicera-mvp/engine/discover"
	"github.com/VoiceraAI/voicera-mvp/engine/docstore"
	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/engine/fallback"
	"github.com/VoiceraAI/voicera-mvp/engine/fetch"
	"github.com/VoiceraAI/voicera-mvp/engine/pipeline"
	"github.com/VoiceraAI/voicera-mvp/engine/social"
	"github.com/VoiceraAI/voicera-mvp/pkg/mid"
	"github.com/VoiceraAI/voicera-mvp/pkg/natsutil"
	"github.com/VoiceraAI/voicera-mvp/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Config holds all environment-based configuration.
type Config struct {
	Port            string
	CORSOrigin      string
	OpenAIKey       string
	ClassifyModel   string
	AnswerBaseURL   string
	AnswerKey       string
	AnswerModel     string
	MapBaseURL      string
	MapKey          string
	ExtractProxyURL string
	ExtractKey      string
	ActorBaseURL    string
	ActorKey        string
	MongoURI        string
	MongoDB         string
	NATSURL         string
}

func loadConfig() Config {
	return Config{
		Port:            envOr("PORT", "8080"),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		ClassifyModel:   envOr("CLASSIFY_MODEL", classify.DefaultModel),
		AnswerBaseURL:   envOr("ANSWER_BASE_URL", "https://api.perplexity.ai"),
		AnswerKey:       os.Getenv("ANSWER_API_KEY"),
		AnswerModel:     envOr("ANSWER_MODEL", "sonar"),
		MapBaseURL:      envOr("MAP_BASE_URL", "https://api.firecrawl.dev"),
		MapKey:          os.Getenv("MAP_API_KEY"),
		ExtractProxyURL: envOr("EXTRACT_PROXY_URL", "https://r.jina.ai"),
		ExtractKey:      os.Getenv("EXTRACT_API_KEY"),
		ActorBaseURL:    os.Getenv("ACTOR_BASE_URL"),
		ActorKey:        os.Getenv("ACTOR_API_KEY"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         envOr("MONGO_DB", "voicera"),
		NATSURL:         os.Getenv("NATS_URL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// One run start per 2s sustained, short bursts allowed. Runs are
	// expensive; reads are not limited.
	startLimiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.5, Burst: 5})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("POST /api/runs", mid.RateLimit(startLimiter)(handleCreateRun(orch, logger)))
	mux.HandleFunc("GET /api/runs/{id}", handleGetRun(orch))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("voicera-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// buildOrchestrator wires every adapter from config. Optional services
// (mongo, NATS, the social actor) degrade to nil wiring when unset.
func buildOrchestrator(ctx context.Context, cfg Config, logger *slog.Logger) (*pipeline.Orchestrator, func(), error) {
	cleanup := func() {}

	llm := openai.NewClient(option.WithAPIKey(cfg.OpenAIKey))
	classifier := classify.New(llm, cfg.ClassifyModel, logger)

	var engine pipeline.FallbackEngine
	if cfg.AnswerKey != "" {
		answerClient := openai.NewClient(
			option.WithAPIKey(cfg.AnswerKey),
			option.WithBaseURL(cfg.AnswerBaseURL),
		)
		engine = fallback.New(answerClient, cfg.AnswerModel, logger)
	}

	mapper := discover.NewHTTPMapper(cfg.MapBaseURL, cfg.MapKey)

	// The markdown proxy tolerates 20 requests per minute; the token bucket
	// keeps every profile under that ceiling.
	extractor, err := fetch.NewMarkdownExtractor(cfg.ExtractProxyURL, cfg.ExtractKey,
		resilience.NewLimiter(resilience.PerMinute(20)))
	if err != nil {
		return nil, cleanup, err
	}

	syncs := map[domain.SourceType]*pipeline.SyncPipeline{
		domain.SourceBlog: pipeline.NewSync(domain.SourceBlog,
			discover.New(mapper, discover.DefaultLimit), classifier,
			fetch.New(fetch.ProfileFor(domain.SourceBlog), logger), extractor, engine, logger),
		domain.SourceNewsletter: pipeline.NewSync(domain.SourceNewsletter,
			discover.New(mapper, discover.DefaultLimit), classifier,
			fetch.New(fetch.ProfileFor(domain.SourceNewsletter), logger), extractor, engine, logger),
	}

	var store pipeline.Store
	var ledger social.Ledger = social.NewMemLedger()
	if cfg.MongoURI != "" {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ds, err := docstore.Connect(connCtx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, cleanup, err
		}
		prev := cleanup
		cleanup = func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ds.Close(closeCtx)
			prev()
		}
		store = ds
		ledger = ds
		logger.Info("connected to document store", "db", cfg.MongoDB)
	}

	var coord *social.Coordinator
	if cfg.ActorBaseURL != "" {
		coord = social.NewCoordinator(social.NewHTTPActor(cfg.ActorBaseURL, cfg.ActorKey), ledger, logger)
	}

	var sink pipeline.EventSink
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("nats connect: %w", err)
		}
		prev := cleanup
		cleanup = func() { nc.Close(); prev() }
		sink = func(ctx context.Context, ev pipeline.ProgressEvent) {
			subject := "harvest.progress." + ev.RunID
			if err := natsutil.Publish(ctx, nc, subject, ev); err != nil {
				logger.Warn("progress publish failed", "run_id", ev.RunID, "error", err)
			}
		}
		logger.Info("publishing progress events", "nats", cfg.NATSURL)
	}

	return pipeline.NewOrchestrator(syncs, coord, store, sink, logger), cleanup, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleCreateRun(orch *pipeline.Orchestrator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.HarvestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		id, err := orch.Start(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		logger.Info("run accepted", "run_id", id, "creator", req.Creator)
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
	}
}

func handleGetRun(orch *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		run, ok := orch.Snapshot(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
