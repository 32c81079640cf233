// Package main implements a one-shot harvest CLI: it runs the extraction
// pipelines for a single creator and prints the consolidated run as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VoiceraAI/voicera-mvp/engine/classify"
	"github.com/VoiceraAI/voicera-mvp/engine/discover"
	"github.com/VoiceraAI/voicera-mvp/engine/domain"
	"github.com/VoiceraAI/voicera-mvp/engine/fallback"
	"github.com/VoiceraAI/voicera-mvp/engine/fetch"
	"github.com/VoiceraAI/voicera-mvp/engine/pipeline"
	"github.com/VoiceraAI/voicera-mvp/engine/social"
	"github.com/VoiceraAI/voicera-mvp/pkg/metrics"
	"github.com/VoiceraAI/voicera-mvp/pkg/natsutil"
	"github.com/VoiceraAI/voicera-mvp/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

func main() {
	_ = godotenv.Load()

	creator := flag.String("creator", "", "creator name (required)")
	follow := flag.String("follow", "", "run ID to follow over NATS instead of harvesting")
	site := flag.String("site", "", "blog site URL")
	newsletter := flag.String("newsletter", "", "newsletter archive URL")
	twitter := flag.String("twitter", "", "twitter handle")
	linkedin := flag.String("linkedin", "", "linkedin handle")
	sources := flag.String("sources", "blog", "comma-separated source types to harvest")
	metricsPort := flag.Int("metrics-port", 0, "serve /metrics on this port (0 disables)")
	timeout := flag.Duration("timeout", 20*time.Minute, "overall run timeout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *follow != "" {
		if err := followRun(*follow, logger); err != nil {
			logger.Error("follow failed", "run_id", *follow, "err", err)
			os.Exit(1)
		}
		return
	}

	if *creator == "" {
		fmt.Fprintln(os.Stderr, "usage: harvest -creator NAME [-site URL] [-newsletter URL] [-twitter HANDLE] [-linkedin HANDLE] [-sources blog,newsletter,twitter,linkedin]")
		os.Exit(2)
	}

	req := domain.HarvestRequest{
		Creator:       *creator,
		SiteURL:       *site,
		NewsletterURL: *newsletter,
		Handles:       map[domain.SourceType]string{},
	}
	if *twitter != "" {
		req.Handles[domain.SourceTwitter] = *twitter
	}
	if *linkedin != "" {
		req.Handles[domain.SourceLinkedIn] = *linkedin
	}
	for _, s := range strings.Split(*sources, ",") {
		if s = strings.TrimSpace(s); s != "" {
			req.Sources = append(req.Sources, domain.SourceType(s))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	reg := metrics.New()
	if *metricsPort > 0 {
		reg.ServeAsync(*metricsPort)
	}
	itemGauge := reg.Gauge("harvest_items", "Content items extracted in the last run")

	orch, err := buildOrchestrator(logger, func(_ context.Context, ev pipeline.ProgressEvent) {
		name := metrics.WithLabels("harvest_steps_total", "stage", ev.Step.Stage, "status", ev.Step.Status)
		reg.Counter(name, "Pipeline steps recorded").Inc()
		hist := metrics.WithLabels("harvest_stage_seconds", "stage", ev.Step.Stage)
		reg.Histogram(hist, "Stage duration in seconds", nil).Observe(ev.Step.Duration.Seconds())
	})
	if err != nil {
		logger.Error("wiring failed", "err", err)
		os.Exit(1)
	}

	run, err := orch.Run(ctx, req)
	if err != nil {
		logger.Error("harvest failed", "creator", *creator, "err", err)
		os.Exit(1)
	}
	itemGauge.Set(int64(run.TotalItems()))
	logger.Info("harvest finished", "run_id", run.ID, "items", run.TotalItems())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		logger.Error("encode failed", "err", err)
		os.Exit(1)
	}
}

// followRun mirrors another process's progress events to the log: the API
// server publishes each step to harvest.progress.<runID>, so a 20-30 minute
// run can be watched from a terminal without polling the snapshot endpoint.
func followRun(runID string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	sub, err := natsutil.Subscribe(nc, "harvest.progress."+runID, func(_ context.Context, ev pipeline.ProgressEvent) {
		logger.Info("progress",
			"run_id", ev.RunID, "source", ev.Step.Source, "stage", ev.Step.Stage,
			"status", ev.Step.Status, "count", ev.Step.Count, "error", ev.Step.Error)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	logger.Info("following run", "run_id", runID)
	<-ctx.Done()
	return nil
}

func buildOrchestrator(logger *slog.Logger, sink pipeline.EventSink) (*pipeline.Orchestrator, error) {
	llm := openai.NewClient(option.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
	classifier := classify.New(llm, envOr("CLASSIFY_MODEL", classify.DefaultModel), logger)

	var engine pipeline.FallbackEngine
	if key := os.Getenv("ANSWER_API_KEY"); key != "" {
		answerClient := openai.NewClient(
			option.WithAPIKey(key),
			option.WithBaseURL(envOr("ANSWER_BASE_URL", "https://api.perplexity.ai")),
		)
		engine = fallback.New(answerClient, envOr("ANSWER_MODEL", "sonar"), logger)
	}

	mapper := discover.NewHTTPMapper(envOr("MAP_BASE_URL", "https://api.firecrawl.dev"), os.Getenv("MAP_API_KEY"))

	extractor, err := fetch.NewMarkdownExtractor(
		envOr("EXTRACT_PROXY_URL", "https://r.jina.ai"),
		os.Getenv("EXTRACT_API_KEY"),
		resilience.NewLimiter(resilience.PerMinute(20)))
	if err != nil {
		return nil, err
	}

	syncs := map[domain.SourceType]*pipeline.SyncPipeline{
		domain.SourceBlog: pipeline.NewSync(domain.SourceBlog,
			discover.New(mapper, discover.DefaultLimit), classifier,
			fetch.New(fetch.ProfileFor(domain.SourceBlog), logger), extractor, engine, logger),
		domain.SourceNewsletter: pipeline.NewSync(domain.SourceNewsletter,
			discover.New(mapper, discover.DefaultLimit), classifier,
			fetch.New(fetch.ProfileFor(domain.SourceNewsletter), logger), extractor, engine, logger),
	}

	var coord *social.Coordinator
	if base := os.Getenv("ACTOR_BASE_URL"); base != "" {
		coord = social.NewCoordinator(
			social.NewHTTPActor(base, os.Getenv("ACTOR_API_KEY")),
			social.NewMemLedger(), logger)
	}

	return pipeline.NewOrchestrator(syncs, coord, nil, sink, logger), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
