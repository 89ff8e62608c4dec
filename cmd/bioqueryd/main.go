// Command bioqueryd runs the biomedical research query orchestrator: the
// graph scheduler, source fetch nodes, and the public HTTP/SSE API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/bioquery-go/cache"
	"github.com/dshills/bioquery-go/checkpoint"
	"github.com/dshills/bioquery-go/config"
	"github.com/dshills/bioquery-go/graph"
	"github.com/dshills/bioquery-go/graph/emit"
	"github.com/dshills/bioquery-go/llm"
	"github.com/dshills/bioquery-go/ratelimit"
	"github.com/dshills/bioquery-go/research"
	"github.com/dshills/bioquery-go/research/fetch"
	"github.com/dshills/bioquery-go/server"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "bioqueryd ", log.LstdFlags|log.Lmicroseconds)

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("checkpoint store: %v", err)
	}
	defer func() { _ = store.Close() }()

	resultCache := cache.NewMemory(cfg.CacheTTL)
	defer resultCache.Close()

	limiter := ratelimit.NewRegistry(map[string]ratelimit.Limit{
		ratelimit.SourcePubs:   {RPS: cfg.PubsRPS, Burst: 4},
		ratelimit.SourceTrials: {RPS: cfg.TrialsRPS, Burst: 3},
		ratelimit.SourceRAG:    {RPS: cfg.RAGRPS, Burst: 8},
	})

	fetchers := map[string]research.Fetcher{
		research.SourcePubs: fetch.NewNode(research.SourcePubs,
			fetch.NewPubsAdapter(cfg.PubsBaseURL, cfg.PubsAPIKey), resultCache, limiter, cfg.CacheTTL),
		research.SourceTrials: fetch.NewNode(research.SourceTrials,
			fetch.NewTrialsAdapter(cfg.TrialsBaseURL), resultCache, limiter, cfg.CacheTTL),
		research.SourceRAG: fetch.NewNode(research.SourceRAG,
			fetch.NewRAGAdapter(cfg.RAGBaseURL), resultCache, limiter, cfg.CacheTTL),
	}

	parser := &research.Parser{Chat: chatTier(cfg, logger)}

	extras := []emit.Emitter{emit.NewLogEmitter(os.Stdout, cfg.LogJSON)}
	if cfg.OTelEnabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
		extras = append(extras, emit.NewOTelEmitter(tp.Tracer("bioquery")))
	}

	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	orch := research.NewOrchestrator(research.OrchestratorConfig{
		Defaults: research.RequestDefaults{
			BudgetMS:    cfg.DefaultBudgetMS,
			MaxBudgetMS: cfg.MaxBudgetMS,
		},
		MaxParallel:   cfg.MaxParallelNodes,
		CheckpointTTL: cfg.CheckpointTTL,
	}, parser, fetchers, store, metrics, extras...)
	defer orch.Close()

	srv := server.New(cfg.Addr, orch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		logger.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
}

// openStore selects the checkpoint backend from configuration.
func openStore(cfg config.Config) (checkpoint.Store, error) {
	switch cfg.CheckpointDriver {
	case "mysql":
		return checkpoint.NewMySQLStore(cfg.CheckpointDSN)
	case "memory":
		return checkpoint.NewMemStore(1000), nil
	default:
		return checkpoint.NewSQLiteStore(cfg.CheckpointDSN)
	}
}

// chatTier builds the optional LLM tier for intent parsing.
func chatTier(cfg config.Config, logger *log.Logger) research.ChatFunc {
	var chat llm.Chat
	switch cfg.LLMProvider {
	case "anthropic":
		chat = llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel)
	case "openai":
		chat = llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel)
	case "google":
		chat = llm.NewGoogle(cfg.GoogleAPIKey, cfg.LLMModel)
	default:
		return nil
	}
	logger.Printf("intent parser LLM tier: %s", cfg.LLMProvider)

	return func(ctx context.Context, system, user string) (string, error) {
		return chat.Complete(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		})
	}
}
