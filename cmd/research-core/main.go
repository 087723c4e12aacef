// Command research-core runs the Research Orchestration Core process:
// it wires the LLM/vector/blob providers, task store, telemetry ledger,
// compiled workflow, bounded executor, and HTTP API layer together, then
// serves until an operator signal arrives. Exit code is 0 on a clean
// shutdown, 1 on any unhandled startup error, per spec.md §6.
//
// Shutdown follows core/lynx.Lynx's start/wait/stop shape from this
// codebase's job-runner package: Notify on SIGHUP/SIGQUIT/SIGTERM/SIGINT,
// block until one arrives, then stop components in reverse wiring order.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/qdrant/go-client/qdrant"

	"github.com/Tangerg/research-core/internal/agents"
	"github.com/Tangerg/research-core/internal/blobstore"
	"github.com/Tangerg/research-core/internal/config"
	"github.com/Tangerg/research-core/internal/executor"
	"github.com/Tangerg/research-core/internal/httpapi"
	"github.com/Tangerg/research-core/internal/llm"
	"github.com/Tangerg/research-core/internal/retrieval"
	"github.com/Tangerg/research-core/internal/review"
	"github.com/Tangerg/research-core/internal/taskstore"
	"github.com/Tangerg/research-core/internal/telemetry"
	"github.com/Tangerg/research-core/internal/vectorstore"
	"github.com/Tangerg/research-core/internal/workflow"
)

// embeddingVectorSize is text-embedding-3-small's output dimension; the
// collection is created with this size the first time it is queried.
const embeddingVectorSize = 1536

func main() {
	if err := run(); err != nil {
		slog.Error("research-core: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   "localhost",
		Port:   6334,
		APIKey: cfg.PineconeAPIKey,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: %w", err)
	}
	vectors := vectorstore.NewQdrantStore(qdrantClient, embeddingVectorSize)

	llmClient := llm.NewOpenAIClient(cfg.OpenAIAPIKey)

	ledgerPath := os.Getenv("TELEMETRY_LEDGER_PATH")
	if ledgerPath == "" {
		ledgerPath = "data/telemetry.json"
	}
	ledger, err := telemetry.New(ledgerPath)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	store, err := taskstore.Open(cfg.TaskDBPath)
	if err != nil {
		return fmt.Errorf("taskstore: %w", err)
	}
	defer store.Close()

	lib := retrieval.New(llmClient, vectors, blobs, cfg.LLMEmbedModel)

	graph, err := workflow.Compile(
		agents.NewSearchAgent(lib, ledger, cfg.LLMChatModel),
		agents.NewSynthesisAgent(lib, ledger, cfg.LLMChatModel),
		agents.NewValidationAgent(lib, ledger, cfg.LLMChatModel),
	)
	if err != nil {
		return fmt.Errorf("workflow: %w", err)
	}

	exec := executor.New(graph, store, cfg.ExecutorWorkers, cfg.ExecutorQueueDepth)
	execCtx, cancelExec := context.WithCancel(context.Background())
	exec.Start(execCtx)

	reviewCtrl := review.New(store, exec, cfg.MaxRegen)

	handler := httpapi.New(store, exec, reviewCtrl, cfg.RateLimitPerMinute)
	srv := &http.Server{
		Addr:    cfg.APIHost + ":" + cfg.APIPort,
		Handler: handler,
	}

	serveErrs := make(chan error, 1)
	go func() {
		slog.Info("research-core: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-stopChan:
		slog.Info("research-core: shutting down", "signal", sig.String())
	case err := <-serveErrs:
		if err != nil {
			cancelExec()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("research-core: http shutdown error", "error", err)
	}

	cancelExec()
	exec.Stop()

	return nil
}

func newBlobStore(cfg *config.Config) (blobstore.Store, error) {
	if cfg.S3Bucket == "" {
		return blobstore.NewFSStore("data/blobs"), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return blobstore.NewS3Store(s3.NewFromConfig(awsCfg), cfg.S3Bucket), nil
}
