package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kalambet/synaptic/internal/api"
	"github.com/kalambet/synaptic/internal/chat"
	"github.com/kalambet/synaptic/internal/config"
	"github.com/kalambet/synaptic/internal/engine"
	"github.com/kalambet/synaptic/internal/generate"
	"github.com/kalambet/synaptic/internal/ingest"
	"github.com/kalambet/synaptic/internal/lifecycle"
	"github.com/kalambet/synaptic/internal/llm"
	"github.com/kalambet/synaptic/internal/retrieval"
	"github.com/kalambet/synaptic/internal/router"
	"github.com/kalambet/synaptic/internal/session"
	"github.com/kalambet/synaptic/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the synaptic server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running synaptic server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show synaptic system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "synaptic.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "synaptic version %s\n", version)

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	logger, closeLog, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("synaptic is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("synaptic is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the local embedding engine is up and has the model pulled.
	eng := engine.NewOllamaEngine(cfg.Engine.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Retrieval: embeddings + chunk vectors in SQLite.
	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectors)

	// Generation: cloud LLM, draft lifecycle, job runner.
	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	drafts := lifecycle.NewManager(store)
	audioDir := filepath.Join(cfg.Storage.DataDir, "audio")
	generator := generate.NewLLMGenerator(llmClient, cfg.LLM.Voice, audioDir)
	runner := generate.NewRunner(store, store, drafts, generator, cfg.Generation.HeartbeatInterval, cfg.Generation.JobTimeout)

	// Chat over documents, routed direct or through the chunk index.
	chatSvc := chat.NewService(store, router.New(cfg.Retrieval.DirectThreshold), retriever, llmClient, cfg.Retrieval.TopK)

	sessions := session.NewTracker(store, cfg.Session.MinDuration)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:           store,
		Runner:          runner,
		Drafts:          drafts,
		Chat:            chatSvc,
		Sessions:        sessions,
		DirectThreshold: cfg.Retrieval.DirectThreshold,
		AudioDir:        audioDir,
		Token:           cfg.Server.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start the chunk index worker.
	chunkCfg := ingest.ChunkConfig{
		Target:  cfg.Retrieval.ChunkTarget,
		Max:     cfg.Retrieval.ChunkMax,
		Overlap: cfg.Retrieval.ChunkOverlap,
	}
	worker := ingest.NewWorker(store, embedder, vectors, chunkCfg, 500*time.Millisecond)
	go worker.Run(ctx)

	// Background sweeps: stale drafts and abandoned study sessions.
	sweeper := cron.New()
	sweeper.AddFunc("@hourly", func() {
		if n := drafts.ExpireDrafts(cfg.Generation.DraftTTL); n > 0 {
			slog.Info("expired stale drafts", "count", n)
		}
	})
	sweeper.AddFunc("@every 30m", func() {
		sessions.DropAbandoned(cfg.Session.AbandonAfter)
	})
	sweeper.Start()
	defer sweeper.Stop()

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Chat: chatSvc})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "synaptic listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load("")
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("synaptic is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop synaptic (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to synaptic (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load("")
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the embedding engine.
	engResp, err := client.Get(cfg.Engine.BaseURL + "/api/version")
	if err != nil {
		printStatus("Engine", "not running")
	} else {
		engResp.Body.Close()
		printStatus("Engine", "running at %s", cfg.Engine.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("LLM model", "%s", cfg.LLM.Model)

	// Show document count if the server is running.
	if resp != nil && resp.StatusCode == 200 {
		docsResp, err := client.Get(serverURL + "/v1/documents?limit=100")
		if err == nil {
			var list struct {
				Documents []json.RawMessage `json:"documents"`
			}
			if json.NewDecoder(docsResp.Body).Decode(&list) == nil {
				printStatus("Documents", "%s", countLabel(len(list.Documents), 100))
			}
			docsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
