package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashwin/sia/internal/config"
	"github.com/ashwin/sia/internal/logger"
	"github.com/ashwin/sia/internal/server"
	"github.com/ashwin/sia/internal/tracing"
	"github.com/ashwin/sia/pkg/agent"
	"github.com/ashwin/sia/pkg/cron"
	"github.com/ashwin/sia/pkg/knowledge"
	"github.com/ashwin/sia/pkg/session"
	"github.com/ashwin/sia/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Sia chat service",
	Long: `Run the Sia chat service in the foreground.
The service exposes the chat API over HTTP and keeps the knowledge base
index in sync in the background.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	zlog := log.GetZerolog()

	tracingEnabled := true
	if err := tracing.InitOpenTelemetry("sia"); err != nil {
		zlog.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		tracingEnabled = false
	}
	defer func() {
		if tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
		}
	}()

	// Knowledge base, optional
	var kb *knowledge.Store
	if cfg.Knowledge.Enabled {
		var embedder knowledge.EmbeddingProvider
		if cfg.Knowledge.Embedding.APIKey != "" {
			embedder = knowledge.NewOpenAIEmbedder(cfg.Knowledge.Embedding.APIKey, cfg.Knowledge.Embedding.Model)
		} else {
			zlog.Warn().Msg("No embedding API key configured, knowledge base search is keyword-only")
		}

		kb, err = knowledge.New(knowledge.Config{
			DocsDir:  cfg.Knowledge.DocsDir,
			DBPath:   cfg.Knowledge.DBPath,
			Logger:   zlog,
			Embedder: embedder,
			Watch:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to open knowledge base: %w", err)
		}
		defer kb.Close()
		zlog.Info().Str("docs_dir", cfg.Knowledge.DocsDir).Msg("Knowledge base initialized")
	}

	// Tool catalog. Tools stay advertised even when unavailable so the
	// model gets an explanation instead of a missing tool.
	tavily := tools.NewTavilyClient(cfg.Tools.Tavily.APIKey, zlog)
	registry := tools.NewRegistry(zlog)
	if err := registry.Register(tools.WebSearchTool(tavily)); err != nil {
		return fmt.Errorf("failed to register web_search: %w", err)
	}
	if err := registry.Register(tools.KBSearchTool(kb)); err != nil {
		return fmt.Errorf("failed to register kb_search: %w", err)
	}

	provider, err := agent.NewProvider(agent.ProviderConfig{
		Provider: cfg.Model.Provider,
		APIKey:   cfg.Model.APIKey,
		BaseURL:  cfg.Model.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}

	runner := agent.NewRunner(agent.RunnerConfig{
		Provider:  provider,
		Tools:     registry,
		Model:     cfg.Model.Model,
		MaxSteps:  cfg.Agent.MaxSteps,
		MaxTokens: cfg.Model.MaxTokens,
		Logger:    zlog,
	})

	sessions := session.New(session.Config{
		TTL:    time.Duration(cfg.Session.TTLHours) * time.Hour,
		Logger: zlog,
	})

	// Background maintenance
	scheduler := cron.NewScheduler(zlog)
	if err := scheduler.AddJob(cron.Job{
		Name:     "session-sweep",
		Schedule: cfg.Session.SweepSchedule,
		Run: func(ctx context.Context) error {
			sessions.Sweep()
			return nil
		},
	}); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	if kb != nil {
		if err := scheduler.AddJob(cron.Job{
			Name:     "knowledge-sync",
			Schedule: cfg.Knowledge.SyncSchedule,
			Run:      kb.Sync,
		}); err != nil {
			return fmt.Errorf("failed to schedule knowledge sync: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv, err := server.NewServer(server.Options{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Timeout: time.Duration(cfg.Server.Timeout) * time.Second,
	}, cfg, runner, sessions, kb, zlog)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	zlog.Info().
		Str("provider", cfg.Model.Provider).
		Str("model", cfg.Model.Model).
		Bool("knowledge", kb != nil).
		Msg("Sia is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zlog.Info().Str("signal", sig.String()).Msg("Received signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	return srv.Stop()
}
