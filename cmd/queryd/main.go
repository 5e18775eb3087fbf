// Queryd is a policy-aware natural-language-to-SQL daemon. It retrieves
// grounding context from an embedded metadata store and a Qdrant vector
// store, prompts an OpenAI-compatible model, and runs every generated
// query through structural guardrails before returning it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/config"
	"github.com/fyrsmithlabs/queryd/internal/generator"
	"github.com/fyrsmithlabs/queryd/internal/guardrails"
	queryhttp "github.com/fyrsmithlabs/queryd/internal/http"
	"github.com/fyrsmithlabs/queryd/internal/indexer"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/oracle"
	"github.com/fyrsmithlabs/queryd/internal/retrieval"
	"github.com/fyrsmithlabs/queryd/internal/store"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "queryd",
	Short:   "Policy-aware natural-language-to-SQL daemon",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the queryd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/queryd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve wires every service and blocks until the context is cancelled.
func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting queryd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	st, err := store.NewStore(cfg.Database.DataDir)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer st.Close()

	vectors, err := vectorstore.NewQdrantStore(&vectorstore.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		UseTLS:     cfg.Qdrant.UseTLS,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer vectors.Close()

	oracleClient, err := oracle.NewClient(oracle.Config{
		BaseURL:       cfg.Oracle.BaseURL,
		APIKey:        cfg.Oracle.APIKey,
		EmbedModel:    cfg.Oracle.EmbedModel,
		GenModel:      cfg.Oracle.GenModel,
		BatchSize:     cfg.Oracle.BatchSize,
		BatchDelay:    cfg.Oracle.BatchDelay,
		RetryAttempts: cfg.Oracle.RetryAttempts,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating oracle client: %w", err)
	}

	idx := indexer.NewService(st, vectors, oracleClient, logger)
	retriever := retrieval.NewEngine(st, vectors, oracleClient, logger)
	gen := generator.NewService(st, retriever, oracleClient, guardrails.NewEngine(logger),
		generator.Config{
			MaxCompletionTokens: cfg.Generation.MaxCompletionTokens,
			Temperature:         cfg.Generation.Temperature,
			MaxContextTokens:    cfg.Retrieval.MaxContextTokens,
			MaxChunks:           cfg.Retrieval.MaxChunks,
		}, logger)

	server, err := queryhttp.NewServer(gen, idx, st, vectors, logger, &queryhttp.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info(shutdownCtx, "queryd shutdown complete")
	return nil
}
