package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jxtnz/portfolio-relay/internal/config"
	"github.com/jxtnz/portfolio-relay/internal/projects"
)

func main() {
	var envFile string

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Portfolio relay: GitHub project summaries and Flowise chat proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")

	root.AddCommand(serveCmd(&envFile), projectsCmd(&envFile))

	if err := root.Execute(); err != nil {
		logger := bootstrapLogger()
		logger.Error().Err(err).Msg("relay exited with error")
		os.Exit(1)
	}
}

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *envFile)
		},
	}
}

func projectsCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "Print the current project summaries as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			src, err := newGitHubSource(cfg, nil)
			if err != nil {
				return err
			}
			summaries, err := projects.NewAggregator(src, nil, logger).Summaries(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		},
	}
}

func serve(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	logger.Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Bool("chat_enabled", cfg.ChatEnabled()).
		Str("github_user", cfg.GitHubUser).
		Msg("starting portfolio relay")
	if !cfg.ChatEnabled() {
		logger.Warn().Msg("FLOWISE_API_URL not set, /api/chat will return 500")
	}

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	// Context with graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("portfolio relay stopped")
	return nil
}
