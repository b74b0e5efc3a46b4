package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jxtnz/portfolio-relay/internal/chat"
	"github.com/jxtnz/portfolio-relay/internal/config"
	"github.com/jxtnz/portfolio-relay/internal/health"
	"github.com/jxtnz/portfolio-relay/internal/metrics"
	"github.com/jxtnz/portfolio-relay/internal/projects"
	"github.com/jxtnz/portfolio-relay/internal/server"
	"github.com/jxtnz/portfolio-relay/internal/upstream"
)

func bootstrapLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// newLogger sets up structured logging the same way for every command.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Logger = logger
	return logger
}

func newGitHubSource(cfg *config.Config, m *metrics.Metrics) (*projects.GitHubSource, error) {
	return projects.NewGitHubSource(projects.GitHubConfig{
		BaseURL: cfg.GitHubAPIURL,
		User:    cfg.GitHubUser,
		Token:   cfg.GitHubToken,
	}, upstream.NewHTTPClient("github", cfg.UpstreamTimeout, nil, m))
}

func buildServer(cfg *config.Config, logger zerolog.Logger) (*server.Server, error) {
	m := metrics.New()

	src, err := newGitHubSource(cfg, m)
	if err != nil {
		return nil, err
	}
	aggregator := projects.NewAggregator(src, m, logger)

	flowise := upstream.NewHTTPFetcher(upstream.Config{
		Service: "flowise",
		Timeout: cfg.UpstreamTimeout,
	}, m, logger)
	relay := chat.NewRelay(chat.Config{
		URL:    cfg.FlowiseAPIURL,
		APIKey: cfg.FlowiseAPIKey,
	}, flowise, m, logger)

	checker := health.NewChecker(logger)
	checker.Register("flowise", func(ctx context.Context) health.Status {
		if !relay.Configured() {
			return health.StatusDegraded
		}
		return health.StatusOK
	})

	return server.NewServer(server.ServerConfig{
		ListenAddr:       cfg.ListenAddr(),
		CORSOrigins:      cfg.FrontendURL,
		AllowCredentials: cfg.AllowCredentials(),
	}, health.NewReporter(nil), checker, aggregator, relay, m, logger), nil
}
