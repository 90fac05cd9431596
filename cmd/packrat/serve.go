package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"gitlab.com/gitlab-org/labkit/monitoring"
	"gitlab.com/gitlab-org/labkit/tracing"
	"gitlab.com/packrat/packrat/internal/bootstrap"
	"gitlab.com/packrat/packrat/internal/bootstrap/starter"
	"gitlab.com/packrat/packrat/internal/command"
	"gitlab.com/packrat/packrat/internal/conduit"
	"gitlab.com/packrat/packrat/internal/config"
	"gitlab.com/packrat/packrat/internal/dontpanic"
	"gitlab.com/packrat/packrat/internal/git"
	"gitlab.com/packrat/packrat/internal/git/mirror"
	"gitlab.com/packrat/packrat/internal/log"
	"gitlab.com/packrat/packrat/internal/review"
	"gitlab.com/packrat/packrat/internal/server"
	"gitlab.com/packrat/packrat/internal/tempdir"
	"gitlab.com/packrat/packrat/internal/version"
	"golang.org/x/time/rate"
)

const tempdirCleanInterval = time.Hour

func newServeCmd(load func() (config.Cfg, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the review request API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Cfg) error {
	if err := log.Configure(log.Loggers, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		return err
	}
	logger := log.Default()
	logger.WithField("version", version.GetVersionString()).Info("Starting packrat")

	configureSentry(cfg)
	defer sentry.Flush(2 * time.Second)

	closer := tracing.Initialize(tracing.WithServiceName("packrat"))
	defer closer.Close()

	b, err := bootstrap.New(cfg.PIDFile)
	if err != nil {
		return fmt.Errorf("init bootstrap: %w", err)
	}

	gitCmdFactory := git.NewExecCommandFactory(cfg.Git)
	gitVersion, err := git.CurrentVersion(ctx, gitCmdFactory)
	if err != nil {
		return fmt.Errorf("git version: %w", err)
	}
	if !gitVersion.IsSupported() {
		return fmt.Errorf("unsupported git version %s", gitVersion)
	}
	logger.WithField("git_version", gitVersion.String()).Info("git detected")

	if cleaner := startCleaning(cfg.StagingDir); cleaner != nil {
		defer cleaner.Cancel()
	}

	versionInfo, err := version.Load(cfg.VersionFile)
	if err != nil {
		return err
	}

	service := review.NewService(
		cfg,
		review.NewConduitClientFactory(cfg.Phabricator.URL, conduitOptions(cfg)...),
		mirror.NewManager(cfg.ReposPath, gitCmdFactory),
		gitCmdFactory,
	)

	srv := &http.Server{
		Handler:           server.NewHandler(service, gitCmdFactory, cfg.ReposPath, versionInfo),
		ReadHeaderTimeout: time.Minute,
	}

	b.RegisterStarter(starter.New(starter.Config{
		Name:              starter.TCP,
		Addr:              cfg.ListenAddr,
		HandoverOnUpgrade: true,
	}, srv))

	if addr := cfg.PrometheusListenAddr; addr != "" {
		logger.WithField("address", addr).Info("Starting prometheus listener")

		b.RegisterStarter(func(listen bootstrap.ListenFunc, _ chan<- error) error {
			l, err := listen(starter.TCP, addr)
			if err != nil {
				return err
			}

			go func() {
				if err := monitoring.Start(
					monitoring.WithListener(l),
					monitoring.WithBuildInformation(version.GetVersion(), version.GetBuildTime())); err != nil {
					logger.WithError(err).Errorf("Unable to start prometheus listener: %v", addr)
				}
			}()

			return nil
		})
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("unable to start the bootstrap: %v", err)
	}

	gracePeriod := cfg.GracefulRestartTimeout.Duration()
	err = b.Wait(gracePeriod, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http server shutdown")
		}
	})
	logger.WithError(err).Info("shutting down")

	command.WaitAllDone()

	return nil
}

func conduitOptions(cfg config.Cfg) []conduit.Option {
	opts := []conduit.Option{
		conduit.WithUserAgent("packrat/" + version.GetVersion()),
	}

	if cfg.Phabricator.RateLimit > 0 {
		// one limiter shared by all clients keeps packrat as a whole below
		// the rate
		opts = append(opts, conduit.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Phabricator.RateLimit), 1)))
	}

	if cfg.Phabricator.RevisionComment != "" {
		opts = append(opts, conduit.WithRevisionComment(cfg.Phabricator.RevisionComment))
	}

	return opts
}

func configureSentry(cfg config.Cfg) {
	if cfg.Logging.SentryDSN == "" {
		return
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Logging.SentryDSN,
		Environment: cfg.Logging.SentryEnvironment,
		Release:     "v" + version.GetVersion(),
	}); err != nil {
		log.Default().WithError(err).Warn("Unable to initialize sentry client")
		return
	}

	log.Default().WithField("sentry_environment", cfg.Logging.SentryEnvironment).Debug("Using sentry logging")
}

func startCleaning(stagingDir string) *dontpanic.Forever {
	err := tempdir.Clean(stagingDir, tempdir.MaxAge)

	var invalidRoot tempdir.InvalidCleanRootError
	if errors.As(err, &invalidRoot) {
		log.Default().WithError(err).Warn("staging_dir is not cleaned up automatically")
		return nil
	}
	if err != nil {
		log.Default().WithError(err).Warn("cleaning staging_dir")
	}

	return tempdir.StartCleaning(stagingDir, tempdirCleanInterval)
}
