package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/pulselight/internal/adapters/rest"
	"github.com/ewilliams-labs/pulselight/internal/adapters/spotify"
	"github.com/ewilliams-labs/pulselight/internal/adapters/sqlite"
	"github.com/ewilliams-labs/pulselight/internal/core/progress"
	"github.com/ewilliams-labs/pulselight/internal/core/services"
	"github.com/ewilliams-labs/pulselight/internal/platform/metrics"
	"github.com/ewilliams-labs/pulselight/internal/worker"
)

var runNoHTTP bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow Spotify playback and drive the configured lights",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireSpotify(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPipeline(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "do not serve the status API")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context) error {
	m := metrics.New()

	client := spotify.NewOAuthClient(ctx,
		spotify.OAuthConfig(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURL),
		cfg.SpotifyRefreshToken,
		cfg.SpotifyAPIURL,
		spotify.WithRetry(cfg.SpotifyMaxRetries, cfg.SpotifyRetryBackoff),
		spotify.WithLogger(log),
		spotify.WithMetrics(m),
	)

	repo, err := sqlite.NewAdapter(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	pool := worker.NewPool(client, repo, cfg.PrefetchQueue, log)
	pool.Start(cfg.PrefetchWorkers)
	defer pool.Stop()

	inv, err := loadInventory(ctx, cfg, log)
	if err != nil {
		return err
	}
	devices, closers, err := buildDevices(inv, log)
	if err != nil {
		return err
	}
	defer closeAll(closers)
	if len(devices) == 0 {
		log.Warn("no devices configured, decisions will only be logged")
	}
	enableMusicMode(ctx, inv, devices, log)

	hub := rest.NewHub(log)
	defer hub.Close()

	rt := services.NewRuntime(devices,
		services.WithEngineConfig(engineConfig(cfg)),
		services.WithProgressOptions(progress.Options{
			RegressionTolerance: cfg.RegressionTolerance,
			StaleAfter:          cfg.StaleAfter,
		}),
		services.WithBusCapacity(cfg.BusCapacity),
		services.WithCommandTimeout(cfg.DeviceTimeout),
		services.WithCommandObservers(hub),
		services.WithLogger(log),
		services.WithMetrics(m),
	)

	if !runNoHTTP && cfg.HTTPAddr != "" {
		handler := rest.NewHandler(rt.Engine,
			rest.WithHub(hub),
			rest.WithMetrics(m, func() { m.SetBusDepth(rt.Bus.Len()) }),
			rest.WithLogger(log),
		)
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
		}
		go func() {
			log.Info("status API listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status API failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("status API shutdown", zap.Error(err))
			}
		}()
	}

	listener := services.NewListener(client, repo, pool, services.ListenerConfig{
		PollInterval:  cfg.PollInterval,
		FailureDelay:  cfg.PollFailureDelay,
		PrefetchDepth: services.DefaultListenerConfig().PrefetchDepth,
	}, log)

	log.Info("pulselight running", zap.Int("devices", len(devices)))
	err = rt.Run(ctx, listener)
	log.Info("shutting down")
	return err
}
