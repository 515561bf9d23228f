package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_switch/internal/api"
	"github.com/friendsincode/grimnir_switch/internal/config"
	"github.com/friendsincode/grimnir_switch/internal/db"
	"github.com/friendsincode/grimnir_switch/internal/engine/enginesim"
	"github.com/friendsincode/grimnir_switch/internal/eventbus"
	"github.com/friendsincode/grimnir_switch/internal/events"
	"github.com/friendsincode/grimnir_switch/internal/history"
	"github.com/friendsincode/grimnir_switch/internal/logbuffer"
	"github.com/friendsincode/grimnir_switch/internal/logging"
	"github.com/friendsincode/grimnir_switch/internal/media"
	"github.com/friendsincode/grimnir_switch/internal/playlist"
	"github.com/friendsincode/grimnir_switch/internal/telemetry"
	"github.com/friendsincode/grimnir_switch/internal/version"
	"github.com/friendsincode/grimnir_switch/internal/whip"
)

// Engine-side RTP ingest ports for forwarded WHIP media.
const (
	whipAudioForwardPort = 5004
	whipVideoForwardPort = 5006
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "grimnirswitch",
	Short: "Grimnir Switch - playlist orchestrator for the smooth switcher",
	Long:  "Grimnir Switch drives a smooth-switching media engine from a playlist: it creates source nodes, prewarms upcoming items, and issues timed crossfades.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playout orchestrator",
	Long:  "Load the playlist, start playout against the media engine, and serve the control API",
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate [playlist]",
	Short: "Validate a playlist file without starting playout",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	path := cfg.PlaylistPath
	if len(args) == 1 {
		path = args[0]
	}

	items, err := playlist.Load(path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}

	live := 0
	for _, item := range items {
		if item.Source.Live() {
			live++
		}
	}
	fmt.Printf("%s: %d items (%d live, %d file)\n", path, len(items), live, len(items)-live)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Re-attach the logger to an in-memory ring so recent logs are
	// queryable through the control API.
	logBuf := logbuffer.New(10000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))

	logger.Info().Str("version", version.Version).Msg("Grimnir Switch starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "grimnir-switch",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	items, err := playlist.Load(cfg.PlaylistPath)
	if err != nil {
		return fmt.Errorf("load playlist: %w", err)
	}
	logger.Info().Str("path", cfg.PlaylistPath).Int("items", len(items)).Msg("playlist loaded")

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}

	updateChecker := version.NewChecker(logger)
	updateChecker.Start(context.Background())
	defer updateChecker.Stop()

	bus := events.NewBus()

	collector := telemetry.NewCollector(bus, logger)
	collector.Start()
	defer collector.Close()

	eng := enginesim.New(logger)
	controller, err := playlist.New(context.Background(), eng, items, playlist.Config{
		TransitionDuration: cfg.TransitionDuration,
		CloseGrace:         cfg.CloseGrace,
		OutputWidth:        cfg.OutputWidth,
		OutputHeight:       cfg.OutputHeight,
		SampleRate:         cfg.SampleRate,
		Channels:           cfg.Channels,
	}, logger)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	defer controller.Shutdown()
	controller.SetEventBus(bus)

	resolver, err := buildResolver(bus)
	if err != nil {
		return err
	}
	controller.SetFileResolver(resolver)

	// An empty DSN disables the play log.
	var historySvc *history.Service
	var database *gorm.DB
	if cfg.DBDSN != "" {
		database, err = db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer func() {
			if err := db.Close(database); err != nil {
				logger.Error().Err(err).Msg("database close failed")
			}
		}()
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		if err := db.RegisterCallbacks(database); err != nil {
			return fmt.Errorf("register database callbacks: %w", err)
		}
		historySvc = history.NewService(database, nodeID, logger)
		controller.SetRecorder(historySvc)

		stopDBMetrics := make(chan struct{})
		defer close(stopDBMetrics)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-stopDBMetrics:
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(database)
				}
			}
		}()
	}

	if cfg.RedisAddr != "" {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		bridge, err := eventbus.NewRedisBridge(redisCfg, bus, nodeID, logger)
		if err != nil {
			return fmt.Errorf("connect redis bridge: %w", err)
		}
		bridge.Start()
		defer func() {
			if err := bridge.Close(); err != nil {
				logger.Error().Err(err).Msg("redis bridge close failed")
			}
		}()
	}

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		bridge, err := eventbus.NewNATSBridge(natsCfg, bus, nodeID, logger)
		if err != nil {
			return fmt.Errorf("connect nats bridge: %w", err)
		}
		bridge.Start()
		defer func() {
			if err := bridge.Close(); err != nil {
				logger.Error().Err(err).Msg("nats bridge close failed")
			}
		}()
	}

	var whipServer *http.Server
	if cfg.WHIPEnabled {
		sink, err := whip.NewUDPSink("127.0.0.1", whipAudioForwardPort, whipVideoForwardPort)
		if err != nil {
			return fmt.Errorf("create whip sink: %w", err)
		}
		defer sink.Close()

		gateway, err := whip.NewGateway(whip.Config{STUNServer: cfg.WHIPSTUNURL}, sink, logger)
		if err != nil {
			return fmt.Errorf("create whip gateway: %w", err)
		}
		gateway.SetEventBus(bus)
		defer gateway.Close()

		addr := fmt.Sprintf("%s:%d", cfg.WHIPBind, cfg.WHIPPort)
		whipServer = &http.Server{
			Addr:              addr,
			Handler:           gateway.Router(),
			ReadHeaderTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", addr).Msg("WHIP gateway listening")
			if err := whipServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("whip server error")
			}
		}()
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server error")
		}
	}()

	controlAPI := api.New(controller, historySvc, []byte(cfg.JWTSigningKey), bus, logger)
	controlAPI.SetLogBuffer(logBuf)
	httpServer := controlAPI.Server(fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort))
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("control API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	if err := controller.Start(context.Background()); err != nil {
		return fmt.Errorf("start playout: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("shutting down gracefully...")
	case <-controller.Done():
		logger.Info().Msg("playlist exhausted, shutting down")
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if whipServer != nil {
		if err := whipServer.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("whip shutdown failed")
		}
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}

	logger.Info().Msg("Grimnir Switch stopped")
	return nil
}

// buildResolver wires s3:// staging when a bucket region or endpoint is
// configured; plain file names always resolve locally.
func buildResolver(bus *events.Bus) (*media.Resolver, error) {
	var fetcher media.ObjectFetcher
	if cfg.S3AccessKeyID != "" || cfg.S3Endpoint != "" || cfg.S3Bucket != "" {
		f, err := media.NewS3Fetcher(context.Background(), media.S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize s3 client: %w", err)
		}
		fetcher = f
	}

	if err := os.MkdirAll(cfg.MediaCacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media cache dir: %w", err)
	}

	resolver := media.NewResolver(cfg.MediaCacheDir, fetcher, logger)
	resolver.SetEventBus(bus)
	return resolver, nil
}
