// Command server runs the PPTX processing service: it accepts presentation
// uploads over HTTP, converts them into per-slide visuals and structured
// shape data, and re-composes translated packages for download.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pptx-processor/internal/assets"
	"pptx-processor/internal/config"
	"pptx-processor/internal/deck"
	"pptx-processor/internal/jobs"
	"pptx-processor/internal/logger"
	"pptx-processor/internal/pipeline"
	"pptx-processor/internal/queue"
	"pptx-processor/internal/render"
	"pptx-processor/internal/server"
	"pptx-processor/internal/store"
	"pptx-processor/internal/translator"
	"pptx-processor/internal/types"
)

var (
	configFlag = flag.String("config", "", "Path to the configuration file (default: ~/.config/pptx-processor)")
	listenFlag = flag.String("listen", "", "HTTP listen address, overrides the configured value")
	debugFlag  = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logConfig := logger.DefaultConfig()
	if *debugFlag {
		logConfig.Level = logger.LevelDebug
	}
	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	manager, err := config.NewConfigManager(*configFlag)
	if err != nil {
		return err
	}
	if err := manager.Load(); err != nil {
		return err
	}
	cfg := manager.GetConfig()
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	q, err := newQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	blob, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	publisher := assets.NewPublisher(blob)

	var engine render.Engine
	if cfg.LibreOfficePath != "" {
		engine = render.NewLibreOfficeEngine(cfg.LibreOfficePath,
			time.Duration(cfg.CallTimeoutSec)*time.Second)
		logger.Info("external render engine enabled",
			logger.String("binary", cfg.LibreOfficePath))
	}
	renderer := render.NewRenderer(render.Options{
		Engine:         engine,
		ThumbnailWidth: cfg.ThumbnailWidth,
		GenerateThumbs: cfg.GenerateThumbs,
	})

	orchestrator := jobs.NewOrchestrator(st, q, jobs.Options{
		WorkerCount: cfg.WorkerCount,
		JobTimeout:  time.Duration(cfg.JobTimeoutSec) * time.Second,
		MaxRetries:  cfg.MaxRetries,
	})
	orchestrator.RegisterRunner(types.JobKindConvert,
		pipeline.NewConvertRunner(deck.NewParser(), renderer, publisher, st, cfg.SlideConcurrency))
	orchestrator.RegisterRunner(types.JobKindExport,
		pipeline.NewExportRunner(st, publisher))

	var suggester server.Suggester
	if manager.GetAPIKey() != "" {
		s, err := translator.NewSuggester(ctx, cfg)
		if err != nil {
			logger.Warn("translation suggester unavailable", logger.Err(err))
		} else {
			suggester = s
			logger.Info("translation suggester enabled",
				logger.String("model", cfg.OpenAIModel))
		}
	} else {
		logger.Info("no OpenAI API key configured, auto-translate disabled")
	}

	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	srv := server.New(orchestrator, st, publisher, suggester, cfg)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("server shut down cleanly")
	return nil
}

// newQueue selects the queue backend.
func newQueue(ctx context.Context, cfg *types.Config) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "redis":
		logger.Info("using redis queue", logger.String("addr", cfg.RedisAddr))
		return queue.NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisQueueName)
	case "", "memory":
		return queue.NewMemoryQueue(0), nil
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrConfig,
			"unknown queue backend", cfg.QueueBackend, nil)
	}
}

// newBlobStore selects the blob storage backend.
func newBlobStore(ctx context.Context, cfg *types.Config) (assets.BlobStore, error) {
	switch cfg.BlobBackend {
	case "s3":
		logger.Info("using s3 blob store", logger.String("bucket", cfg.S3Bucket))
		return assets.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, cfg.BlobBaseURL)
	case "", "local":
		return assets.NewLocalStore(cfg.BlobDirectory, cfg.BlobBaseURL)
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrConfig,
			"unknown blob backend", cfg.BlobBackend, nil)
	}
}
