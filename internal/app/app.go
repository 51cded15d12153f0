// Package app initializes and holds long-lived application services,
// acting as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/checkpoint"
	"github.com/kestrelworks/lifelog/internal/clock/system"
	"github.com/kestrelworks/lifelog/internal/events"
	"github.com/kestrelworks/lifelog/internal/indexer"
	"github.com/kestrelworks/lifelog/internal/logging"
	"github.com/kestrelworks/lifelog/internal/policy/breaker"
	"github.com/kestrelworks/lifelog/internal/policy/ratelimit"
	"github.com/kestrelworks/lifelog/internal/search"
	"github.com/kestrelworks/lifelog/internal/storage"
	"github.com/kestrelworks/lifelog/internal/storage/gcs"
	"github.com/kestrelworks/lifelog/internal/storage/local"
	"github.com/kestrelworks/lifelog/internal/storage/memory"
)

// App holds the shared, long-lived services. It is built once per
// process from Viper configuration and passed to the commands that
// need it.
type App struct {
	logger      *zap.Logger
	writer      *archive.Writer
	manager     *archive.Manager
	checkpoints *checkpoint.Store
	searchStore *search.Store
	pipeline    *indexer.Pipeline
	limiter     *ratelimit.Limiter
	breakers    *breaker.Group
	publisher   events.Publisher
	blobs       storage.Provider
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetWriter exposes the archive append surface.
func (a *App) GetWriter() *archive.Writer { return a.writer }

// GetManager exposes segment lifecycle operations.
func (a *App) GetManager() *archive.Manager { return a.manager }

// GetCheckpoints exposes the checkpoint store.
func (a *App) GetCheckpoints() *checkpoint.Store { return a.checkpoints }

// GetSearchStore exposes the full-text index.
func (a *App) GetSearchStore() *search.Store { return a.searchStore }

// GetPipeline exposes the indexing pipeline.
func (a *App) GetPipeline() *indexer.Pipeline { return a.pipeline }

// GetLimiter exposes the collector-side rate limiter.
func (a *App) GetLimiter() *ratelimit.Limiter { return a.limiter }

// GetBreakers exposes the per-upstream circuit breakers.
func (a *App) GetBreakers() *breaker.Group { return a.breakers }

// NewApp builds every service from the current Viper configuration.
// It fails fast if any critical service cannot be initialized.
func NewApp(ctx context.Context) (*App, error) {
	logger, err := logging.NewAt(viper.GetString("log.level"), viper.GetBool("log.development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing services")

	clk := system.New()

	manifest, err := archive.OpenManifest(viper.GetString("archive.manifest_path"))
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	writer := archive.NewWriter(viper.GetString("archive.base_dir"), manifest, clk, logger)

	blobs, err := newBlobProvider(ctx, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := newPublisher(ctx, logger)
	if err != nil {
		return nil, err
	}
	topic := viper.GetString("events.topic")

	manager := archive.NewManager(writer, manifest, blobs, publisher, topic, clk, logger)

	checkpoints, err := checkpoint.NewStore(viper.GetString("checkpoint.dir"))
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	searchStore, err := search.Open(viper.GetString("index.path"), logger)
	if err != nil {
		return nil, fmt.Errorf("init search store: %w", err)
	}

	pipeline := indexer.New(manager, searchStore, checkpoints, publisher, topic, indexer.Config{
		BatchSize:         viper.GetInt("pipeline.batch_size"),
		MaxCommitAttempts: viper.GetInt("pipeline.max_commit_attempts"),
		RetryBackoff:      viperDuration("pipeline.retry_backoff", 250*time.Millisecond),
	}, logger)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   viper.GetFloat64("ratelimit.default_rps"),
		DefaultBurst: viper.GetInt("ratelimit.default_burst"),
		MaxJitter:    viperDuration("ratelimit.max_jitter", 250*time.Millisecond),
	})
	breakers := breaker.NewGroup(breaker.Config{
		FailureThreshold: viper.GetInt("breaker.failure_threshold"),
		Cooldown:         viperDuration("breaker.cooldown", 30*time.Second),
	}, clk, logger)

	return &App{
		logger:      logger,
		writer:      writer,
		manager:     manager,
		checkpoints: checkpoints,
		searchStore: searchStore,
		pipeline:    pipeline,
		limiter:     limiter,
		breakers:    breakers,
		publisher:   publisher,
		blobs:       blobs,
	}, nil
}

// Close shuts services down in reverse dependency order.
func (a *App) Close() {
	if err := a.writer.Close(); err != nil {
		a.logger.Warn("failed to close archive writer", zap.Error(err))
	}
	if err := a.searchStore.Close(); err != nil {
		a.logger.Warn("failed to close search store", zap.Error(err))
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("failed to close event publisher", zap.Error(err))
	}
	if err := a.blobs.Close(); err != nil {
		a.logger.Warn("failed to close blob provider", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newBlobProvider(ctx context.Context, logger *zap.Logger) (storage.Provider, error) {
	switch provider := viper.GetString("storage.provider"); provider {
	case "local":
		baseDir := viper.GetString("storage.local.base_dir")
		logger.Info("using local long-term storage", zap.String("base_dir", baseDir))
		store, err := local.New(local.Config{BaseDir: baseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case "gcs":
		bucket := viper.GetString("storage.gcs.bucket_name")
		if bucket == "" {
			return nil, fmt.Errorf("storage provider is 'gcs' but storage.gcs.bucket_name is not set")
		}
		logger.Info("using GCS long-term storage", zap.String("bucket", bucket))
		store, err := gcs.New(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory long-term storage; rotated segments will not survive restart")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", provider)
	}
}

func newPublisher(ctx context.Context, logger *zap.Logger) (events.Publisher, error) {
	switch provider := viper.GetString("events.provider"); provider {
	case "noop":
		return events.NoopPublisher{}, nil
	case "memory":
		return events.NewMemoryPublisher(), nil
	case "pubsub":
		project := viper.GetString("events.gcp_project")
		topic := viper.GetString("events.topic")
		if project == "" {
			return nil, fmt.Errorf("events provider is 'pubsub' but events.gcp_project is not set")
		}
		logger.Info("publishing lifecycle events to pubsub",
			zap.String("project", project), zap.String("topic", topic))
		pub, err := events.NewPubSubPublisher(ctx, project, topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events provider: %s", provider)
	}
}

func viperDuration(key string, fallback time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return fallback
}
