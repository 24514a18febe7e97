package services

import (
	"context"
	"time"

	"crypto_dashboard/config"
	"crypto_dashboard/logger"
	"crypto_dashboard/services/archive"
	"crypto_dashboard/services/cache"
	"crypto_dashboard/services/datafetcher"
	"crypto_dashboard/services/notifier"
	"crypto_dashboard/services/pipeline"
	"crypto_dashboard/services/store"

	"gorm.io/gorm"
)

const connectTimeout = 10 * time.Second

// Services holds the wired application components
type Services struct {
	Store    *store.Store
	Pipeline *pipeline.Pipeline
	Cache    *cache.SnapshotCache // nil when REDIS_URL is unset or unreachable
	Archiver *archive.MongoArchiver
}

// Init builds the pipeline and its collaborators from cfg. Optional
// backends (Redis, MongoDB, SES) that are unset or unreachable are skipped.
func Init(ctx context.Context, cfg *config.Config, db *gorm.DB) *Services {
	log := logger.GetLogger().WithComponent("services")

	s := &Services{Store: store.New(db)}
	fetcher := datafetcher.NewDataFetcher(cfg.CoinGeckoURL, cfg.CoinGeckoKey, cfg.RequestTimeout)

	var opts []pipeline.Option
	if c := initCache(ctx, cfg, log); c != nil {
		s.Cache = c
		opts = append(opts, pipeline.WithCache(c))
	}
	if a := initArchiver(ctx, cfg, log); a != nil {
		s.Archiver = a
		opts = append(opts, pipeline.WithArchiver(a))
	}

	s.Pipeline = pipeline.New(fetcher, s.Store, initNotifier(ctx, cfg, log), opts...)
	log.Info("Global services initialized")
	return s
}

// Close releases optional backend connections
func (s *Services) Close(ctx context.Context) {
	log := logger.GetLogger().WithComponent("services")
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if s.Archiver != nil {
		if err := s.Archiver.Close(ctx); err != nil {
			log.WithError(err).Warn("Failed to disconnect MongoDB")
		}
	}
}

func initNotifier(ctx context.Context, cfg *config.Config, log *logger.Entry) pipeline.Notifier {
	if !cfg.EmailEnabled {
		log.Info("Email notifications disabled")
		return notifier.Disabled{}
	}
	if cfg.SESFromEmail == "" || cfg.SESToEmail == "" {
		log.Warn("SES_FROM_EMAIL or SES_TO_EMAIL not set, email notifications disabled")
		return notifier.Disabled{}
	}

	n, err := notifier.NewSESNotifier(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESToEmail)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize SES, email notifications disabled")
		return notifier.Disabled{}
	}
	return n
}

func initCache(ctx context.Context, cfg *config.Config, log *logger.Entry) *cache.SnapshotCache {
	if cfg.RedisURL == "" {
		return nil
	}
	c, err := cache.NewSnapshotCache(cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		log.WithError(err).Warn("Redis not configured correctly, cache disabled")
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("Redis unreachable, cache disabled")
		c.Close()
		return nil
	}
	log.Info("Redis snapshot cache enabled")
	return c
}

func initArchiver(ctx context.Context, cfg *config.Config, log *logger.Entry) *archive.MongoArchiver {
	if cfg.MongoURI == "" {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	a, err := archive.Connect(connCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.WithError(err).Warn("MongoDB not configured or failed to connect, run archive disabled")
		return nil
	}
	log.Info("MongoDB run archive enabled")
	return a
}
