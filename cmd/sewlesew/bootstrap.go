package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kaleabSolomon/sewlesew-backend/internal/api"
	"github.com/kaleabSolomon/sewlesew-backend/internal/app"
	"github.com/kaleabSolomon/sewlesew-backend/internal/config"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/chapaclient"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/currencyclient"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/rabbitmq"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/smsclient"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/stripeclient"
	"github.com/redis/go-redis/v9"
)

// services is the wired application graph shared by every command.
type services struct {
	logger     *slog.Logger
	pool       *pgxpool.Pool
	redis      *redis.Client
	publisher  rabbitmq.Publisher
	lifecycle  *app.Lifecycle
	rates      *app.RateCache
	reconciler *app.Reconciler

	regionalSig api.RegionalSignatureVerifier
	cardHooks   api.CardWebhookParser
}

func newServices(ctx context.Context, cfg config.Config) (*services, error) {
	logger := newLogger()

	pool, err := newPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Println("Database connection established")

	svc := &services{logger: logger, pool: pool}
	repo := store.NewPostgresRepository(pool)

	var limiter app.RateLimiter
	if client := connectRedis(ctx, cfg.RedisURL); client != nil {
		svc.redis = client
		limiter = app.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix)
	}

	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap dependency=rabbitmq fallback=enabled msg=\"failed to initialize producer\" err=%v", err)
		svc.publisher = &rabbitmq.EventProducerFallback{Exchange: cfg.EventsExchange}
	} else {
		svc.publisher = producer
	}

	sms := smsclient.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	svc.lifecycle = app.NewLifecycle(repo, sms, limiter, svc.publisher, logger, cfg)
	svc.rates = app.NewRateCache(repo, currencyclient.NewClient(cfg.CurrencyAPIBaseURL, cfg.CurrencyAPIKey), logger)

	var regional app.RegionalGateway
	if cfg.ChapaSecretKey != "" {
		chapa := chapaclient.NewClient(cfg.ChapaAPIBaseURL, cfg.ChapaSecretKey, cfg.ChapaWebhookSecret)
		regional = chapa
		svc.regionalSig = chapa
	} else {
		log.Printf("level=warn component=bootstrap dependency=chapa msg=\"CHAPA_SECRET_KEY not set, regional donations disabled\"")
	}

	var card app.CardGateway
	if cfg.StripeSecretKey != "" {
		stripe := stripeclient.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.FrontendURL, nil)
		card = stripe
		svc.cardHooks = stripe
	} else {
		log.Printf("level=warn component=bootstrap dependency=stripe msg=\"STRIPE_SECRET_KEY not set, card donations disabled\"")
	}

	svc.reconciler = app.NewReconciler(repo, regional, card, svc.rates, svc.lifecycle, limiter, svc.publisher, logger, cfg)
	return svc, nil
}

func (s *services) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("level=warn component=bootstrap dependency=redis msg=\"close failed\" err=%v", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func newPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// connectRedis returns nil when Redis is not configured or unreachable. Rate limits are
// then skipped rather than failing requests.
func connectRedis(ctx context.Context, redisURL string) *redis.Client {
	if redisURL == "" {
		log.Printf("level=warn component=bootstrap dependency=redis msg=\"REDIS_URL not set, rate limiting disabled\"")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap dependency=redis fallback=enabled msg=\"invalid REDIS_URL\" err=%v", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap dependency=redis fallback=enabled msg=\"redis unavailable\" err=%v", err)
		_ = client.Close()
		return nil
	}
	log.Println("Redis connection established")
	return client
}
