package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/events"
	"github.com/sells-group/warranty-intake/internal/extract"
	"github.com/sells-group/warranty-intake/internal/homeowner"
	"github.com/sells-group/warranty-intake/internal/intake"
	"github.com/sells-group/warranty-intake/internal/lock"
	"github.com/sells-group/warranty-intake/internal/notify"
	"github.com/sells-group/warranty-intake/internal/store"
	"github.com/sells-group/warranty-intake/pkg/vapi"
)

// intakeEnv holds the store and the wired pipeline used by serve and replay.
type intakeEnv struct {
	Store        store.Store
	Orchestrator *intake.Orchestrator
	Publisher    events.Publisher
	Redis        *redis.Client
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// initIntake opens and migrates the store and wires the pipeline. Callers
// should defer env.Close().
func initIntake(ctx context.Context, mode string) (*intakeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env := &intakeEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	intakeCfg, err := intake.ConfigFromSettings(cfg.Intake)
	if err != nil {
		env.Close()
		return nil, err
	}

	var vapiClient vapi.Client
	if cfg.Vapi.APIKey != "" {
		vapiClient = vapi.NewClient(cfg.Vapi.APIKey,
			vapi.WithBaseURL(cfg.Vapi.BaseURL),
			vapi.WithTimeout(cfg.Vapi.Timeout),
			vapi.WithRateLimit(cfg.Vapi.RatePerSecond),
		)
	} else {
		zap.L().Warn("WARRANTY_VAPI_API_KEY not set, call-detail fallback disabled")
	}
	extractor := extract.New(vapiClient,
		extract.NewVendorBreaker(cfg.Vapi.BreakerFailures, cfg.Vapi.BreakerReset),
		extract.Config{
			FallbackDelay:          cfg.Vapi.FallbackDelay,
			Timeout:                cfg.Vapi.Timeout,
			MinIssueLength:         cfg.Intake.MinIssueLength,
			IntermediateEventTypes: cfg.Intake.IntermediateEventTypes,
		},
	)

	var transport notify.Transport = notify.LogTransport{}
	if cfg.Notify.Transport == "webhook" {
		transport = notify.NewWebhookTransport(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken)
	}
	notifier := notify.New(transport, cfg.Notify.Recipients, cfg.Notify.DefaultRecipient)

	var opts []intake.Option

	if cfg.Redis.Addr != "" {
		env.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := env.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			zap.L().Warn("redis unreachable, claim lock attempts will fail open", zap.Error(err))
		}
		opts = append(opts, intake.WithLocker(lock.NewRedisLocker(env.Redis, "lock:", cfg.Intake.ClaimLockTTL/2)))
		zap.L().Info("claim allocation lock enabled", zap.String("redis", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init event publisher")
		}
		env.Publisher = pub
		opts = append(opts, intake.WithPublisher(pub))
		zap.L().Info("intake events enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	candidates := homeowner.NewCachedSource(st, cfg.Intake.HomeownerCacheTTL)
	env.Orchestrator = intake.New(st, extractor, candidates, notifier, intakeCfg, opts...)
	return env, nil
}
