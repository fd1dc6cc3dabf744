package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
	"bilancio/internal/scheduler"
	"bilancio/internal/storage"
	"bilancio/internal/storage/memory"
	"bilancio/internal/storage/postgres"
	"bilancio/internal/storage/sqlite"
)

const cacheCleanupInterval = time.Minute

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	res := &BackendResult{Store: store}
	opts := []ledger.Option{ledger.WithLogger(f.logger)}

	// Initialize AMQP client (optional)
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without ledger events", log.FieldError, err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			res.Publisher = client
			opts = append(opts, ledger.WithPublisher(client))
		}
	}

	if config.BalanceCacheSize > 0 && config.BalanceCacheTTL > 0 {
		balances := cache.NewLRUCache[core.Money](config.BalanceCacheSize, config.BalanceCacheTTL)
		res.Caches = cache.NewManager(f.logger)
		res.Caches.Register(balances)
		res.Caches.StartCleanup(cacheCleanupInterval)
		opts = append(opts, ledger.WithBalanceCache(balances))
	}

	res.Ledger = ledger.New(store, opts...)
	res.Scheduler = scheduler.New(store, res.Ledger, config.Scheduler, scheduler.WithLogger(f.logger))
	res.Cleanup = res.close

	f.logger.Info("Initialized backend",
		"type", config.Type.String(),
		"amqp_enabled", res.Publisher != nil,
		"balance_cache", res.Caches != nil)
	return res, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (storage.Store, error) {
	switch config.Type {
	case MemoryBackend:
		return memory.New(memory.WithLockTimeout(config.LockTimeout)), nil
	case SQLiteBackend:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: config.SQLiteDBPath, BusyTimeout: config.LockTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case PostgresBackend:
		store, err := postgres.Open(ctx, postgres.Config{URL: config.PostgresURL, LockTimeout: config.LockTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (r *BackendResult) close() error {
	var errs []error

	if r.Caches != nil {
		r.Caches.Stop()
	}
	if r.Publisher != nil {
		if err := r.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
