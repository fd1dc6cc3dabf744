package backend

import (
	"context"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cache"
	"bilancio/internal/ledger"
	"bilancio/internal/scheduler"
	"bilancio/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the wired ledger services and what they run on
type BackendResult struct {
	Store     storage.Store
	Ledger    *ledger.Ledger
	Scheduler *scheduler.Service
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher *amqp.Client
	Caches    *cache.Manager
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the store and wires the services on top of it
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	LockTimeout time.Duration

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	PostgresURL string

	// Optional event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Balance cache, disabled when size or TTL is zero
	BalanceCacheTTL  time.Duration
	BalanceCacheSize int

	Scheduler scheduler.Config
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
