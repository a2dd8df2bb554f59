package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pos/internal/inventory"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/sequence"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// LedgerDeps carries the collaborators shared by the API and the worker.
type LedgerDeps struct {
	Logger      *slog.Logger
	Metrics     inventory.MetricsRecorder
	Integration inventory.IntegrationHandler
}

// Ledger owns the connections behind the inventory service.
type Ledger struct {
	Service   *inventory.Service
	Sequences sequence.Allocator
	Pool      *pgxpool.Pool
	Redis     *redis.Client
}

// NewLedger opens the stores selected by cfg and builds the inventory service.
func NewLedger(ctx context.Context, cfg *Config, deps LedgerDeps) (*Ledger, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{}

	if cfg.UsesPostgres() {
		if cfg.MigrateOnStart {
			if err := db.Migrate(cfg.PGDSN); err != nil {
				return nil, err
			}
			logger.Info("migrations applied")
		}
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		l.Pool = pool
	}

	switch cfg.SequenceBackend {
	case DriverPostgres:
		l.Sequences = sequence.NewPostgresAllocator(l.Pool)
	case DriverRedis:
		client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.Redis = client
		l.Sequences = sequence.NewRedisAllocator(client)
	case DriverMemory:
		l.Sequences = sequence.NewMemoryAllocator()
	default:
		l.Close()
		return nil, fmt.Errorf("app: unsupported sequence backend %q", cfg.SequenceBackend)
	}

	var (
		repo  inventory.RepositoryPort
		audit shared.AuditSink
		idem  inventory.IdempotencyPort
	)
	if cfg.StoreDriver == DriverPostgres {
		repo = inventory.NewRepository(l.Pool, cfg.LedgerTxTimeout)
		audit = shared.NewAuditLogger(l.Pool)
		idem = shared.NewIdempotencyStore(l.Pool)
	} else {
		logger.Warn("ledger running on the in-memory store; state is lost on restart")
		repo = inventory.NewMemoryRepository(cfg.LedgerTxTimeout)
		audit = shared.LogAuditSink{Logger: logger}
		idem = shared.NewMemoryIdempotencyStore()
	}

	l.Service = inventory.NewService(repo, l.Sequences, audit, idem, inventory.ServiceConfig{
		Logger:           logger,
		Metrics:          deps.Metrics,
		IntegrityWorkers: cfg.IntegrityCheckWorkers,
	}, deps.Integration)
	return l, nil
}

// Close releases every connection the ledger opened.
func (l *Ledger) Close() {
	if l == nil {
		return
	}
	if l.Redis != nil {
		_ = l.Redis.Close()
	}
	if l.Pool != nil {
		l.Pool.Close()
	}
}
