package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by store operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness or state-machine violation.
	ErrConflict = errors.New("conflict")
)

// Store owns the shared PostgreSQL connection pool. It is a process-wide
// singleton created at startup and closed at shutdown; components receive it
// as an injected dependency.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Options tunes pool construction.
type Options struct {
	// MaxConns bounds the shared pool. Defaults to 20.
	MaxConns int32
}

// New connects to PostgreSQL and returns a Store.
func New(ctx context.Context, url string, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	} else {
		cfg.MaxConns = 20
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return &Store{pool: pool, logger: logger.Named("store")}, nil
}

// Pool exposes the underlying pool for components that need dedicated
// connections (LISTEN) or multi-statement transactions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Bootstrap applies the embedded schema. Migrations are append-only; every
// statement is idempotent so Bootstrap is safe to run on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	s.logger.Info("schema bootstrapped", zap.String("schema", Schema))
	return nil
}

// mapErr converts pgx-level errors to store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23xxx: integrity constraint violations.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

// IsTransient reports whether err looks like a dropped connection or timeout
// that a supervisor should retry with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx: connection exceptions, 57xxx: operator intervention
		// (shutdown, crash recovery).
		if len(pgErr.Code) == 5 {
			switch pgErr.Code[:2] {
			case "08", "57":
				return true
			}
		}
	}
	return pgconn.SafeToRetry(err)
}
