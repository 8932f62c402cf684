package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/medical-appointment-saga/internal/config"
	"github.com/hackgods/medical-appointment-saga/internal/country"
	"github.com/hackgods/medical-appointment-saga/internal/db"
)

// DB is the part of *pgxpool.Pool the ledger uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Dialer opens a connection pool for a DSN.
type Dialer func(ctx context.Context, dsn string) (DB, error)

// PgxDialer dials pgxpool pools capped at maxConns connections.
func PgxDialer(maxConns int32) Dialer {
	return func(ctx context.Context, dsn string) (DB, error) {
		pool, err := db.ConnectPostgres(ctx, dsn, maxConns)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}

type RegistryOptions struct {
	// Databases maps each country to its ledger database name.
	Databases   map[country.Code]string
	Credentials CredentialsSource
	SSLMode     string
	Dial        Dialer
	Logger      *zap.Logger
}

// Registry owns one lazily created pool per country. Concurrent first
// calls for a country share a single creation; a failed creation is not
// remembered, so the next call tries again.
type Registry struct {
	opts RegistryOptions
	log  *zap.Logger

	mu     sync.RWMutex
	pools  map[country.Code]DB
	group  singleflight.Group
	closed bool
}

var ErrRegistryClosed = errors.New("ledger registry closed")

func NewRegistry(opts RegistryOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		opts:  opts,
		log:   log,
		pools: make(map[country.Code]DB),
	}
}

// RegistryFromConfig wires a pgxpool-backed registry from the ledger settings.
func RegistryFromConfig(cfg config.LedgerConfig, log *zap.Logger) *Registry {
	return NewRegistry(RegistryOptions{
		Databases:   cfg.Databases,
		Credentials: SecretFromConfig(cfg),
		SSLMode:     cfg.SSLMode,
		Dial:        PgxDialer(cfg.MaxConns),
		Logger:      log,
	})
}

// Pool returns the pool for code, creating it on first use.
func (r *Registry) Pool(ctx context.Context, code country.Code) (DB, error) {
	if p, err := r.cached(code); p != nil || err != nil {
		return p, err
	}

	v, err, _ := r.group.Do(code.String(), func() (any, error) {
		if p, err := r.cached(code); p != nil || err != nil {
			return p, err
		}
		p, err := r.create(ctx, code)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			p.Close()
			return nil, ErrRegistryClosed
		}
		r.pools[code] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(DB), nil
}

func (r *Registry) cached(code country.Code) (DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	return r.pools[code], nil
}

func (r *Registry) create(ctx context.Context, code country.Code) (DB, error) {
	database, ok := r.opts.Databases[code]
	if !ok || database == "" {
		return nil, fmt.Errorf("no ledger database configured for %s", code)
	}

	r.log.Info("fetching ledger credentials", zap.String("country", code.String()), zap.String("database", database))
	creds, err := r.opts.Credentials.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger credentials for %s: %w", code, err)
	}

	p, err := r.opts.Dial(ctx, creds.DSN(database, r.opts.SSLMode))
	if err != nil {
		r.log.Error("ledger pool creation failed", zap.String("country", code.String()), zap.Error(err))
		return nil, fmt.Errorf("open ledger pool for %s: %w", code, err)
	}

	r.log.Info("ledger pool ready",
		zap.String("country", code.String()),
		zap.String("host", creds.Host),
		zap.String("database", database),
	)
	return p, nil
}

// Close closes every pool created so far. Later Pool calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for code, p := range r.pools {
		p.Close()
		delete(r.pools, code)
	}
}
