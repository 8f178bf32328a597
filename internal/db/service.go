package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/callgate/callgate/internal/logging"
)

// ErrPoolBusy reports that a connection could not be acquired within
// the pool's configured bound. Retryable, not fatal.
var ErrPoolBusy = errors.New("db: connection pool busy")

// Settings configures the database service.
type Settings struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	AcquireTimeout  int    `yaml:"acquire_timeout"`   // seconds
	// PermissiveDecode opts in to passing unrecognized native values
	// through the untyped decode path instead of failing.
	PermissiveDecode bool `yaml:"permissive_decode"`
}

// Service owns the bounded connection pool and hands out sessions,
// each wrapping one exclusive connection.
type Service struct {
	db             *sql.DB
	log            *logging.Logger
	marshaller     Marshaller
	acquireTimeout time.Duration

	mu        sync.Mutex
	observers []CallObserver
}

// New validates the settings, opens the pool and verifies connectivity.
// Construction failures are fatal: the caller is expected to abort
// startup.
func New(cfg Settings, log *logging.Logger) (*Service, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("db: driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db: dsn not configured")
	}

	dbh, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		dbh.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		dbh.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		dbh.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbh.PingContext(ctx); err != nil {
		dbh.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	svc := NewWithDB(dbh, log)
	if cfg.AcquireTimeout > 0 {
		svc.acquireTimeout = time.Duration(cfg.AcquireTimeout) * time.Second
	}
	svc.marshaller.Permissive = cfg.PermissiveDecode
	return svc, nil
}

// NewWithDB wraps an already opened handle. Used by tests and callers
// that manage the pool themselves.
func NewWithDB(dbh *sql.DB, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{
		db:             dbh,
		log:            log,
		acquireTimeout: 30 * time.Second,
	}
}

// Session acquires one connection from the pool, blocking up to the
// configured bound. The returned session is not safe for concurrent
// use and must be closed to release the connection.
func (s *Service) Session(ctx context.Context) (*Session, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := s.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrPoolBusy, err)
		}
		return nil, err
	}
	return &Session{svc: s, conn: conn, m: s.marshaller}, nil
}

// Do runs work inside a session and always releases the connection.
func (s *Service) Do(ctx context.Context, work func(*Session) error) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return work(sess)
}

// Close shuts the pool down.
func (s *Service) Close() error {
	return s.db.Close()
}
