package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"mathavam/backend/internal/store"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SlowQuery logs queries running longer than this at Warn. Zero disables
	// slow query logging; failed queries are always logged.
	SlowQuery time.Duration
	Log       *slog.Logger
}

// Open connects through the pgx stdlib driver and verifies the connection
// before handing back a bun handle.
func Open(ctx context.Context, databaseURL string, opts Options) (*bun.DB, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	if opts.Log != nil {
		db.AddQueryHook(newQueryLogger(opts.Log, opts.SlowQuery))
	}
	return db, nil
}

func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// Pinger reports database reachability for the readiness check.
type Pinger struct {
	db *bun.DB
}

func NewPinger(db *bun.DB) Pinger {
	return Pinger{db: db}
}

func (p Pinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type queryLogger struct {
	log  *slog.Logger
	slow time.Duration
}

var _ bun.QueryHook = (*queryLogger)(nil)

func newQueryLogger(log *slog.Logger, slow time.Duration) *queryLogger {
	return &queryLogger{log: log.With(slog.String("component", "store.postgres")), slow: slow}
}

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	switch {
	case expected(event.Err):
		h.log.LogAttrs(ctx, slog.LevelDebug, "query rejected",
			slog.String("operation", event.Operation()),
			slog.Any("err", event.Err),
		)
	case event.Err != nil:
		h.log.LogAttrs(ctx, slog.LevelError, "query failed",
			slog.String("operation", event.Operation()),
			slog.Duration("elapsed", elapsed),
			slog.Any("err", event.Err),
		)
	case h.slow > 0 && elapsed >= h.slow:
		h.log.LogAttrs(ctx, slog.LevelWarn, "slow query",
			slog.String("operation", event.Operation()),
			slog.Duration("elapsed", elapsed),
			slog.String("query", truncate(event.Query, 512)),
		)
	}
}

// expected reports errors the repositories translate into store sentinels.
func expected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	mapped := mapWriteError(err)
	return errors.Is(mapped, store.ErrConflict) || errors.Is(mapped, store.ErrIdempotencyConflict)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
