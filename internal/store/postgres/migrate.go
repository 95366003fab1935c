package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const (
	gooseUpMarker   = "-- +goose Up"
	gooseDownMarker = "-- +goose Down"
)

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

type MigrateOptions struct {
	// ExtensionSchema pins CREATE EXTENSION statements to a schema, for runs
	// against a search_path that does not include public.
	ExtensionSchema string
	// Track records applied files in schema_migrations and skips them on
	// later runs.
	Track bool
	Log   *slog.Logger
}

// Migrate applies the Up section of every *.sql file in fsys in name order.
func Migrate(ctx context.Context, exec rawExecutor, fsys fs.FS, opts MigrateOptions) ([]string, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	applied := map[string]bool{}
	if opts.Track {
		if applied, err = appliedMigrations(ctx, exec); err != nil {
			return nil, err
		}
	}

	var ran []string
	for _, name := range names {
		if applied[name] {
			continue
		}
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return ran, err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return ran, fmt.Errorf("%s: %w", name, err)
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if opts.ExtensionSchema != "" {
				if normalized, ok := normalizeExtensionStatement(stmt, opts.ExtensionSchema); ok {
					stmt = normalized
				}
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return ran, fmt.Errorf("%s: %w", name, err)
			}
		}
		if opts.Track {
			if _, err := exec.NewRaw("INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)", name, time.Now().UTC()).Exec(ctx); err != nil {
				return ran, err
			}
		}
		log.Info("migration applied", slog.String("migration", name))
		ran = append(ran, name)
	}
	return ran, nil
}

func appliedMigrations(ctx context.Context, exec rawExecutor) (map[string]bool, error) {
	if _, err := exec.NewRaw("CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL)").Exec(ctx); err != nil {
		return nil, err
	}
	var names []string
	if err := exec.NewRaw("SELECT name FROM schema_migrations").Scan(ctx, &names); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

func extractGooseUp(sql string) (string, error) {
	upIdx := strings.Index(sql, gooseUpMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(gooseUpMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, gooseDownMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func normalizeExtensionStatement(stmt, schema string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA " + schema, true
}

// splitSQLStatements splits on semicolons. Migration files must not contain
// semicolons inside literals or function bodies.
func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
