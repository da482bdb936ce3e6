package pg

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
)

// migrationLockID es fijo: el schema es uno solo, compartido por todos los
// tenants, así que alcanza un único advisory lock.
var migrationLockID = func() int64 {
	h := sha256.Sum256([]byte("multipass:schema_migration"))
	return int64(binary.BigEndian.Uint64(h[:8]))
}()

// Migrate aplica los *.sql de fsys en orden lexicográfico, salteando los ya
// registrados en schema_migrations. El advisory lock serializa a réplicas que
// arrancan a la vez; devuelve cuántos scripts aplicó.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	log := logger.Named("pg.migrate")

	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		if _, err := s.pool.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("unlock failed", logger.Err(err))
		}
	}()

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
		    name       text PRIMARY KEY,
		    applied_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return 0, err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var applied int
	for _, name := range names {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
		).Scan(&exists)
		if err != nil {
			return applied, err
		}
		if exists {
			continue
		}

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, err
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return applied, err
		}
		if _, err := tx.Exec(ctx, string(b)); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("exec %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return applied, err
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, err
		}

		log.Info("applied", logger.String("migration", name))
		applied++
	}
	return applied, nil
}
