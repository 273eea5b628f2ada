/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package medium

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	applog "snipvault/internal/log"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// dialect=PostgreSQL
const (
	pgGetSQL    = `SELECT value FROM snipvault_items WHERE namespace = $1 AND key = $2`
	pgSetSQL    = `INSERT INTO snipvault_items(namespace, key, value, updated_at) VALUES($1, $2, $3, now()) ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	pgRemoveSQL = `DELETE FROM snipvault_items WHERE namespace = $1 AND key = $2`
	pgKeysSQL   = `SELECT key FROM snipvault_items WHERE namespace = $1 ORDER BY key`
)

// pgDiskFull is SQLSTATE 53100 (disk_full).
const pgDiskFull = "53100"

// Postgres is a shared medium: several processes on several hosts can point at
// the same table. Writes are still uncoordinated; the last writer wins.
type Postgres struct {
	db        *sql.DB
	namespace string
}

// OpenPostgres connects via the pgx stdlib driver and applies embedded migrations.
func OpenPostgres(dsn, namespace string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres medium: dsn is required")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("postgres medium: namespace is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrUnavailable, err)
	}
	if err := applyPostgresMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db, namespace: namespace}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) GetItem(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var v string
	err := p.db.QueryRowContext(ctx, pgGetSQL, p.namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: postgres get %q: %v", ErrUnavailable, key, err)
	}
	return v, true, nil
}

func (p *Postgres) SetItem(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, pgSetSQL, p.namespace, key, value); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDiskFull {
			return fmt.Errorf("%w: postgres set %q: %v", ErrQuotaExceeded, key, err)
		}
		return fmt.Errorf("%w: postgres set %q: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (p *Postgres) RemoveItem(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, pgRemoveSQL, p.namespace, key); err != nil {
		return fmt.Errorf("%w: postgres remove %q: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (p *Postgres) Keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, pgKeysSQL, p.namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres keys: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// applyPostgresMigrations runs every embedded NNNN_name.sql file not yet recorded
// in schema_migrations, each in its own transaction.
func applyPostgresMigrations(ctx context.Context, db *sql.DB) error {
	l := applog.WithOperation(applog.WithComponent("medium.postgres"), "migrate")
	entries, err := postgresMigrationsFS.ReadDir("migrations/postgres")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range files {
		ver, err := migrationVersion(name)
		if err != nil {
			return err
		}
		if applied[ver] {
			continue
		}
		body, err := postgresMigrationsFS.ReadFile(path.Join("migrations/postgres", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1, $2)`, ver, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		l.Info("migration applied", slog.String("name", name))
	}
	return nil
}

// migrationVersion parses the numeric prefix of "0002_items_updated_idx.sql".
func migrationVersion(name string) (int64, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: missing version prefix", name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("migration %s: bad version prefix: %w", name, err)
	}
	return v, nil
}
