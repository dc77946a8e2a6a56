package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// migrationLockKey is the advisory lock held while migrating, so server
// processes that start together apply each file once.
const migrationLockKey int64 = 0x706172_6c6579

// ErrMigrationDrift means an applied migration file was edited afterwards.
var ErrMigrationDrift = errors.New("migration changed after it was applied")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type migration struct {
	id       string
	sql      string
	checksum string
}

// empty reports whether the file holds nothing but blank lines and
// line comments.
func (m migration) empty() bool {
	for _, line := range strings.Split(m.sql, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// Migrator applies the embedded migrations/*.sql files in name order and
// records each one with the checksum of its contents.
type Migrator struct {
	db  *sql.DB
	fs  fs.FS
	now func() time.Time
}

func NewMigrator(db *sql.DB, migrations fs.FS) *Migrator {
	return &Migrator{db: db, fs: migrations, now: time.Now}
}

func (m *Migrator) Up(ctx context.Context) error {
	if m.db == nil {
		return errors.New("db is required")
	}
	pending, err := m.load()
	if err != nil {
		return err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if err := m.ensureTable(ctx, conn); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	applied, err := m.applied(ctx, conn)
	if err != nil {
		return err
	}

	for _, mig := range pending {
		if sum, ok := applied[mig.id]; ok {
			if sum != mig.checksum {
				return fmt.Errorf("migration %s: %w", mig.id, ErrMigrationDrift)
			}
			continue
		}
		if err := m.apply(ctx, conn, mig); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) load() ([]migration, error) {
	files, err := fs.Glob(m.fs, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	out := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(m.fs, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			id:       path.Base(file),
			sql:      string(content),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context, q querier) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]string)
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		sums[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return sums, nil
}

// apply runs one file and its bookkeeping row in a single transaction.
// Comment-only files are recorded without being executed.
func (m *Migrator) apply(ctx context.Context, q querier, mig migration) error {
	tx, err := q.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mig.id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if !mig.empty() {
		if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", mig.id, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (id, checksum, applied_at) VALUES ($1, $2, $3)`,
		mig.id, mig.checksum, m.now().UTC(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", mig.id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.id, err)
	}
	return nil
}
