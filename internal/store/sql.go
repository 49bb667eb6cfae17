package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	_ "modernc.org/sqlite"

	"workloop/internal/plan"
)

// SQL stores plans as JSON documents in a single "plans" table.
type SQL struct {
	db      *sql.DB
	dialect string
}

// sqlDrivers maps dialects to the database/sql driver names registered above.
var sqlDrivers = map[string]string{
	DriverSQLite:   "sqlite",
	DriverDuckDB:   "duckdb",
	DriverPostgres: "pgx",
}

const createPlansTable = `CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	body TEXT NOT NULL
)`

// OpenSQL opens (and migrates) a SQL store. source is a file path for sqlite
// and duckdb, or a connection URL for postgres.
func OpenSQL(ctx context.Context, dialect, source string) (*SQL, error) {
	driver, ok := sqlDrivers[dialect]
	if !ok {
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}
	if source == "" {
		return nil, fmt.Errorf("%s store needs a path or dsn", dialect)
	}
	if dialect != DriverPostgres {
		if err := os.MkdirAll(filepath.Dir(source), 0755); err != nil {
			return nil, serr.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open database")
	}
	if dialect == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, serr.Wrap(err, "failed to ping database")
	}
	if _, err := db.ExecContext(ctx, createPlansTable); err != nil {
		db.Close()
		return nil, serr.Wrap(err, "failed to create plans table")
	}

	logger.Info("plan store connected", "dialect", dialect)
	return &SQL{db: db, dialect: dialect}, nil
}

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close()
}

// bind rewrites ? placeholders to $n for postgres.
func (s *SQL) bind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) Save(ctx context.Context, p *plan.Plan) error {
	if err := validID(p.ID); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return serr.Wrap(err, "failed to marshal plan")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, s.bind(`SELECT updated_at FROM plans WHERE id = ?`), p.ID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return serr.Wrap(err, "failed to read plan version")
	case stored > p.UpdatedAt.UnixNano():
		logger.Debug("skipping stale plan write", "plan_id", p.ID)
		return nil
	}

	_, err = tx.ExecContext(ctx, s.bind(`INSERT INTO plans (id, status, updated_at, body) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at, body = excluded.body`),
		p.ID, string(p.Status), p.UpdatedAt.UnixNano(), string(body))
	if err != nil {
		return serr.Wrap(err, "failed to upsert plan")
	}
	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit plan")
	}
	return nil
}

func (s *SQL) Load(ctx context.Context, id string) (*plan.Plan, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT body FROM plans WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to load plan")
	}
	var p plan.Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, serr.Wrap(err, "failed to parse plan")
	}
	return &p, nil
}

func (s *SQL) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM plans ORDER BY id`)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list plans")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, serr.Wrap(err, "failed to scan plan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "failed to list plans")
	}
	return ids, nil
}

func (s *SQL) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM plans WHERE id = ?`), id)
	if err != nil {
		return serr.Wrap(err, "failed to delete plan")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}
