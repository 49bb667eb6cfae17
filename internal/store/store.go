// Package store persists plan snapshots keyed by plan id.
//
// Every back-end stores a plan as one document and applies last-writer-wins by
// [plan.Plan.UpdatedAt]: a Save carrying an older UpdatedAt than the stored
// copy is dropped. The orchestrator is the only writer.
//
// Key types:
//   - [Store] - the persistence contract
//   - [Memory] - process-local map, the default
//   - [File] - one YAML file per plan, written atomically
//   - [SQL] - single table on sqlite, duckdb, or postgres
//   - [Object] - S3-compatible bucket via minio-go
//
// Lookups of unknown ids return errors wrapping [plan.ErrPlanNotFound].
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workloop/internal/plan"
)

// Store saves and loads plan snapshots.
type Store interface {
	Save(ctx context.Context, p *plan.Plan) error
	Load(ctx context.Context, id string) (*plan.Plan, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// Driver names accepted by [Open].
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Config selects and configures a back-end.
type Config struct {
	Driver string `mapstructure:"driver"`

	// Path is the directory for file, or the database file for sqlite and duckdb.
	Path string `mapstructure:"path"`

	// DSN is the postgres connection URL.
	DSN string `mapstructure:"dsn"`

	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Open creates the back-end named by cfg.Driver. An empty driver means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return NewFile(cfg.Path)
	case DriverSQLite, DriverDuckDB, DriverPostgres:
		return OpenSQL(ctx, strings.ToLower(cfg.Driver), sqlSource(cfg))
	case DriverS3, "minio":
		return NewObject(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func sqlSource(cfg Config) string {
	if strings.EqualFold(cfg.Driver, DriverPostgres) {
		return cfg.DSN
	}
	return cfg.Path
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", plan.ErrPlanNotFound, id)
}

// stale reports whether incoming is older than what is already stored.
func stale(stored, incoming time.Time) bool {
	return stored.After(incoming)
}

// validID rejects ids that cannot be used as a file or object name.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid plan id %q", id)
	}
	return nil
}
