package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/l0p7/pricefeed/internal/handle"
)

const defaultTenantTable = "tenants"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// PostgresConfig describes the tenant table connection.
type PostgresConfig struct {
	DSN          string
	Table        string
	MaxOpenConns int
	MaxIdleConns int
}

// Postgres resolves handles with an indexed lookup against the tenant table
// owned by the main application. Only the public_handle and display_name
// columns are read.
type Postgres struct {
	db    *sql.DB
	query string
}

// OpenPostgres connects with lib/pq and verifies connectivity.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("directory: postgres dsn required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("directory: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("directory: ping postgres: %w", err)
	}

	p, err := NewPostgres(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB, table string) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("directory: postgres pool required")
	}
	if table == "" {
		table = defaultTenantTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("directory: invalid table name %q", table)
	}
	query := fmt.Sprintf(`SELECT display_name FROM %s WHERE public_handle = $1`, table)
	return &Postgres{db: db, query: query}, nil
}

// Resolve implements Directory.
func (p *Postgres) Resolve(ctx context.Context, h handle.Handle) (Tenant, error) {
	var name string
	err := p.db.QueryRowContext(ctx, p.query, h.String()).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, fmt.Errorf("directory: postgres resolve: %w", err)
	}
	return Tenant{Handle: h, DisplayName: name}, nil
}

// Ping reports pool health.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
