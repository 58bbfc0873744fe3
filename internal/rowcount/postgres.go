package rowcount

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// Postgres reads row counts from pg_class statistics, falling back to
// COUNT(*) for tables that have never been analyzed.
type Postgres struct {
	dsn  string
	opts Options
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL provider.
func NewPostgres(dsn string, opts Options) *Postgres {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	return &Postgres{dsn: dsn, opts: opts}
}

func (p *Postgres) Connect(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		return fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MaxConns = int32(max(1, p.opts.MaxConns))
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging PostgreSQL: %w", err)
	}
	p.pool = pool
	return nil
}

const pgEstimateQuery = `
SELECT c.reltuples::bigint
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')`

func (p *Postgres) RowCount(ctx context.Context, ref schema.TableRef) (int64, bool, error) {
	if p.pool == nil {
		return 0, false, fmt.Errorf("not connected; call Connect first")
	}
	nsp := p.opts.schemaFor(ref)

	var estimate int64
	err := p.pool.QueryRow(ctx, pgEstimateQuery, nsp, ref.Table).Scan(&estimate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading statistics for %s: %w", ref, err)
	}
	// reltuples is -1 until the first VACUUM or ANALYZE.
	if !p.opts.Exact && estimate >= 0 {
		return estimate, true, nil
	}

	n, err := p.Count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdentPg(nsp), quoteIdentPg(ref.Table)))
	if err != nil {
		return 0, false, fmt.Errorf("counting rows in %s: %w", ref, err)
	}
	return n, true, nil
}

// Count runs a query returning a single integer.
func (p *Postgres) Count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func quoteIdentPg(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var (
	_ Provider           = (*Postgres)(nil)
	_ validation.Counter = (*Postgres)(nil)
)
