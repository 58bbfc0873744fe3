package rowcount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"

	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/validation"
)

// database/sql driver names.
const (
	DriverMySQL  = "mysql"
	DriverOracle = "oracle"
	DriverSQLite = "sqlite"
)

// SQL reads row counts through database/sql. MySQL and Oracle use catalog
// statistics unless exact counts are requested; SQLite always counts.
type SQL struct {
	driver string
	dsn    string
	opts   Options
	db     *sql.DB
}

// NewSQL creates a provider for a database/sql driver.
func NewSQL(driver, dsn string, opts Options) *SQL {
	return &SQL{driver: driver, dsn: dsn, opts: opts}
}

func (s *SQL) Connect(ctx context.Context) error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("opening %s connection: %w", s.driver, err)
	}
	db.SetMaxOpenConns(max(1, s.opts.MaxConns))
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging %s: %w", s.driver, err)
	}
	s.db = db
	return nil
}

func (s *SQL) RowCount(ctx context.Context, ref schema.TableRef) (int64, bool, error) {
	if s.db == nil {
		return 0, false, fmt.Errorf("not connected; call Connect first")
	}

	var (
		stat sql.NullInt64
		err  error
	)
	switch s.driver {
	case DriverMySQL:
		err = s.db.QueryRowContext(ctx,
			`SELECT TABLE_ROWS FROM information_schema.TABLES
			WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?`,
			s.opts.schemaFor(ref), ref.Table).Scan(&stat)
	case DriverOracle:
		err = s.db.QueryRowContext(ctx,
			`SELECT NUM_ROWS FROM ALL_TABLES
			WHERE OWNER = NVL(:1, SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA')) AND TABLE_NAME = :2`,
			strings.ToUpper(s.opts.schemaFor(ref)), strings.ToUpper(ref.Table)).Scan(&stat)
	case DriverSQLite:
		var found int64
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, ref.Table).Scan(&found)
		if err == nil && found == 0 {
			err = sql.ErrNoRows
		}
	default:
		return 0, false, &UnsupportedSourceError{Type: s.driver}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading statistics for %s: %w", ref, err)
	}
	if !s.opts.Exact && stat.Valid {
		return stat.Int64, true, nil
	}

	n, err := s.Count(ctx, "SELECT COUNT(*) FROM "+s.qualified(ref))
	if err != nil {
		return 0, false, fmt.Errorf("counting rows in %s: %w", ref, err)
	}
	return n, true, nil
}

// Count runs a query returning a single integer.
func (s *SQL) Count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQL) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQL) qualified(ref schema.TableRef) string {
	switch s.driver {
	case DriverMySQL:
		name := quoteIdentMySQL(ref.Table)
		if nsp := s.opts.schemaFor(ref); nsp != "" {
			name = quoteIdentMySQL(nsp) + "." + name
		}
		return name
	case DriverOracle:
		name := quoteIdentOra(strings.ToUpper(ref.Table))
		if nsp := s.opts.schemaFor(ref); nsp != "" {
			name = quoteIdentOra(strings.ToUpper(nsp)) + "." + name
		}
		return name
	default:
		return quoteIdentPg(ref.Table)
	}
}

func quoteIdentMySQL(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteIdentOra(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var (
	_ Provider           = (*SQL)(nil)
	_ validation.Counter = (*SQL)(nil)
)
