// Package rowcount looks up table sizes for risk classification and runs
// pre-flight check queries against the live source.
package rowcount

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Provider reports the number of rows in a table.
type Provider interface {
	Connect(ctx context.Context) error

	// RowCount returns false when the table does not exist or its size is
	// unknown.
	RowCount(ctx context.Context, ref schema.TableRef) (int64, bool, error)

	Close() error
}

// Options tune the database-backed providers.
type Options struct {
	// Exact counts rows instead of reading catalog statistics.
	Exact bool
	// SchemaPerModule maps a table's module to a database schema.
	SchemaPerModule bool
	// Schema is used when the module does not name one.
	Schema   string
	MaxConns int
}

func (o Options) schemaFor(ref schema.TableRef) string {
	if o.SchemaPerModule && ref.Module != "" {
		return ref.Module
	}
	return o.Schema
}

// UnsupportedSourceError is returned when no provider handles the source type.
type UnsupportedSourceError struct {
	Type string
}

func (e *UnsupportedSourceError) Error() string {
	return "unsupported row count source: " + e.Type
}

// New creates a Provider for the configured row count source.
func New(src config.SourceConfig, rc config.RowCountConfig) (Provider, error) {
	switch rc.Provider {
	case "", "none":
		return NewStatic(nil), nil
	case "static":
		return NewStatic(rc.Static), nil
	}

	opts := Options{
		Exact:           rc.Exact,
		SchemaPerModule: src.SchemaPerModule,
		Schema:          src.Schema,
		MaxConns:        src.MaxConnections,
	}

	switch src.Type {
	case "postgresql", "mysql", "sqlite", "oracle", "mongodb":
	default:
		return nil, &UnsupportedSourceError{Type: src.Type}
	}

	dsn, err := src.DSN()
	if err != nil {
		return nil, err
	}

	switch src.Type {
	case "postgresql":
		return NewPostgres(dsn, opts), nil
	case "mongodb":
		return NewMongo(dsn, src.Database, opts), nil
	case "sqlite":
		return NewSQL(DriverSQLite, dsn, opts), nil
	default:
		return NewSQL(src.Type, dsn, opts), nil
	}
}

// Collect fetches row counts for refs using at most concurrency lookups at
// once. A failed lookup is logged and the table is left out of the result.
// Only cancellation of ctx fails the whole collection.
func Collect(ctx context.Context, p Provider, refs []schema.TableRef, concurrency int, logger *slog.Logger) (risk.RowCounts, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	counts := make(risk.RowCounts, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, ref := range refs {
		g.Go(func() error {
			n, ok, err := p.RowCount(gctx, ref)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("row count unavailable", "table", ref.String(), "error", err)
				return nil
			}
			if !ok {
				logger.Debug("no row count", "table", ref.String())
				return nil
			}
			mu.Lock()
			counts[ref] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("row counts collected", "requested", len(refs), "known", len(counts))
	return counts, nil
}
