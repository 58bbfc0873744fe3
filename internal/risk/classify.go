package risk

import (
	"fmt"
	"strings"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/typemap"
)

// RowCountUnavailable is the warning attached when no row count is known.
const RowCountUnavailable = "row count unavailable, assuming worst case"

// BackupFirst is recommended for every HIGH-risk drop.
const BackupFirst = "create backup before applying"

// Thresholds are the row-count limits that drive escalation, backup
// recommendations and staging.
type Thresholds struct {
	HighImpactRows int64 `json:"high_impact_rows" yaml:"high_impact_rows"`
	BackupRows     int64 `json:"backup_rows" yaml:"backup_rows"`
	StagingRows    int64 `json:"staging_rows" yaml:"staging_rows"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighImpactRows: 1000,
		BackupRows:     10000,
		StagingRows:    100000,
	}
}

// RowCounts maps tables to their live row counts. A missing entry means the
// count is unavailable.
type RowCounts map[schema.TableRef]int64

// Lookup returns the row count for a table, if known.
func (rc RowCounts) Lookup(ref schema.TableRef) (int64, bool) {
	n, ok := rc[ref]
	return n, ok
}

// Options configure classification.
type Options struct {
	Thresholds Thresholds
	Types      *typemap.TypeMap // nil uses the PostgreSQL defaults
}

// Context is the per-operation input to Classify.
type Context struct {
	Options
	RowCount *int64 // nil when unavailable
}

// Assessment is the risk verdict for one operation or for a whole change set.
type Assessment struct {
	Level           Level    `json:"level" yaml:"level"`
	Warnings        []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	AffectedRows    *int64   `json:"affected_rows,omitempty" yaml:"affected_rows,omitempty"`
}

func (a *Assessment) warn(format string, args ...any) {
	a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
}

func (a *Assessment) recommend(format string, args ...any) {
	a.Recommendations = append(a.Recommendations, fmt.Sprintf(format, args...))
}

// Classify assesses a single operation. The first rule matching the
// operation kind sets the base level; row-count rules then add warnings and
// may escalate MEDIUM to HIGH.
func Classify(op diff.Operation, ctx Context) Assessment {
	types := ctx.Types
	if types == nil {
		types = typemap.ForDatabase("postgresql")
	}

	a := baseAssessment(op, types)
	if op.Kind == diff.CreateTable {
		return a
	}
	applyRowCount(&a, op, ctx)
	return a
}

func baseAssessment(op diff.Operation, types *typemap.TypeMap) Assessment {
	var a Assessment
	table := op.Table

	switch op.Kind {
	case diff.CreateTable:
		a.Level = Low

	case diff.AddIndex:
		a.Level = Low

	case diff.DropIndex:
		a.Level = Low
		a.warn("queries relying on index %s may slow down", indexName(op))

	case diff.AddColumn:
		col := op.Column
		switch {
		case col.Nullable:
			a.Level = Low
		case col.HasDefault():
			a.Level = Low
			a.warn("adding NOT NULL column %s.%s with a default may rewrite the table", table, col.Name)
		default:
			a.Level = Medium
			a.warn("adding NOT NULL column %s.%s without a default fails if table has existing rows", table, col.Name)
			a.recommend("add %s.%s as nullable first, backfill it, then set NOT NULL", table, col.Name)
			a.recommend("%s", backfillTemplate(table, col.Name))
		}

	case diff.AlterColumnType:
		a.Level = Medium
		a.warn("changing %s.%s from %s to %s may fail for existing values", table, op.After.Name, op.Before.DataType, op.After.DataType)
		if lossy, reason := types.Lossy(op.Before.DataType, op.After.DataType); lossy {
			a.warn("type conversion may result in data loss: %s", reason)
		}
		a.recommend("test the conversion on a data sample first")

	case diff.AlterColumnNullable:
		if op.Tightens() {
			a.Level = Medium
			a.warn("setting %s.%s NOT NULL fails if NULL values exist", table, op.After.Name)
			a.recommend("%s", backfillTemplate(table, op.After.Name))
		} else {
			a.Level = Low
		}

	case diff.AddConstraint:
		a.Level = Medium
		c := op.Constraint
		cols := strings.Join(c.Columns, ", ")
		switch c.Type {
		case schema.Unique:
			a.warn("unique constraint on %s(%s) fails if duplicate values exist", table, cols)
			a.recommend("check for duplicate values before applying")
		case schema.ForeignKey:
			a.warn("foreign key on %s(%s) fails if rows reference missing %s rows", table, cols, c.ReferencedTable)
			a.recommend("remove or fix orphaned rows before applying")
		case schema.PrimaryKey:
			a.warn("primary key on %s(%s) fails if NULL or duplicate values exist", table, cols)
			a.recommend("check for duplicate values before applying")
		default:
			a.warn("check constraint on %s fails if existing rows violate it", table)
			a.recommend("verify existing rows satisfy %s", c.Definition)
		}

	case diff.DropTable:
		a.Level = High
		a.warn("table %s will be permanently deleted with all its data", table)
		a.warn("foreign keys and code referencing %s will break", table)
		a.recommend(BackupFirst)
		a.recommend("CREATE TABLE %s_backup AS SELECT * FROM %s;", table, table)

	case diff.DropColumn:
		a.Level = High
		a.warn("column %s.%s data will be permanently lost", table, op.Column.Name)
		a.warn("code reading %s.%s will break", table, op.Column.Name)
		a.recommend(BackupFirst)
		a.recommend("consider renaming to %s_deprecated and dropping it in a later release", op.Column.Name)

	case diff.DropConstraint:
		a.Level = High
		c := op.Constraint
		a.warn("dropping %s constraint on %s(%s) allows data that violates it",
			strings.ReplaceAll(string(c.Type), "_", " "), table, strings.Join(c.Columns, ", "))
		a.warn("dependents relying on the constraint may break")
		a.recommend(BackupFirst)

	default:
		a.Level = High
		a.warn("no risk rule for operation %s, treating as HIGH", op.Kind)
		a.recommend("review this change manually")
	}
	return a
}

func applyRowCount(a *Assessment, op diff.Operation, ctx Context) {
	if ctx.RowCount == nil {
		a.Warnings = append(a.Warnings, RowCountUnavailable)
		return
	}

	n := *ctx.RowCount
	a.AffectedRows = &n
	th := ctx.Thresholds

	if a.Level >= Medium && n > 0 {
		a.warn("affects %d rows in %s", n, op.Table)
	}
	if th.HighImpactRows > 0 && n > th.HighImpactRows {
		if escalated := a.Level.escalate(op.Kind.Destructive()); escalated != a.Level {
			a.Level = escalated
			a.warn("%d rows exceed the high-impact threshold of %d", n, th.HighImpactRows)
		}
		if op.Kind == diff.AddIndex {
			a.recommend("build the index concurrently to avoid locking %d rows", n)
		}
	}
	if th.BackupRows > 0 && n > th.BackupRows && a.Level >= Medium {
		a.recommend("backup recommended: %d rows affected", n)
	}
}

func backfillTemplate(table, column string) string {
	return fmt.Sprintf("UPDATE %s SET %s = <value> WHERE %s IS NULL;", table, column, column)
}

func indexName(op diff.Operation) string {
	if op.Index == nil {
		return ""
	}
	return op.Index.Name
}
