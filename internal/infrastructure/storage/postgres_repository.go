package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"BTCIngest/internal/domain"
	"BTCIngest/internal/ports"
	"BTCIngest/internal/transform"
)

// ConflictPolicy decides what happens to a row whose timestamp is already stored.
type ConflictPolicy string

const (
	ConflictIgnore ConflictPolicy = "ignore"
	ConflictUpsert ConflictPolicy = "upsert"
)

// maxRowsPerStatement keeps a statement under the 65535 bind parameter limit.
const maxRowsPerStatement = 5000

var tableNameExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidTableName reports whether name can be interpolated into DDL unquoted.
func ValidTableName(name string) bool {
	return tableNameExpr.MatchString(name)
}

// PostgresRepository persists candles into a TimescaleDB-enabled Postgres table.
type PostgresRepository struct {
	db         *sql.DB
	table      string
	policy     ConflictPolicy
	hypertable bool
	builder    sq.StatementBuilderType
}

var _ ports.CandleRepository = (*PostgresRepository)(nil)

// RepositoryOptions configures NewPostgresRepository.
type RepositoryOptions struct {
	Table      string
	Policy     ConflictPolicy
	Hypertable bool
}

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB, opts RepositoryOptions) (*PostgresRepository, error) {
	if !ValidTableName(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	switch opts.Policy {
	case "":
		opts.Policy = ConflictIgnore
	case ConflictIgnore, ConflictUpsert:
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", opts.Policy)
	}

	return &PostgresRepository{
		db:         db,
		table:      opts.Table,
		policy:     opts.Policy,
		hypertable: opts.Hypertable,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Open connects to Postgres and sizes the pool for the given number of concurrent writers.
func Open(ctx context.Context, dsn string, maxOpen, writers int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxOpen < writers+2 {
		maxOpen = writers + 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the table and converts it into a hypertable; both steps are idempotent.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	columns := make([]string, 0, len(transform.Columns)+1)
	columns = append(columns, transform.TimestampColumn+" TIMESTAMPTZ PRIMARY KEY")
	for _, col := range transform.Columns {
		columns = append(columns, col.Target+" DOUBLE PRECISION")
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", r.table, strings.Join(columns, ", "))
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return &domain.StorageError{Op: "create table", Err: err}
	}

	if !r.hypertable {
		return nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM timescaledb_information.hypertables WHERE hypertable_name = $1)`,
		r.table,
	).Scan(&exists)
	if err != nil {
		return &domain.StorageError{Op: "inspect hypertable", Err: err}
	}
	if exists {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`SELECT create_hypertable($1, $2, if_not_exists => TRUE, migrate_data => TRUE)`,
		r.table, transform.TimestampColumn,
	)
	if err != nil {
		return &domain.StorageError{Op: "create hypertable", Err: err}
	}
	return nil
}

// InsertCandles writes all candles in one transaction and returns the number of rows affected.
// Rows whose timestamp already exists are skipped or updated depending on the conflict policy.
func (r *PostgresRepository) InsertCandles(ctx context.Context, candles []domain.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.StorageError{Op: "begin", Err: err}
	}

	var affected int64
	for start := 0; start < len(candles); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(candles) {
			end = len(candles)
		}

		query, args, err := r.insertStatement(candles[start:end]).ToSql()
		if err != nil {
			_ = tx.Rollback()
			return 0, &domain.StorageError{Op: "build insert", Err: err}
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, &domain.StorageError{Op: "insert", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &domain.StorageError{Op: "commit", Err: err}
	}
	return affected, nil
}

func (r *PostgresRepository) insertStatement(candles []domain.Candle) sq.InsertBuilder {
	columns := []string{transform.TimestampColumn}
	for _, col := range transform.Columns {
		columns = append(columns, col.Target)
	}

	stmt := r.builder.Insert(r.table).Columns(columns...)
	for _, c := range candles {
		row := []interface{}{c.Timestamp}
		for _, v := range transform.Values(c) {
			row = append(row, nullable(v))
		}
		stmt = stmt.Values(row...)
	}

	return stmt.Suffix(r.conflictClause())
}

func (r *PostgresRepository) conflictClause() string {
	if r.policy != ConflictUpsert {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", transform.TimestampColumn)
	}

	sets := make([]string, 0, len(transform.Columns))
	for _, col := range transform.Columns {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col.Target, col.Target))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", transform.TimestampColumn, strings.Join(sets, ", "))
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
