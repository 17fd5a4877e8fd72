package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"BTCIngest/internal/domain"
)

func newRepo(t *testing.T, opts RepositoryOptions) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewPostgresRepository(db, opts)
	if err != nil {
		t.Fatalf("NewPostgresRepository: %v", err)
	}
	return repo, mock
}

func candleAt(hour int, price float64) domain.Candle {
	p := price
	return domain.Candle{
		Timestamp: time.Date(2023, time.October, 1, hour, 0, 0, 0, time.UTC),
		Open:      &p,
		Close:     &p,
	}
}

func TestNewPostgresRepositoryRejectsBadOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresRepository(nil, RepositoryOptions{Table: "bad-name; DROP"}); err == nil {
		t.Fatalf("expected invalid table name error")
	}
	if _, err := NewPostgresRepository(nil, RepositoryOptions{Table: "candles", Policy: "merge"}); err == nil {
		t.Fatalf("expected unknown policy error")
	}
}

func TestEnsureSchemaCreatesHypertable(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data", Hypertable: true})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bitcoin_stock_data \(date_time TIMESTAMPTZ PRIMARY KEY, open_price DOUBLE PRECISION`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM timescaledb_information.hypertables`).
		WithArgs("bitcoin_stock_data").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`SELECT create_hypertable`).
		WithArgs("bitcoin_stock_data", "date_time").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSchemaSkipsExistingHypertable(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data", Hypertable: true})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSchemaFailure(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data"})
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnError(errors.New("permission denied"))

	err := repo.EnsureSchema(context.Background())
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "create table" {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestInsertCandlesIgnoresConflicts(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data"})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bitcoin_stock_data \(date_time,open_price,high_price,low_price,close_price,volume_btc,volume_currency,weighted_price\) VALUES \(\$1,.*\),\(\$9,.*\) ON CONFLICT \(date_time\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := repo.InsertCandles(context.Background(), []domain.Candle{candleAt(1, 10), candleAt(2, 20)})
	if err != nil {
		t.Fatalf("InsertCandles: %v", err)
	}
	if n != 2 {
		t.Fatalf("unexpected affected rows: %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertCandlesUpsert(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data", Policy: ConflictUpsert})

	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(date_time\) DO UPDATE SET open_price = EXCLUDED.open_price, .*weighted_price = EXCLUDED.weighted_price`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := repo.InsertCandles(context.Background(), []domain.Candle{candleAt(1, 10)}); err != nil {
		t.Fatalf("InsertCandles: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertCandlesRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data"})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bitcoin_stock_data`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.InsertCandles(context.Background(), []domain.Candle{candleAt(1, 10)})
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "insert" {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertCandlesChunksInsideOneTransaction(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data"})

	candles := make([]domain.Candle, maxRowsPerStatement+1)
	base := time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		v := float64(i)
		candles[i] = domain.Candle{Timestamp: base.Add(time.Duration(i) * time.Second), Close: &v}
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bitcoin_stock_data`).WillReturnResult(sqlmock.NewResult(0, maxRowsPerStatement))
	mock.ExpectExec(`INSERT INTO bitcoin_stock_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.InsertCandles(context.Background(), candles)
	if err != nil {
		t.Fatalf("InsertCandles: %v", err)
	}
	if n != maxRowsPerStatement+1 {
		t.Fatalf("unexpected affected rows: %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertCandlesEmpty(t *testing.T) {
	t.Parallel()

	repo, mock := newRepo(t, RepositoryOptions{Table: "bitcoin_stock_data"})
	if n, err := repo.InsertCandles(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("unexpected result: %d %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}
