package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	models "github.com/Schera-ole/trainkit/internal/model"
)

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// DBStorage implements the Repository interface on PostgreSQL.
type DBStorage struct {
	db     *sql.DB
	delays []time.Duration
}

// NewDBStorage opens a connection pool for dsn.
func NewDBStorage(dsn string) (*DBStorage, error) {
	dbConnect, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrDatabaseConnection, err)
	}
	return &DBStorage{db: dbConnect, delays: retryDelays}, nil
}

// Close closes the connection pool.
func (storage *DBStorage) Close() error {
	return storage.db.Close()
}

// Ping checks the database connection.
func (storage *DBStorage) Ping(ctx context.Context) error {
	if err := storage.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrDatabaseConnection, err)
	}
	return nil
}

// SaveEpoch upserts results in a single transaction, retrying on connection
// errors and serialization failures.
func (storage *DBStorage) SaveEpoch(ctx context.Context, results []models.EpochResult) error {
	return storage.withRetry(ctx, func() error {
		return storage.saveEpoch(ctx, results)
	})
}

func (storage *DBStorage) saveEpoch(ctx context.Context, results []models.EpochResult) error {
	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO epoch_results (run, epoch, metric, average, total, count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run, epoch, metric)
		DO UPDATE SET average = EXCLUDED.average, total = EXCLUDED.total,
			count = EXCLUDED.count, created_at = EXCLUDED.created_at`)
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrQueryExecution, err)
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.ExecContext(ctx, r.Run, r.Epoch, r.Metric, r.Average, r.Total, r.Count, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("%w: saving %s/%d/%s: %w", internalerrors.ErrQueryExecution, r.Run, r.Epoch, r.Metric, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrTransactionFailed, err)
	}
	return nil
}

// ListEpochs returns the stored results of run.
func (storage *DBStorage) ListEpochs(ctx context.Context, run string) ([]models.EpochResult, error) {
	var result []models.EpochResult
	err := storage.withRetry(ctx, func() error {
		rows, err := storage.db.QueryContext(ctx, `
			SELECT run, epoch, metric, average, total, count, created_at
			FROM epoch_results WHERE run = $1 ORDER BY epoch, metric`, run)
		if err != nil {
			return fmt.Errorf("%w: %w", internalerrors.ErrQueryExecution, err)
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			var r models.EpochResult
			if err := rows.Scan(&r.Run, &r.Epoch, &r.Metric, &r.Average, &r.Total, &r.Count, &r.CreatedAt); err != nil {
				return fmt.Errorf("%w: %w", internalerrors.ErrQueryExecution, err)
			}
			result = append(result, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteRun removes every result of run.
func (storage *DBStorage) DeleteRun(ctx context.Context, run string) error {
	return storage.withRetry(ctx, func() error {
		if _, err := storage.db.ExecContext(ctx, "DELETE FROM epoch_results WHERE run = $1", run); err != nil {
			return fmt.Errorf("%w: %w", internalerrors.ErrQueryExecution, err)
		}
		return nil
	})
}

func (storage *DBStorage) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	for _, delay := range storage.delays {
		if err == nil || !isRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		err = fn()
	}
	return err
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
