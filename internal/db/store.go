package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	prand "math/rand"
	"time"
)

// DefaultStoreTimeout is the default timeout used for any interaction
// with the storage/database.
var DefaultStoreTimeout = time.Second * 10

const (
	// DefaultNumTxRetries is the default number of times we'll retry a
	// transaction if it fails with an error that permits transaction
	// repetition.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the default initial delay between
	// retries. This will be used to generate a random delay between -50%
	// and +50% of this value, so 20 to 60 milliseconds. The retry will be
	// doubled after each attempt until we reach DefaultMaxRetryDelay. We
	// start with a random value to avoid multiple goroutines that are
	// created at the same time to effectively retry at the same time.
	DefaultInitialRetryDelay = time.Millisecond * 40

	// DefaultMaxRetryDelay is the default maximum delay between retries.
	DefaultMaxRetryDelay = time.Second * 3
)

// Store wraps a SQLite connection with retrying transaction support. All
// higher level stores execute their queries through this type.
type Store struct {
	db *sql.DB

	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration

	log *slog.Logger
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*Store)

// WithTxRetries overrides the number of times a transaction is retried when
// it fails with a repeatable error.
func WithTxRetries(numRetries int) StoreOption {
	return func(s *Store) {
		s.numRetries = numRetries
	}
}

// WithTxRetryDelay overrides the initial delay to wait before a transaction
// is retried.
func WithTxRetryDelay(delay time.Duration) StoreOption {
	return func(s *Store) {
		s.initialRetryDelay = delay
	}
}

// NewStore creates a new Store instance wrapping the given database
// connection.
func NewStore(db *sql.DB, log *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		db:                db,
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
		log:               log,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open opens the SQLite database at the given path, applies all pending
// migrations, and returns a Store wrapping it.
func Open(dbPath string, log *slog.Logger, opts ...StoreOption) (*Store, error) {
	sqlDB, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := ApplyAllMigrations(sqlDB, log); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return NewStore(sqlDB, log, opts...), nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// TxFunc is the function signature for transaction callbacks. The callback
// receives the transaction to execute its queries against.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max value.
func (s *Store) randRetryDelay(attempt int) time.Duration {
	halfDelay := s.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(s.initialRetryDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	// If this is the first attempt, we just return the initial delay.
	if attempt == 0 {
		return initialDelay
	}

	// For each subsequent delay, we double the initial delay. This still
	// gives us a somewhat random delay, but it still increases with each
	// attempt. We limit the power to 32 to avoid overflows.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	actualDelay := initialDelay * factor //nolint:durationcheck

	// Cap the delay at the maximum configured value.
	if actualDelay > s.maxRetryDelay {
		return s.maxRetryDelay
	}

	return actualDelay
}

// WithTx executes the given function within a database transaction. If the
// transaction fails with a serialization or deadlock error, it is retried
// with a randomized exponential backoff. Any other error rolls the
// transaction back and is returned to the caller.
func (s *Store) WithTx(ctx context.Context, fn TxFunc) error {
	waitBeforeRetry := func(attemptNumber int) {
		retryDelay := s.randRetryDelay(attemptNumber)

		s.log.DebugContext(
			ctx,
			"Retrying transaction due to tx serialization or "+
				"deadlock error",
			"attempt_number", attemptNumber,
			"delay", retryDelay,
		)

		// Before we try again, we'll wait with a random backoff based
		// on the retry delay.
		time.Sleep(retryDelay)
	}

	for i := 0; i < s.numRetries; i++ {
		// Create the db transaction.
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				// Nothing to roll back here, since we didn't
				// even get a transaction yet.
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := fn(ctx, tx); err != nil {
			dbErr := MapSQLError(err)

			// Roll back the transaction, then pop back up to try
			// once again if this is a repeatable error.
			_ = tx.Rollback()

			if IsSerializationOrDeadlockError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		// Commit transaction.
		if err := tx.Commit(); err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				// Commit failed due to serialization/deadlock,
				// clean up transaction state before retry.
				_ = tx.Rollback()

				waitBeforeRetry(i)

				continue
			}

			return dbErr
		}

		return nil
	}

	// If we get to this point, then we weren't able to successfully commit
	// a tx given the max number of retries.
	return ErrRetriesExceeded
}
