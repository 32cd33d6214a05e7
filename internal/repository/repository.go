package repository

import (
	"context"
	"errors"
	"fmt"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/pkg/logger"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type Repository struct {
	db *sqlx.DB
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Transaction runs t inside a database transaction, rolling back when t fails.
func (r *Repository) Transaction(ctx context.Context, t func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	err = t(tx)
	if err != nil {
		txErr := tx.Rollback()
		if txErr != nil {
			return pkgerrors.Wrapf(err, "rollback error: %v", txErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyError(err)
	}
	return nil
}

// WithinTx implements ledger.Store.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

// ledgerTx is the ledger.Tx view over an open sqlx transaction.
type ledgerTx struct {
	tx *sqlx.Tx
}

// classifyError maps Postgres failures onto the ledger sentinels while keeping
// the driver error in the chain.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return fmt.Errorf("%w: %w", ledger.ErrTxConflict, err)
	case sqlStateUniqueViolation:
		return fmt.Errorf("%w: %w", ledger.ErrDuplicate, err)
	}
	return err
}

type Config struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func New(cfg Config) (*Repository, error) {
	url := cfg.GetDatabaseURL()
	db, err := sqlx.Connect("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Logger().Info("Connected to database successfully",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name),
	)

	return &Repository{db: db}, nil
}

func (c *Config) GetDatabaseURL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		sslMode,
	)
}
