package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"course-credentials/internal/models"
)

const pgUniqueViolation = "23505"

// PostgresStore wraps pgxpool for deployments that keep the history in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a single-connection pool to Postgres and verifies it.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, unavailable(err)
	}
	cfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err)
	}
	return &PostgresStore{pool: pool}, nil
}

// RunMigrations executes the embedded postgres migrations in order.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	stmts, err := migrationStatements("postgres")
	if err != nil {
		return err
	}
	for _, sql := range stmts {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return err
		}
	}
	return nil
}

// Allocate inserts a row for reference and returns its formatted identifier.
// BIGSERIAL advances even on a rejected insert, so duplicates are detected
// before the INSERT is attempted.
func (s *PostgresStore) Allocate(ctx context.Context, reference string) (models.CertificateIdentifier, error) {
	if strings.TrimSpace(reference) == "" {
		return models.CertificateIdentifier{}, ErrEmptyReference
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CertificateIdentifier{}, unavailable(err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM cert_id_history WHERE hs_instance_id = $1)
	`, reference).Scan(&exists); err != nil {
		return models.CertificateIdentifier{}, unavailable(err)
	}
	if exists {
		return models.CertificateIdentifier{}, ErrDuplicateReference
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO cert_id_history (hs_instance_id) VALUES ($1)
	`, reference); err != nil {
		return models.CertificateIdentifier{}, insertError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CertificateIdentifier{}, unavailable(err)
	}
	return s.Lookup(ctx, reference)
}

// Lookup reads back the identifier allocated for reference.
func (s *PostgresStore) Lookup(ctx context.Context, reference string) (models.CertificateIdentifier, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT cert_id FROM cert_id_history WHERE hs_instance_id = $1
	`, reference).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CertificateIdentifier{}, ErrNotFound
	}
	if err != nil {
		return models.CertificateIdentifier{}, unavailable(err)
	}
	return identifier(seq, reference)
}

// insertError maps a unique violation raced past the existence check to
// ErrDuplicateReference. Anything else is an outage.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateReference
	}
	return unavailable(err)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
