package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tripdeck/backend/internal/passwordreset/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a password reset repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the reset to the database. The reset must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, reset *domain.Reset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reset.ID, reset.UserID, reset.TokenHash, reset.ExpiresAt,
		timeToNullTime(reset.ConsumedAt), reset.CreatedAt,
	)
	return err
}

// Consume marks the unconsumed reset matching tokenHash as used in a single
// statement and returns it. The row's expiry is not checked here; callers
// decide what an expired but freshly consumed reset means.
func (r *PostgresRepository) Consume(ctx context.Context, tokenHash string, at time.Time) (*domain.Reset, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE password_resets SET consumed_at = $2
		WHERE token_hash = $1 AND consumed_at IS NULL
		RETURNING id, user_id, token_hash, expires_at, consumed_at, created_at`,
		tokenHash, at,
	)
	var reset domain.Reset
	var consumedAt sql.NullTime
	err := row.Scan(&reset.ID, &reset.UserID, &reset.TokenHash, &reset.ExpiresAt, &consumedAt, &reset.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reset.ConsumedAt = nullTimeToPtr(consumedAt)
	return &reset, nil
}

// InvalidateByUser consumes every outstanding reset of the given user, so
// older tokens die when a new one is issued or a password changes.
func (r *PostgresRepository) InvalidateByUser(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE password_resets SET consumed_at = $2
		WHERE user_id = $1 AND consumed_at IS NULL`,
		userID, at,
	)
	return err
}

// DeleteExpired removes resets whose expiry is before the given instant and
// returns the number of rows deleted.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_resets WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
