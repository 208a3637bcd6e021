package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/database"
)

const tokenColumns = `id, user_id, token_hash, fingerprint, user_agent, ip, created_at, expires_at, is_revoked, revoked_at, revoked_reason`

// TokenRepository manages refresh token records. Rotation and containment
// flows span both the refresh_tokens and sessions tables, so those writes
// run in a single transaction here.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// FindByHash returns a refresh token record by its SHA-256 hash.
func (r *TokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`, tokenColumns)
	var token models.RefreshToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

// IssueWithSession persists a new refresh token and upserts the owner's
// session atomically.
func (r *TokenRepository) IssueWithSession(ctx context.Context, token *models.RefreshToken, session *models.Session) error {
	return database.WithinTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := insertToken(ctx, tx, token); err != nil {
			return err
		}
		if err := upsertSession(ctx, tx, session); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// Rotate revokes the used token and persists its replacement together with
// the session refresh, all-or-nothing. A concurrent rotation of the same
// token loses at the revoke update: zero rows means the row was already
// rotated and the whole transaction aborts.
func (r *TokenRepository) Rotate(ctx context.Context, usedTokenID string, next *models.RefreshToken, session *models.Session) error {
	return database.WithinTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const revoke = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, revoked_reason = $3 WHERE id = $1 AND is_revoked = FALSE`
		res, err := tx.ExecContext(ctx, revoke, usedTokenID, time.Now().UTC(), models.RevokeReasonRefreshed)
		if err != nil {
			return fmt.Errorf("revoke used refresh token: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}

		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}
		if err := upsertSession(ctx, tx, session); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// Revoke marks a single token as revoked with the given reason.
func (r *TokenRepository) Revoke(ctx context.Context, id, reason string) error {
	const query = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, revoked_reason = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC(), reason); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllAndTerminate revokes every live refresh token of a user and
// deletes the session in one transaction. Used for theft containment,
// logout-all, forced revocation and account deletion.
func (r *TokenRepository) RevokeAllAndTerminate(ctx context.Context, userID, reason string) error {
	return database.WithinTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const revoke = `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2, revoked_reason = $3 WHERE user_id = $1 AND is_revoked = FALSE`
		if _, err := tx.ExecContext(ctx, revoke, userID, time.Now().UTC(), reason); err != nil {
			return fmt.Errorf("revoke user refresh tokens: %w", err)
		}
		const drop = `DELETE FROM sessions WHERE user_id = $1`
		if _, err := tx.ExecContext(ctx, drop, userID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// DeleteExpired sweeps refresh tokens past expiry.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func insertToken(ctx context.Context, ext sqlx.ExtContext, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, fingerprint, user_agent, ip, created_at, expires_at, is_revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := ext.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.Fingerprint,
		token.UserAgent,
		token.IP,
		token.CreatedAt,
		token.ExpiresAt,
		token.IsRevoked,
	); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
