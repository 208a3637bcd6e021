package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campushub/campus-api/internal/models"
)

// SessionRepository manages the single-session-per-user records. Sessions
// are keyed by user id; the primary key constraint is what enforces the
// at-most-one-live-session invariant.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get returns the session for a user.
func (r *SessionRepository) Get(ctx context.Context, userID string) (*models.Session, error) {
	const query = `SELECT user_id, fingerprint, user_agent, ip, created_at, last_active, expires_at FROM sessions WHERE user_id = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// Upsert creates or refreshes the session record for a user. On update,
// empty incoming fields preserve the prior value (merge, not replace).
func (r *SessionRepository) Upsert(ctx context.Context, session *models.Session) error {
	if err := upsertSession(ctx, r.db, session); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Touch refreshes last_active on each verified request.
func (r *SessionRepository) Touch(ctx context.Context, userID string, ts time.Time) error {
	const query = `UPDATE sessions SET last_active = $2 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, ts); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Delete removes the session for a user. Deleting an absent session is not
// an error; termination is idempotent.
func (r *SessionRepository) Delete(ctx context.Context, userID string) error {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired sweeps sessions past their hard expiry.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// upsertSession is shared with the token repository so that token issuance
// can refresh the session inside the same transaction.
func upsertSession(ctx context.Context, ext sqlx.ExtContext, session *models.Session) error {
	const query = `INSERT INTO sessions (user_id, fingerprint, user_agent, ip, created_at, last_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			fingerprint = COALESCE(NULLIF(EXCLUDED.fingerprint, ''), sessions.fingerprint),
			user_agent  = COALESCE(NULLIF(EXCLUDED.user_agent, ''), sessions.user_agent),
			ip          = COALESCE(NULLIF(EXCLUDED.ip, ''), sessions.ip),
			last_active = EXCLUDED.last_active,
			expires_at  = EXCLUDED.expires_at`
	_, err := ext.ExecContext(ctx, query,
		session.UserID,
		session.Fingerprint,
		session.UserAgent,
		session.IP,
		session.CreatedAt,
		session.LastActive,
		session.ExpiresAt,
	)
	return err
}
