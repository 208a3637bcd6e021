package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sampleToken(id, userID string) *models.RefreshToken {
	now := time.Now().UTC()
	return &models.RefreshToken{
		ID:          id,
		UserID:      userID,
		TokenHash:   "hash-" + id,
		Fingerprint: "fp-1",
		UserAgent:   "Mozilla/5.0",
		IP:          "10.0.0.1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(14 * 24 * time.Hour),
	}
}

func sampleSession(userID string) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		UserID:      userID,
		Fingerprint: "fp-1",
		UserAgent:   "Mozilla/5.0",
		IP:          "10.0.0.1",
		CreatedAt:   now,
		LastActive:  now,
		ExpiresAt:   now.Add(14 * 24 * time.Hour),
	}
}

func TestTokenRepositoryIssueWithSession(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	token := sampleToken("tok-1", "user-1")
	session := sampleSession("user-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.IssueWithSession(context.Background(), token, session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRotate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	next := sampleToken("tok-2", "user-1")
	session := sampleSession("user-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_revoked = TRUE")).
		WithArgs("tok-1", sqlmock.AnyArg(), models.RevokeReasonRefreshed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Rotate(context.Background(), "tok-1", next, session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRotateAlreadyUsed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)

	// The conditional revoke touches zero rows when the token was already
	// rotated; the transaction must abort without inserting anything.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_revoked = TRUE")).
		WithArgs("tok-1", sqlmock.AnyArg(), models.RevokeReasonRefreshed).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "tok-1", sampleToken("tok-2", "user-1"), sampleSession("user-1"))
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeAllAndTerminate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET is_revoked = TRUE")).
		WithArgs("user-1", sqlmock.AnyArg(), models.RevokeReasonSecurityViolation).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id = $1")).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RevokeAllAndTerminate(context.Background(), "user-1", models.RevokeReasonSecurityViolation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryFindByHashNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token_hash")).
		WithArgs("missing-hash").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByHash(context.Background(), "missing-hash")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
