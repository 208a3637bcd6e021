package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/config"
	"github.com/campushub/campus-api/pkg/database"
	appErrors "github.com/campushub/campus-api/pkg/errors"
)

type sessionRepository interface {
	Get(ctx context.Context, userID string) (*models.Session, error)
	Upsert(ctx context.Context, session *models.Session) error
	Touch(ctx context.Context, userID string, ts time.Time) error
	Delete(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionCache interface {
	Get(ctx context.Context, userID string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

// SessionService enforces the single-active-session-per-user model and the
// inactivity expiry policy. The user id itself keys the session; there is
// no separate session-id namespace.
type SessionService struct {
	repo     sessionRepository
	cache    sessionCache
	security *SecurityService
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      config.SessionConfig
	retry    config.SecurityConfig
}

// NewSessionService constructs a SessionService.
func NewSessionService(repo sessionRepository, cache sessionCache, security *SecurityService, metrics *MetricsService, logger *zap.Logger, cfg config.SessionConfig, retry config.SecurityConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{repo: repo, cache: cache, security: security, metrics: metrics, logger: logger, cfg: cfg, retry: retry}
}

// Ensure creates or refreshes the session for a user. Existing records are
// merged: device fields the client did not supply keep their prior values.
func (s *SessionService) Ensure(ctx context.Context, userID string, device models.DeviceInfo, fp string) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		UserID:      userID,
		Fingerprint: fp,
		UserAgent:   device.UserAgent,
		IP:          device.IP,
		CreatedAt:   now,
		LastActive:  now,
		ExpiresAt:   now.Add(s.cfg.Lifetime),
	}

	if err := s.repo.Upsert(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, session, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache session", zap.Error(err))
		}
	}
	return session, nil
}

// Validate checks the presented fingerprint against the stored session and
// applies the expiry policy. Expiry deletes the record; a fingerprint
// mismatch rejects WITHOUT deleting, so a replayed mismatched request can
// never evict the legitimate session.
func (s *SessionService) Validate(ctx context.Context, userID, presented string, device models.DeviceInfo) (models.SessionStatus, error) {
	session, err := s.load(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SessionNotFound, nil
		}
		return models.SessionNotFound, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	now := time.Now().UTC()
	if now.After(session.ExpiresAt) || now.Sub(session.LastActive) > s.cfg.InactivityTimeout {
		if err := s.Terminate(ctx, userID); err != nil {
			s.logger.Warn("failed to delete expired session", zap.String("user_id", userID), zap.Error(err))
		}
		return models.SessionExpired, nil
	}

	if presented != session.Fingerprint {
		s.security.Record(ctx, &models.SecurityEvent{
			Severity:  models.SeverityHigh,
			Kind:      models.EventFingerprintMismatch,
			UserID:    &userID,
			IP:        device.IP,
			UserAgent: device.UserAgent,
			Detail:    Detail(map[string]interface{}{"stage": "session_validation"}),
		})
		return models.SessionFingerprintMismatch, nil
	}

	if err := s.repo.Touch(ctx, userID, now); err != nil {
		s.logger.Warn("failed to touch session", zap.String("user_id", userID), zap.Error(err))
	}
	if s.cache != nil {
		session.LastActive = now
		if err := s.cache.Set(ctx, session, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to refresh cached session", zap.Error(err))
		}
	}
	return models.SessionValid, nil
}

// Prime replaces the cached copy of a session whose row was written by
// another component's transaction. Token issuance and rotation upsert the
// session row in the same transaction as the token write; the cache entry
// must follow or validation keeps seeing the pre-issuance fingerprint
// until the TTL lapses.
func (s *SessionService) Prime(ctx context.Context, session *models.Session) {
	if s.cache == nil || session == nil {
		return
	}
	if err := s.cache.Set(ctx, session, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache issued session", zap.String("user_id", session.UserID), zap.Error(err))
	}
}

// Terminate removes the session. Idempotent; used by logout, expiry and
// role-revocation flows.
func (s *SessionService) Terminate(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, userID); err != nil {
			s.logger.Warn("failed to invalidate cached session", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// Get returns the current session for a user.
func (s *SessionService) Get(ctx context.Context, userID string) (*models.Session, error) {
	session, err := s.load(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Sweep removes sessions past their hard expiry.
func (s *SessionService) Sweep(ctx context.Context) {
	removed, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn("session sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("session sweep", zap.Int64("removed", removed))
		if s.metrics != nil {
			s.metrics.ObserveSweep(removed)
		}
	}
}

// load reads through the cache, retrying transient store failures. The
// cache is best-effort; Postgres is authoritative.
func (s *SessionService) load(ctx context.Context, userID string) (*models.Session, error) {
	if s.cache != nil {
		if session, err := s.cache.Get(ctx, userID); err == nil {
			return session, nil
		}
	}

	var session *models.Session
	err := database.Retry(ctx, s.retry.StoreRetryMax, s.retry.StoreRetryBackoff, func() error {
		var err error
		session, err = s.repo.Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, session, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache session", zap.Error(err))
		}
	}
	return session, nil
}
