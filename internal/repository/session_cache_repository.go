package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campushub/campus-api/internal/models"
	appErrors "github.com/campushub/campus-api/pkg/errors"
)

// SessionCacheRepository is a Redis read-through cache for session records.
// Postgres stays the source of truth; a cold or unavailable cache degrades
// to direct reads.
type SessionCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSessionCacheRepository constructs the cache repository. A nil client
// disables caching entirely.
func NewSessionCacheRepository(client *redis.Client, logger *zap.Logger) *SessionCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCacheRepository{client: client, logger: logger}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("session:%s", userID)
}

// Get retrieves a cached session.
func (r *SessionCacheRepository) Get(ctx context.Context, userID string) (*models.Session, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get session %s: %w", userID, err)
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal cached session %s: %w", userID, err)
	}
	return &session, nil
}

// Set stores a session with the given TTL.
func (r *SessionCacheRepository) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.UserID, err)
	}

	if err := r.client.Set(ctx, sessionKey(session.UserID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", session.UserID, err)
	}
	return nil
}

// Delete invalidates the cached session. Must be called on every session
// mutation or termination so stale fingerprints cannot validate.
func (r *SessionCacheRepository) Delete(ctx context.Context, userID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", userID, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *SessionCacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
