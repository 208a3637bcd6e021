package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/config"
	appErrors "github.com/campushub/campus-api/pkg/errors"
)

type memUserRepo struct {
	byEmail   map[string]*models.User
	byID      map[string]*models.User
	auditLogs []*models.AuditLog
	created   []*models.User
}

func newMemUserRepo(users ...*models.User) *memUserRepo {
	repo := &memUserRepo{byEmail: make(map[string]*models.User), byID: make(map[string]*models.User)}
	for _, user := range users {
		repo.byEmail[user.Email] = user
		repo.byID[user.ID] = user
	}
	return repo
}

func (m *memUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	m.created = append(m.created, user)
	return nil
}

func (m *memUserRepo) TouchLastActive(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (m *memUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

// memTokenRepo mimics the transactional token store, sharing a session repo
// so issue/rotate/containment touch the same session records the
// SessionService sees.
type memTokenRepo struct {
	byID     map[string]*models.RefreshToken
	byHash   map[string]*models.RefreshToken
	sessions *memSessionRepo
}

func newMemTokenRepo(sessions *memSessionRepo) *memTokenRepo {
	return &memTokenRepo{
		byID:     make(map[string]*models.RefreshToken),
		byHash:   make(map[string]*models.RefreshToken),
		sessions: sessions,
	}
}

func (m *memTokenRepo) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	token, ok := m.byHash[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return token, nil
}

func (m *memTokenRepo) IssueWithSession(ctx context.Context, token *models.RefreshToken, session *models.Session) error {
	m.byID[token.ID] = token
	m.byHash[token.TokenHash] = token
	return m.sessions.Upsert(ctx, session)
}

func (m *memTokenRepo) Rotate(ctx context.Context, usedTokenID string, next *models.RefreshToken, session *models.Session) error {
	used, ok := m.byID[usedTokenID]
	if !ok || used.IsRevoked {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	reason := models.RevokeReasonRefreshed
	used.IsRevoked = true
	used.RevokedAt = &now
	used.RevokedReason = &reason

	m.byID[next.ID] = next
	m.byHash[next.TokenHash] = next
	return m.sessions.Upsert(ctx, session)
}

func (m *memTokenRepo) Revoke(ctx context.Context, id, reason string) error {
	if token, ok := m.byID[id]; ok {
		now := time.Now().UTC()
		token.IsRevoked = true
		token.RevokedAt = &now
		token.RevokedReason = &reason
	}
	return nil
}

func (m *memTokenRepo) RevokeAllAndTerminate(ctx context.Context, userID, reason string) error {
	now := time.Now().UTC()
	for _, token := range m.byID {
		if token.UserID == userID && !token.IsRevoked {
			r := reason
			token.IsRevoked = true
			token.RevokedAt = &now
			token.RevokedReason = &r
		}
	}
	return m.sessions.Delete(ctx, userID)
}

func (m *memTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for id, token := range m.byID {
		if now.After(token.ExpiresAt) {
			delete(m.byHash, token.TokenHash)
			delete(m.byID, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memTokenRepo) liveCount(userID string) int {
	count := 0
	for _, token := range m.byID {
		if token.UserID == userID && token.Live(time.Now().UTC()) {
			count++
		}
	}
	return count
}

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		Secret:        "test-secret",
		Issuer:        "campushub",
		Audience:      []string{"campushub-clients"},
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 14 * 24 * time.Hour,
	}
}

type authFixture struct {
	svc        *AuthService
	users      *memUserRepo
	tokens     *memTokenRepo
	sessions   *memSessionRepo
	sessionSvc *SessionService
	cache      *memSessionCache
	security   *memSecurityRepo
}

func newAuthFixture(t *testing.T, users ...*models.User) *authFixture {
	t.Helper()
	sessions := newMemSessionRepo()
	security := &memSecurityRepo{}
	userRepo := newMemUserRepo(users...)
	tokenRepo := newMemTokenRepo(sessions)
	sessionSvc := newTestSessionService(sessions, security)
	securitySvc := NewSecurityService(security, nil, nil)

	svc := NewAuthService(userRepo, tokenRepo, sessionSvc, securitySvc, nil,
		validator.New(), nil, testTokenConfig(), testSessionConfig())
	return &authFixture{svc: svc, users: userRepo, tokens: tokenRepo, sessions: sessions, sessionSvc: sessionSvc, security: security}
}

// newCachedAuthFixture wires the session cache in, the way main does when
// Redis is available.
func newCachedAuthFixture(t *testing.T, users ...*models.User) *authFixture {
	t.Helper()
	sessions := newMemSessionRepo()
	cache := newMemSessionCache()
	security := &memSecurityRepo{}
	userRepo := newMemUserRepo(users...)
	tokenRepo := newMemTokenRepo(sessions)
	sessionSvc := newCachedSessionService(sessions, cache, security)
	securitySvc := NewSecurityService(security, nil, nil)

	svc := NewAuthService(userRepo, tokenRepo, sessionSvc, securitySvc, nil,
		validator.New(), nil, testTokenConfig(), testSessionConfig())
	return &authFixture{svc: svc, users: userRepo, tokens: tokenRepo, sessions: sessions, sessionSvc: sessionSvc, cache: cache, security: security}
}

func testUser(t *testing.T, id, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		Provider:     models.ProviderPassword,
	}
}

func deviceA() models.DeviceInfo {
	return models.DeviceInfo{
		UserAgent:        "Mozilla/5.0 (Macintosh) Chrome/126.0.0.0 Safari/537.36",
		IP:               "10.0.0.1",
		ScreenResolution: "2560x1440",
		Timezone:         "Asia/Jakarta",
		Language:         "id-ID",
		Platform:         "MacIntel",
	}
}

func deviceB() models.DeviceInfo {
	return models.DeviceInfo{
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		IP:               "203.0.113.50",
		ScreenResolution: "1920x1080",
		Timezone:         "Europe/Berlin",
		Language:         "de-DE",
		Platform:         "Linux x86_64",
	}
}

func TestLoginIssuesBoundTokenPair(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))

	res, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "a@example.com",
		Password: "password123",
		Device:   deviceA(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "user-1", res.SessionID)

	// Only the hash of the refresh token is stored.
	assert.Contains(t, fx.tokens.byHash, HashToken(res.RefreshToken))
	assert.NotContains(t, fx.tokens.byHash, res.RefreshToken)

	claims, err := fx.svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.NotEmpty(t, claims.Fingerprint)

	// A session exists and carries the same fingerprint as the claims.
	session, ok := fx.sessions.sessions["user-1"]
	require.True(t, ok)
	assert.Equal(t, claims.Fingerprint, session.Fingerprint)
}

func TestLoginWrongPassword(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "a@example.com",
		Password: "wrong-password",
		Device:   deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "ghost@example.com",
		Password: "password123",
		Device:   deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))
}

func TestLoginDisabledAccount(t *testing.T) {
	user := testUser(t, "user-1", "a@example.com", "password123")
	user.Disabled = true
	fx := newAuthFixture(t, user)

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email:    "a@example.com",
		Password: "password123",
		Device:   deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrAccountDisabled.Code))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))

	_, err := fx.svc.Register(context.Background(), models.RegisterRequest{
		Email:    "a@example.com",
		Password: "password123",
		Name:     "Dup",
		Device:   deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestRefreshRotatesToken(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))

	res, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email: "a@example.com", Password: "password123", Device: deviceA(),
	})
	require.NoError(t, err)

	pair, err := fx.svc.Refresh(context.Background(), models.RefreshRequest{
		RefreshToken: res.RefreshToken,
		Device:       deviceA(),
	})
	require.NoError(t, err)
	require.NotEqual(t, res.RefreshToken, pair.RefreshToken)

	// Single use: replaying the rotated token fails without containment.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{
		RefreshToken: res.RefreshToken,
		Device:       deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidRefreshToken.Code))
	assert.False(t, fx.security.hasKind(models.EventRefreshTokenTheft))

	// The replacement still works.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{
		RefreshToken: pair.RefreshToken,
		Device:       deviceA(),
	})
	require.NoError(t, err)
}

func TestRefreshTheftContainment(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))

	res, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email: "a@example.com", Password: "password123", Device: deviceA(),
	})
	require.NoError(t, err)

	// A stolen refresh token presented from a different device trips the
	// fingerprint check and burns every credential of the user.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{
		RefreshToken: res.RefreshToken,
		Device:       deviceB(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSecurityViolation.Code))

	assert.Equal(t, 0, fx.tokens.liveCount("user-1"))
	assert.NotContains(t, fx.sessions.sessions, "user-1")
	require.True(t, fx.security.hasKind(models.EventRefreshTokenTheft))

	// The legitimate token is dead too; the real user must log in again.
	_, err = fx.svc.Refresh(context.Background(), models.RefreshRequest{
		RefreshToken: res.RefreshToken,
		Device:       deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidRefreshToken.Code))
}

func TestRefreshUnknownToken(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Refresh(context.Background(), models.RefreshRequest{
		RefreshToken: "never-issued",
		Device:       deviceA(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidRefreshToken.Code))
}

func TestLogoutRejectsForeignToken(t *testing.T) {
	fx := newAuthFixture(t,
		testUser(t, "user-1", "a@example.com", "password123"),
		testUser(t, "user-2", "b@example.com", "password123"),
	)

	res, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email: "a@example.com", Password: "password123", Device: deviceA(),
	})
	require.NoError(t, err)

	err = fx.svc.Logout(context.Background(), res.RefreshToken, "user-2", deviceA())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInsufficientRole.Code))

	// The token survives the failed foreign logout.
	assert.Equal(t, 1, fx.tokens.liveCount("user-1"))
}

func TestLogoutAllRevokesEverything(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))

	_, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email: "a@example.com", Password: "password123", Device: deviceA(),
	})
	require.NoError(t, err)

	require.NoError(t, fx.svc.LogoutAll(context.Background(), "user-1", deviceA()))
	assert.Equal(t, 0, fx.tokens.liveCount("user-1"))
	assert.NotContains(t, fx.sessions.sessions, "user-1")
}

func TestValidateTokenExpired(t *testing.T) {
	fx := newAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))
	fx.svc.cfg.AccessExpiry = -time.Minute

	res, err := fx.svc.Login(context.Background(), models.LoginRequest{
		Email: "a@example.com", Password: "password123", Device: deviceA(),
	})
	require.NoError(t, err)

	_, err = fx.svc.ValidateToken(res.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrTokenExpired.Code))
}

func TestValidateTokenGarbage(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.ValidateToken("not.a.jwt")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTokenFormat.Code))
}

func TestReloginUpdatesCachedSession(t *testing.T) {
	fx := newCachedAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))
	ctx := context.Background()

	first, err := fx.svc.Login(ctx, models.LoginRequest{
		Email:    "a@example.com",
		Password: "password123",
		Device:   deviceA(),
	})
	require.NoError(t, err)
	firstClaims, err := fx.svc.ValidateToken(first.AccessToken)
	require.NoError(t, err)

	// Warm the cache the way the middleware does on a verified request.
	status, err := fx.sessionSvc.Validate(ctx, "user-1", firstClaims.Fingerprint, deviceA())
	require.NoError(t, err)
	require.Equal(t, models.SessionValid, status)

	second, err := fx.svc.Login(ctx, models.LoginRequest{
		Email:    "a@example.com",
		Password: "password123",
		Device:   deviceB(),
	})
	require.NoError(t, err)
	secondClaims, err := fx.svc.ValidateToken(second.AccessToken)
	require.NoError(t, err)
	require.NotEqual(t, firstClaims.Fingerprint, secondClaims.Fingerprint)

	// The new device's first request must validate immediately; a stale
	// cache entry here would reject the legitimate login and raise a
	// hijack alarm.
	status, err = fx.sessionSvc.Validate(ctx, "user-1", secondClaims.Fingerprint, deviceB())
	require.NoError(t, err)
	assert.Equal(t, models.SessionValid, status)
	assert.False(t, fx.security.hasKind(models.EventFingerprintMismatch))

	cached, ok := fx.cache.entries["user-1"]
	require.True(t, ok)
	assert.Equal(t, secondClaims.Fingerprint, cached.Fingerprint)
}

func TestRefreshUpdatesCachedSession(t *testing.T) {
	fx := newCachedAuthFixture(t, testUser(t, "user-1", "a@example.com", "password123"))
	ctx := context.Background()

	res, err := fx.svc.Login(ctx, models.LoginRequest{
		Email:    "a@example.com",
		Password: "password123",
		Device:   deviceA(),
	})
	require.NoError(t, err)
	setsAfterLogin := fx.cache.sets
	require.Positive(t, setsAfterLogin)

	_, err = fx.svc.Refresh(ctx, models.RefreshRequest{
		RefreshToken: res.RefreshToken,
		Device:       deviceA(),
	})
	require.NoError(t, err)

	// Rotation rewrote the session row; the cache entry must follow it.
	assert.Greater(t, fx.cache.sets, setsAfterLogin)
	cached, ok := fx.cache.entries["user-1"]
	require.True(t, ok)
	assert.Equal(t, fx.sessions.sessions["user-1"].Fingerprint, cached.Fingerprint)
}
