package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/config"
	appErrors "github.com/campushub/campus-api/pkg/errors"
	"github.com/campushub/campus-api/pkg/fingerprint"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	TouchLastActive(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type authTokenRepository interface {
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	IssueWithSession(ctx context.Context, token *models.RefreshToken, session *models.Session) error
	Rotate(ctx context.Context, usedTokenID string, next *models.RefreshToken, session *models.Session) error
	Revoke(ctx context.Context, id, reason string) error
	RevokeAllAndTerminate(ctx context.Context, userID, reason string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuthService issues, rotates and revokes the credential pairs: a
// short-lived fingerprint-bound access JWT and a long-lived opaque refresh
// token stored only as a SHA-256 hash.
type AuthService struct {
	users     authUserRepository
	tokens    authTokenRepository
	sessions  *SessionService
	security  *SecurityService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       config.TokenConfig
	session   config.SessionConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens authTokenRepository, sessions *SessionService, security *SecurityService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg config.TokenConfig, sessionCfg config.SessionConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		security:  security,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		session:   sessionCfg,
	}
}

// Register creates a password-provider account and logs it in.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(passwordHash),
		Role:         models.RoleUser,
		Provider:     models.ProviderPassword,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, user.ID, models.AuditActionRegister, req.Device, nil)

	return s.completeLogin(ctx, user, req.Device)
}

// Login authenticates credentials and returns an issued token pair. The
// failure message never reveals whether the account exists.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.observeLogin("failure")
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Usable() {
		s.observeLogin("disabled")
		return nil, appErrors.ErrAccountDisabled
	}

	if user.Provider != models.ProviderPassword || user.PasswordHash == "" {
		s.observeLogin("failure")
		return nil, appErrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.observeLogin("failure")
		return nil, appErrors.ErrInvalidCredentials
	}

	s.observeLogin("success")
	s.audit(ctx, user.ID, models.AuditActionLogin, req.Device, nil)

	return s.completeLogin(ctx, user, req.Device)
}

// Refresh exchanges a refresh token for a new pair, rotating the used
// token. A fingerprint differing from the one captured at issuance is
// treated as theft: every credential of the user is revoked, the session
// destroyed, and the caller rejected.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.tokens.FindByHash(ctx, HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.observeRefresh("unknown")
			return nil, appErrors.ErrInvalidRefreshToken
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := time.Now().UTC()
	if !stored.Live(now) {
		s.observeRefresh("expired")
		return nil, appErrors.ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.observeRefresh("orphaned")
			return nil, appErrors.ErrInvalidRefreshToken
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Usable() {
		s.observeRefresh("disabled")
		return nil, appErrors.ErrAccountDisabled
	}

	// The fingerprint is recomputed against the stored token's issue date
	// so that the comparison asks "same device class as at issuance", not
	// "same calendar day as now".
	presented := fingerprint.Compute(req.Device.Signals(), stored.CreatedAt)
	if presented != stored.Fingerprint {
		s.containTheft(ctx, user.ID, req.Device)
		s.observeRefresh("theft")
		return nil, appErrors.ErrSecurityViolation
	}

	pair, record, session, err := s.mint(user, req.Device, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Rotate(ctx, stored.ID, record, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost a race against a concurrent refresh; the token was
			// already rotated. Single use is the invariant, so this caller
			// must re-authenticate.
			s.observeRefresh("replayed")
			return nil, appErrors.ErrInvalidRefreshToken
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}
	s.sessions.Prime(ctx, session)

	s.observeRefresh("success")
	s.audit(ctx, user.ID, models.AuditActionTokenRefresh, req.Device, map[string]interface{}{"rotated": stored.ID})

	return pair, nil
}

// Logout revokes the presented refresh token and terminates the session.
func (s *AuthService) Logout(ctx context.Context, rawToken, userID string, device models.DeviceInfo) error {
	stored, err := s.tokens.FindByHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrInvalidRefreshToken
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	if stored.UserID != userID {
		return appErrors.Clone(appErrors.ErrInsufficientRole, "token does not belong to user")
	}

	if err := s.tokens.Revoke(ctx, stored.ID, models.RevokeReasonLogout); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	if err := s.sessions.Terminate(ctx, userID); err != nil {
		s.logger.Warn("failed to terminate session on logout", zap.String("user_id", userID), zap.Error(err))
	}

	s.audit(ctx, userID, models.AuditActionLogout, device, nil)
	return nil
}

// LogoutAll revokes every refresh token of the user and destroys the
// session.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, device models.DeviceInfo) error {
	if err := s.tokens.RevokeAllAndTerminate(ctx, userID, models.RevokeReasonLogoutAll); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke credentials")
	}
	if err := s.sessions.Terminate(ctx, userID); err != nil {
		s.logger.Warn("failed to clear session cache on logout-all", zap.String("user_id", userID), zap.Error(err))
	}

	s.audit(ctx, userID, models.AuditActionLogoutAll, device, nil)
	return nil
}

// ForceRevoke is the admin-driven containment path: all of the target's
// credentials are revoked and their session destroyed.
func (s *AuthService) ForceRevoke(ctx context.Context, targetID, actorID string, device models.DeviceInfo) error {
	if _, err := s.users.FindByID(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.tokens.RevokeAllAndTerminate(ctx, targetID, models.RevokeReasonAdminRevoked); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke credentials")
	}
	if err := s.sessions.Terminate(ctx, targetID); err != nil {
		s.logger.Warn("failed to clear session cache on forced revocation", zap.String("user_id", targetID), zap.Error(err))
	}

	s.security.Record(ctx, &models.SecurityEvent{
		Severity:  models.SeverityMedium,
		Kind:      models.EventForcedRevocation,
		UserID:    &targetID,
		ActorID:   &actorID,
		IP:        device.IP,
		UserAgent: device.UserAgent,
	})
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidTokenFormat.Code, appErrors.ErrInvalidTokenFormat.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrInvalidTokenFormat, "invalid token claims")
	}

	return claims, nil
}

// SweepExpiredTokens removes refresh tokens past expiry.
func (s *AuthService) SweepExpiredTokens(ctx context.Context) {
	removed, err := s.tokens.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn("refresh token sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("refresh token sweep", zap.Int64("removed", removed))
		if s.metrics != nil {
			s.metrics.ObserveSweep(removed)
		}
	}
}

func (s *AuthService) completeLogin(ctx context.Context, user *models.User, device models.DeviceInfo) (*models.LoginResponse, error) {
	now := time.Now().UTC()
	pair, record, session, err := s.mint(user, device, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.IssueWithSession(ctx, record, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist credentials")
	}
	s.sessions.Prime(ctx, session)

	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last active", zap.Error(err))
	}

	return &models.LoginResponse{
		TokenPair: *pair,
		User: models.UserInfo{
			ID:            user.ID,
			Email:         user.Email,
			Name:          user.Name,
			Role:          user.Role,
			EmailVerified: user.EmailVerified,
		},
	}, nil
}

// mint builds an access/refresh pair and the records to persist. Nothing is
// written here; callers choose the issue or rotate transaction.
func (s *AuthService) mint(user *models.User, device models.DeviceInfo, now time.Time) (*models.TokenPair, *models.RefreshToken, *models.Session, error) {
	fp := fingerprint.Compute(device.Signals(), now)

	accessToken, err := s.signAccessToken(user, fp, now)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	rawRefresh := generateRefreshToken()

	record := &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		TokenHash:   HashToken(rawRefresh),
		Fingerprint: fp,
		UserAgent:   device.UserAgent,
		IP:          device.IP,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RefreshExpiry),
	}

	session := &models.Session{
		UserID:      user.ID,
		Fingerprint: fp,
		UserAgent:   device.UserAgent,
		IP:          device.IP,
		CreatedAt:   now,
		LastActive:  now,
		ExpiresAt:   now.Add(s.session.Lifetime),
	}

	pair := &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		SessionID:    user.ID,
		ExpiresIn:    int64(s.cfg.AccessExpiry.Seconds()),
		IssuedAt:     now,
	}
	return pair, record, session, nil
}

func (s *AuthService) signAccessToken(user *models.User, fp string, now time.Time) (string, error) {
	claims := &models.AccessClaims{
		UserID:        user.ID,
		Role:          user.Role,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Fingerprint:   fp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Secret))
}

func (s *AuthService) containTheft(ctx context.Context, userID string, device models.DeviceInfo) {
	if err := s.tokens.RevokeAllAndTerminate(ctx, userID, models.RevokeReasonSecurityViolation); err != nil {
		s.logger.Error("failed to revoke credentials on theft detection", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.sessions.Terminate(ctx, userID); err != nil {
		s.logger.Warn("failed to clear session cache on theft detection", zap.String("user_id", userID), zap.Error(err))
	}

	s.security.Record(ctx, &models.SecurityEvent{
		Severity:  models.SeverityHigh,
		Kind:      models.EventRefreshTokenTheft,
		UserID:    &userID,
		IP:        device.IP,
		UserAgent: device.UserAgent,
		Detail:    Detail(map[string]interface{}{"stage": "refresh", "action": "mass_revocation"}),
	})
}

func (s *AuthService) audit(ctx context.Context, userID, action string, device models.DeviceInfo, values map[string]interface{}) {
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  device.IP,
		UserAgent:  device.UserAgent,
	}
	if values != nil {
		entry.NewValues = Detail(values)
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) observeLogin(result string) {
	if s.metrics != nil {
		s.metrics.ObserveLogin(result)
	}
}

func (s *AuthService) observeRefresh(result string) {
	if s.metrics != nil {
		s.metrics.ObserveRefresh(result)
	}
}

// HashToken returns the SHA-256 hex digest under which a refresh token is
// stored. The raw token never touches the database.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRefreshToken() string {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable for token issuance
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
