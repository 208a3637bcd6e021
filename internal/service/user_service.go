package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushub/campus-api/internal/models"
	appErrors "github.com/campushub/campus-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id, name, avatarID string) error
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService covers account profile reads and writes plus account
// deletion.
type UserService struct {
	users     userRepository
	tokens    credentialRevoker
	sessions  *SessionService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(users userRepository, tokens credentialRevoker, sessions *SessionService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		validator: validate,
		logger:    logger,
	}
}

// Get returns the user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	return user, nil
}

// UpdateProfile mutates the user's own profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest, device models.DeviceInfo) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	if err := s.users.UpdateProfile(ctx, id, req.Name, req.AvatarID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	s.auditProfile(ctx, id, models.AuditActionProfileUpdate, device, map[string]interface{}{
		"name":      req.Name,
		"avatar_id": req.AvatarID,
	})

	return s.Get(ctx, id)
}

// Delete soft-deletes the account and kills every live credential tied to
// it. A deleted account must not keep a working session.
func (s *UserService) Delete(ctx context.Context, id string, device models.DeviceInfo) error {
	if err := s.users.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete account")
	}

	if err := s.tokens.RevokeAllAndTerminate(ctx, id, models.RevokeReasonAccountDeleted); err != nil {
		s.logger.Warn("failed to revoke credentials on account deletion",
			zap.String("user_id", id), zap.Error(err))
	}
	if err := s.sessions.Terminate(ctx, id); err != nil {
		s.logger.Warn("failed to terminate session on account deletion",
			zap.String("user_id", id), zap.Error(err))
	}

	s.auditProfile(ctx, id, models.AuditActionAccountDelete, device, nil)
	return nil
}

// List returns users matching the filter with pagination, for admin views.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	pagination := &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	}
	return users, pagination, nil
}

func (s *UserService) auditProfile(ctx context.Context, userID, action string, device models.DeviceInfo, values map[string]interface{}) {
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "users",
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
