package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-api/internal/models"
	appErrors "github.com/campushub/campus-api/pkg/errors"
)

type memProfileRepo struct {
	*memUserRepo
	deleted []string
}

func (m *memProfileRepo) UpdateProfile(ctx context.Context, id, name, avatarID string) error {
	user, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Name = name
	if avatarID != "" {
		user.AvatarID = avatarID
	}
	return nil
}

func (m *memProfileRepo) SoftDelete(ctx context.Context, id string) error {
	user, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	user.DeletedAt = &now
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memProfileRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var users []models.User
	for _, user := range m.byID {
		if filter.Role != nil && user.Role != *filter.Role {
			continue
		}
		users = append(users, *user)
	}
	return users, len(users), nil
}

func newUserFixture(t *testing.T, users ...*models.User) (*UserService, *memProfileRepo, *memRevoker, *memSessionRepo) {
	t.Helper()
	repo := &memProfileRepo{memUserRepo: newMemUserRepo(users...)}
	revoker := &memRevoker{}
	sessions := newMemSessionRepo()
	sessionSvc := newTestSessionService(sessions, &memSecurityRepo{})
	svc := NewUserService(repo, revoker, sessionSvc, validator.New(), nil)
	return svc, repo, revoker, sessions
}

func TestUpdateProfileValidation(t *testing.T) {
	svc, _, _, _ := newUserFixture(t, plainUser("user-1"))

	_, err := svc.UpdateProfile(context.Background(), "user-1",
		models.UpdateProfileRequest{Name: ""}, models.DeviceInfo{})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestUpdateProfileChangesName(t *testing.T) {
	svc, repo, _, _ := newUserFixture(t, plainUser("user-1"))

	user, err := svc.UpdateProfile(context.Background(), "user-1",
		models.UpdateProfileRequest{Name: "New Name"}, models.DeviceInfo{})
	require.NoError(t, err)
	assert.Equal(t, "New Name", user.Name)
	assert.NotEmpty(t, repo.auditLogs)
}

func TestDeleteRevokesCredentials(t *testing.T) {
	svc, repo, revoker, sessions := newUserFixture(t, plainUser("user-1"))
	seedSession(sessions, "user-1", "fp-1", time.Now().UTC())

	require.NoError(t, svc.Delete(context.Background(), "user-1", models.DeviceInfo{}))
	assert.Contains(t, repo.deleted, "user-1")
	assert.Equal(t, models.RevokeReasonAccountDeleted, revoker.revoked["user-1"])
	assert.NotContains(t, sessions.sessions, "user-1")
}

func TestDeleteUnknownUser(t *testing.T) {
	svc, _, _, _ := newUserFixture(t)

	err := svc.Delete(context.Background(), "ghost", models.DeviceInfo{})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestListFiltersByRole(t *testing.T) {
	admin := plainUser("admin-1")
	admin.Role = models.RoleAdmin
	svc, _, _, _ := newUserFixture(t, plainUser("user-1"), admin)

	role := models.RoleAdmin
	users, pagination, err := svc.List(context.Background(), models.UserFilter{Role: &role, Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin-1", users[0].ID)
	assert.Equal(t, 1, pagination.TotalCount)
}
