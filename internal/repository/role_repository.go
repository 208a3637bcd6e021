package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/database"
)

// RoleRepository manages the role membership collections. Membership tables
// are keyed by user id (the id column IS the user id when the data is
// healthy); the user_id column exists so the key invariant can be verified
// instead of assumed.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// GetMembership fetches the membership record stored at key userID in the
// given role's collection. Key/user_id consistency is the caller's check.
func (r *RoleRepository) GetMembership(ctx context.Context, role models.UserRole, userID string) (*models.RoleMembership, error) {
	table := models.MembershipCollection(role)
	if table == "" {
		return nil, fmt.Errorf("role %q has no membership collection", role)
	}

	query := fmt.Sprintf(`SELECT id, user_id, granted_by, created_at FROM %s WHERE id = $1 LIMIT 1`, table)
	var membership models.RoleMembership
	if err := r.db.GetContext(ctx, &membership, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get %s membership: %w", role, err)
	}
	return &membership, nil
}

// ChangeRole flips the user's role field, removes the old membership record
// and inserts the new one as a single all-or-nothing transaction. A partial
// write here (role flipped, membership orphaned) would poison every
// authorization check downstream, which is why this is the one mutation
// path for roles.
func (r *RoleRepository) ChangeRole(ctx context.Context, userID string, oldRole, newRole models.UserRole, grantedBy string) error {
	return database.WithinTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()

		const update = `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
		res, err := tx.ExecContext(ctx, update, userID, newRole, now)
		if err != nil {
			return fmt.Errorf("update user role: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}

		if table := models.MembershipCollection(oldRole); table != "" {
			drop := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
			if _, err := tx.ExecContext(ctx, drop, userID); err != nil {
				return fmt.Errorf("remove %s membership: %w", oldRole, err)
			}
		}

		if table := models.MembershipCollection(newRole); table != "" {
			insert := fmt.Sprintf(`INSERT INTO %s (id, user_id, granted_by, created_at) VALUES ($1, $1, $2, $3)`, table)
			if _, err := tx.ExecContext(ctx, insert, userID, grantedBy, now); err != nil {
				return fmt.Errorf("insert %s membership: %w", newRole, err)
			}
		}

		return nil
	})
}
