package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushub/campus-api/internal/models"
)

// SecurityEventRepository persists and queries security events.
type SecurityEventRepository struct {
	db *sqlx.DB
}

// NewSecurityEventRepository creates a new instance.
func NewSecurityEventRepository(db *sqlx.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Create stores a security event.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO security_events (id, severity, kind, user_id, actor_id, detail, ip, user_agent, created_at)
		VALUES (:id, :severity, :kind, :user_id, :actor_id, :detail, :ip, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	return nil
}

// List returns events matching the filter, newest first.
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]models.SecurityEvent, error) {
	query := `SELECT id, severity, kind, user_id, actor_id, detail, ip, user_agent, created_at FROM security_events WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, *filter.Severity)
	}
	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, filter.Kind)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.Since)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	var events []models.SecurityEvent
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}
