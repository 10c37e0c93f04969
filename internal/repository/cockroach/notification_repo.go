package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luli-tech/taskPadi-be/internal/domain"
)

// NotificationRepository handles notification data operations
type NotificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification record. Delivery to devices happens elsewhere.
func (r *NotificationRepository) Create(ctx context.Context, notification *domain.NotificationCreate) error {
	query := `
		INSERT INTO notifications (user_id, type, title, body, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
	`

	_, err := r.db.Exec(ctx, query,
		notification.UserID,
		notification.Type,
		notification.Title,
		notification.Body,
		notification.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}
