package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

type NotificationDTO struct {
	ID        uuid.UUID              `json:"id"`
	Kind      enums.NotificationKind `json:"kind"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Link      *string                `json:"link,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ListDTO is one page of notifications.
type ListDTO struct {
	Items       []NotificationDTO `json:"items"`
	Cursor      string            `json:"cursor"`
	UnreadCount int64             `json:"unread_count"`
}

func ToListDTO(result *ListResult) ListDTO {
	out := ListDTO{Items: []NotificationDTO{}}
	if result == nil {
		return out
	}
	out.Cursor = result.Cursor
	out.UnreadCount = result.UnreadCount
	for _, n := range result.Items {
		out.Items = append(out.Items, toDTO(n))
	}
	return out
}

func toDTO(n models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}
