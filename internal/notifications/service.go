package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/pagination"
)

const (
	maxTitleRunes   = 120
	maxMessageRunes = 1000
)

// Notifier writes a notification as part of the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, msg Message) error
}

// Service is the notification inbox: delivery plus list and read operations.
type Service interface {
	Notifier
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type store interface {
	Insert(ctx context.Context, tx *gorm.DB, n *models.Notification) error
	Page(ctx context.Context, f Filter, cursor *pagination.Cursor, limit int) ([]models.Notification, *pagination.Cursor, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
}

// Message is one user-facing notification.
type Message struct {
	UserID  uuid.UUID
	Kind    enums.NotificationKind
	Title   string
	Message string
	Link    string
}

type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
	Kinds      []enums.NotificationKind
}

// ListResult is one page plus the caller's total unread count.
type ListResult struct {
	Items       []models.Notification
	Cursor      string
	UnreadCount int64
}

type service struct {
	store store
	now   func() time.Time
}

func NewService(repo store) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{store: repo, now: time.Now}, nil
}

func (s *service) Notify(ctx context.Context, tx *gorm.DB, msg Message) error {
	if msg.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification recipient required")
	}
	if !msg.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification kind")
	}
	title := truncate(strings.TrimSpace(msg.Title), maxTitleRunes)
	if title == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification title required")
	}
	row := &models.Notification{
		UserID:  msg.UserID,
		Kind:    msg.Kind,
		Title:   title,
		Message: truncate(strings.TrimSpace(msg.Message), maxMessageRunes),
	}
	if link := strings.TrimSpace(msg.Link); link != "" {
		row.Link = &link
	}
	if err := s.store.Insert(ctx, tx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	var cursor *pagination.Cursor
	if params.Cursor != "" {
		c, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		cursor = c
	}
	for _, kind := range params.Kinds {
		if !kind.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification kind").
				WithDetails(map[string]any{"kind": kind})
		}
	}

	filter := Filter{UserID: params.UserID, UnreadOnly: params.UnreadOnly, Kinds: params.Kinds}
	rows, next, err := s.store.Page(ctx, filter, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	unread, err := s.store.CountUnread(ctx, params.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}

	out := &ListResult{Items: rows, UnreadCount: unread}
	if next != nil {
		out.Cursor = next.Encode()
	}
	return out, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if userID == uuid.Nil || notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and notification id required")
	}
	found, err := s.store.MarkRead(ctx, userID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	n, err := s.store.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return n, nil
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
