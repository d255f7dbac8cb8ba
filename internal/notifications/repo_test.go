package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

func seed(t *testing.T, repo *Repository, rows ...*models.Notification) {
	t.Helper()
	for _, row := range rows {
		if row.Title == "" {
			row.Title, row.Message = "t", "m"
		}
		require.NoError(t, repo.Insert(context.Background(), nil, row))
	}
}

func TestRepositoryPagesNewestFirst(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		seed(t, repo, &models.Notification{UserID: userID, Kind: enums.NotificationKindOrderStatus, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	seed(t, repo, &models.Notification{UserID: uuid.New(), Kind: enums.NotificationKindPayment})

	first, cursor, err := repo.Page(ctx, Filter{UserID: userID}, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, cursor)
	assert.True(t, first[0].CreatedAt.After(first[1].CreatedAt))

	second, next, err := repo.Page(ctx, Filter{UserID: userID}, cursor, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Nil(t, next)
	assert.NotEqual(t, first[1].ID, second[0].ID)
}

func TestRepositoryFiltersByKindAndReadState(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()
	readAt := time.Now().UTC()
	seed(t, repo,
		&models.Notification{UserID: userID, Kind: enums.NotificationKindPayment},
		&models.Notification{UserID: userID, Kind: enums.NotificationKindRefund, ReadAt: &readAt},
		&models.Notification{UserID: userID, Kind: enums.NotificationKindOrderPlaced},
	)

	rows, _, err := repo.Page(ctx, Filter{UserID: userID, Kinds: []enums.NotificationKind{enums.NotificationKindPayment, enums.NotificationKindRefund}}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, _, err = repo.Page(ctx, Filter{UserID: userID, UnreadOnly: true, Kinds: []enums.NotificationKind{enums.NotificationKindRefund}}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	unread, err := repo.CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)
}

func TestRepositoryMarkReadKeepsFirstTimestamp(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()
	row := &models.Notification{UserID: userID, Kind: enums.NotificationKindPayment}
	seed(t, repo, row)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	found, err := repo.MarkRead(ctx, userID, row.ID, first)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.MarkRead(ctx, userID, row.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, found, "re-reading is not an error")

	found, err = repo.MarkRead(ctx, uuid.New(), row.ID, first)
	require.NoError(t, err)
	assert.False(t, found, "other users cannot see the row")

	rows, _, err := repo.Page(ctx, Filter{UserID: userID}, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ReadAt)
	assert.WithinDuration(t, first, *rows[0].ReadAt, time.Second)
	assert.False(t, rows[0].Unread())
}

func TestRepositoryMarkAllReadScopesToUser(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID, other := uuid.New(), uuid.New()
	seed(t, repo,
		&models.Notification{UserID: userID, Kind: enums.NotificationKindPayment},
		&models.Notification{UserID: userID, Kind: enums.NotificationKindRefund},
		&models.Notification{UserID: other, Kind: enums.NotificationKindRefund},
	)

	n, err := repo.MarkAllRead(ctx, userID, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	unread, err := repo.CountUnread(ctx, other)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)
}

func TestRepositoryPurgeReadBeforeKeepsUnread(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	readAt := old.Add(time.Hour)

	seed(t, repo,
		&models.Notification{UserID: userID, Kind: enums.NotificationKindPayment, CreatedAt: old, ReadAt: &readAt},
		&models.Notification{UserID: userID, Kind: enums.NotificationKindPayment, CreatedAt: old},
		&models.Notification{UserID: userID, Kind: enums.NotificationKindPayment},
	)

	deleted, err := repo.PurgeReadBefore(ctx, time.Now().UTC().Add(-30*24*time.Hour), 500)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	rows, _, err := repo.Page(ctx, Filter{UserID: userID}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
