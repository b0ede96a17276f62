package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21tmccauley/stat-tracker/models"
)

// These tests run against a live MongoDB instance and are skipped when
// MONGODB_URI is not set.

var testTables = Tables{
	Habits:        "test_habits",
	Completions:   "test_completions",
	Users:         "test_users",
	Notifications: "test_notifications",
}

func newTestStore(t *testing.T) StorageInterface {
	t.Helper()

	godotenv.Load("../.env")

	mongodbURI := os.Getenv("MONGODB_URI")
	if mongodbURI == "" {
		t.Skip("MONGODB_URI not set; skipping MongoDB integration tests")
	}

	dbName := os.Getenv("TEST_DB_NAME")
	if dbName == "" {
		dbName = "stat_tracker_test"
	}

	store, err := NewStorage(dbName, mongodbURI, testTables)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := store.Disconnect(); err != nil {
			t.Logf("failed to disconnect test store: %v", err)
		}
	})

	return store
}

func testUserID() string {
	return "test-user-" + uuid.NewString()
}

func TestHabitRoundTrip(t *testing.T) {
	store := newTestStore(t)
	userID := testUserID()

	habit := &models.Habit{
		UserID:      userID,
		HabitID:     uuid.NewString(),
		Name:        "Morning run",
		Description: "Around the block",
		XPReward:    25,
		IsActive:    true,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}

	err := store.AddHabit(context.Background(), habit)
	require.NoError(t, err)

	retrieved, err := store.GetHabit(context.Background(), userID, habit.HabitID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, habit.Name, retrieved.Name)
	assert.Equal(t, habit.XPReward, retrieved.XPReward)

	// Absent keys come back as nil records, not errors.
	missing, err := store.GetHabit(context.Background(), userID, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	habits, err := store.FindHabitsByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, habits, 1)

	result, err := store.DeleteHabit(context.Background(), userID, habit.HabitID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedCount)
}

func TestAddCompletionConditionalCreate(t *testing.T) {
	store := newTestStore(t)
	userID := testUserID()
	habitID := uuid.NewString()
	dayKey := fmt.Sprintf("%s#%s", time.Now().UTC().Format("2006-01-02"), habitID)

	completion := &models.Completion{
		UserID:      userID,
		DayKey:      dayKey,
		HabitID:     habitID,
		HabitName:   "Morning run",
		CompletedAt: time.Now().UTC().Truncate(time.Millisecond),
		XPEarned:    25,
		Date:        time.Now().UTC().Format("2006-01-02"),
	}

	err := store.AddCompletion(context.Background(), completion)
	require.NoError(t, err)

	// A second insert for the same (user, day, habit) triple must hit the
	// unique index, not create a second record.
	err = store.AddCompletion(context.Background(), completion)
	assert.ErrorIs(t, err, ErrCompletionExists)

	retrieved, err := store.GetCompletion(context.Background(), userID, dayKey)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, 25, retrieved.XPEarned)
}

func TestApplyRewardAtomicIncrement(t *testing.T) {
	store := newTestStore(t)
	userID := testUserID()

	// The first reward upserts a fresh record.
	err := store.ApplyReward(context.Background(), userID, 60)
	require.NoError(t, err)

	progress, err := store.GetProgress(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, 60, progress.TotalXP)
	assert.Equal(t, 1, progress.Level)

	// The second reward increments the total and recomputes the level from
	// the post-increment value.
	err = store.ApplyReward(context.Background(), userID, 60)
	require.NoError(t, err)

	progress, err = store.GetProgress(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, 120, progress.TotalXP)
	assert.Equal(t, 2, progress.Level)
}

func TestPutProgressUpsert(t *testing.T) {
	store := newTestStore(t)
	userID := testUserID()

	progress := &models.UserProgress{
		UserID:    userID,
		Level:     1,
		TotalXP:   0,
		Stats:     map[string]interface{}{},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	err := store.PutProgress(context.Background(), progress)
	require.NoError(t, err)

	retrieved, err := store.GetProgress(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, 1, retrieved.Level)

	// Writing again replaces rather than duplicates.
	progress.TotalXP = 40
	err = store.PutProgress(context.Background(), progress)
	require.NoError(t, err)

	retrieved, err = store.GetProgress(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 40, retrieved.TotalXP)
}

func TestNotificationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	userID := testUserID()

	notification := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Level:     2,
		Message:   "You reached level 2!",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	err := store.AddNotification(context.Background(), notification)
	require.NoError(t, err)

	notifications, err := store.FindNotificationsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, notification.Message, notifications[0].Message)
}
