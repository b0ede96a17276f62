package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/21tmccauley/stat-tracker/models"
)

// ErrCompletionExists is returned by AddCompletion when a completion already
// exists for the same (user, day, habit) triple. It is the storage layer's
// native "create if absent" failure and the primary defense against the
// duplicate-completion race.
var ErrCompletionExists = errors.New("completion already exists")

// DeleteResult represents the result of a deletion operation,
// specifically the count of records deleted.
type DeleteResult struct {
	DeletedCount int64
}

// Tables holds the resolved names of the logical tables the gateway operates
// on. All names must be resolved before the gateway is constructed; a missing
// name is a configuration failure, not a runtime concern.
type Tables struct {
	Habits        string
	Completions   string
	Users         string
	Notifications string
}

// StorageInterface defines the set of methods that any persistent storage
// backend needs to implement. Get methods return a nil record (and a nil
// error) when the requested key is absent.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error
	// Adds a new habit to the storage backend.
	AddHabit(ctx context.Context, habit *models.Habit) error
	// Fetches a habit by its (userID, habitID) key pair.
	GetHabit(ctx context.Context, userID, habitID string) (*models.Habit, error)
	// Finds all habits belonging to a user.
	FindHabitsByUser(ctx context.Context, userID string) ([]models.Habit, error)
	// Deletes a habit by its (userID, habitID) key pair.
	DeleteHabit(ctx context.Context, userID, habitID string) (*DeleteResult, error)
	// Fetches a completion by its (userID, dayKey) key pair.
	GetCompletion(ctx context.Context, userID, dayKey string) (*models.Completion, error)
	// Adds a completion record with create-if-absent semantics.
	// Returns ErrCompletionExists when the (userID, dayKey) pair is taken.
	AddCompletion(ctx context.Context, completion *models.Completion) error
	// Fetches the progress record for a user.
	GetProgress(ctx context.Context, userID string) (*models.UserProgress, error)
	// Writes a full progress record, replacing any existing one.
	PutProgress(ctx context.Context, progress *models.UserProgress) error
	// Atomically adds xp to a user's total and recomputes the level from the
	// post-increment total, creating the record if it does not exist.
	ApplyReward(ctx context.Context, userID string, xp int) error
	// Adds a level-up notification record.
	AddNotification(ctx context.Context, notification *models.Notification) error
	// Finds all notifications belonging to a user, newest first.
	FindNotificationsByUser(ctx context.Context, userID string) ([]models.Notification, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string, tables Tables) (StorageInterface, error) {
	storage := NewMongoStorage(tables)
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
