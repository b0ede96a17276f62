package habits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/21tmccauley/stat-tracker/models"
	"github.com/21tmccauley/stat-tracker/queue"
	"github.com/21tmccauley/stat-tracker/storage"
	"github.com/21tmccauley/stat-tracker/storage/cache"
)

// dayFormat is the calendar-day layout used in completion sort keys.
// Days are computed in UTC so a completion's day does not depend on which
// process handled the request.
const dayFormat = "2006-01-02"

// Service orchestrates habit CRUD and the completion-and-leveling workflow
// against a storage gateway. The progress cache and the level-up queue are
// optional collaborators; a nil value disables them.
type Service struct {
	store     storage.StorageInterface
	progCache cache.CacheInterface
	levelUpQ  *queue.Queue
	now       func() time.Time
}

// NewService creates a Service backed by the given storage gateway.
// progCache and levelUpQueue may be nil, in which case progress reads always
// hit storage and level-ups are not announced.
func NewService(store storage.StorageInterface, progCache cache.CacheInterface, levelUpQueue *queue.Queue) *Service {
	return &Service{
		store:     store,
		progCache: progCache,
		levelUpQ:  levelUpQueue,
		now:       time.Now,
	}
}

// progressCacheKey returns the cache key under which a user's progress
// record is stored.
func progressCacheKey(userID string) string {
	return "progress_" + userID
}

// CompleteHabit marks a habit as done for the current calendar day, awards
// its XP, and recomputes the user's level.
//
// The workflow validates the habit (it must exist, belong to the user, and be
// active), rejects a second completion on the same day, then persists exactly
// two writes: a completion record with create-if-absent semantics and an
// atomic XP increment on the user's progress. All failure paths before the
// first write are read-only.
func (s *Service) CompleteHabit(ctx context.Context, userID, habitID string) (*models.CompletionResult, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if strings.TrimSpace(habitID) == "" {
		return nil, &ValidationError{Message: "habitId is required and must be a non-empty string"}
	}

	// Verify the habit exists and belongs to the user.
	habit, err := s.store.GetHabit(ctx, userID, habitID)
	if err != nil {
		return nil, &StorageError{Op: "get habit", Err: err}
	}
	if habit == nil {
		return nil, ErrHabitNotFound
	}
	if !habit.IsActive {
		return nil, ErrHabitInactive
	}

	// Check if the habit was already completed today.
	now := s.now().UTC()
	today := now.Format(dayFormat)
	dayKey := today + "#" + habitID

	existing, err := s.store.GetCompletion(ctx, userID, dayKey)
	if err != nil {
		return nil, &StorageError{Op: "get completion", Err: err}
	}
	if existing != nil {
		return nil, &DuplicateCompletionError{CompletedAt: existing.CompletedAt}
	}

	// Read the current progress. A user with no record yet is treated as
	// level 1 with zero XP in memory; nothing is persisted until the reward
	// is applied below.
	progress, err := s.store.GetProgress(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "get progress", Err: err}
	}

	currentLevel := 1
	currentXP := 0
	if progress != nil {
		currentXP = progress.TotalXP
		if progress.Level > 1 {
			currentLevel = progress.Level
		}
	}

	xpReward := habit.XPReward
	if xpReward <= 0 {
		xpReward = defaultXPReward
	}

	newXP := currentXP + xpReward
	newLevel := LevelForXP(newXP)
	leveledUp := newLevel > currentLevel

	// Record the completion. The storage layer's create-if-absent semantics
	// make this the authoritative duplicate check: if a concurrent request
	// got here first, surface its completion time instead of writing twice.
	completion := &models.Completion{
		UserID:      userID,
		DayKey:      dayKey,
		HabitID:     habitID,
		HabitName:   habit.Name,
		CompletedAt: now,
		XPEarned:    xpReward,
		Date:        today,
	}

	err = s.store.AddCompletion(ctx, completion)
	if errors.Is(err, storage.ErrCompletionExists) {
		return nil, s.duplicateError(ctx, userID, dayKey)
	}
	if err != nil {
		return nil, &StorageError{Op: "add completion", Err: err}
	}

	// Apply the reward as a single atomic update: the increment and the
	// level recompute happen together on the post-increment total.
	if err := s.store.ApplyReward(ctx, userID, xpReward); err != nil {
		return nil, &StorageError{Op: "apply reward", Err: err}
	}

	s.invalidateProgress(ctx, userID)

	message := "Habit completed successfully!"
	if leveledUp {
		message = fmt.Sprintf("Habit completed! You leveled up to level %d!", newLevel)
		s.announceLevelUp(userID, newLevel)
	}

	return &models.CompletionResult{
		Message: message,
		Completion: models.CompletionSummary{
			HabitID:     habitID,
			HabitName:   habit.Name,
			XPEarned:    xpReward,
			CompletedAt: now,
		},
		User: models.UserSummary{
			Level:         newLevel,
			TotalXP:       newXP,
			LeveledUp:     leveledUp,
			PreviousLevel: currentLevel,
			XPToNextLevel: newLevel*xpPerLevel - newXP,
		},
	}, nil
}

// duplicateError builds the duplicate-completion error for a race lost at
// write time, re-reading the winning completion so its timestamp can be
// surfaced to the client.
func (s *Service) duplicateError(ctx context.Context, userID, dayKey string) error {
	winner, err := s.store.GetCompletion(ctx, userID, dayKey)
	if err != nil || winner == nil {
		return &DuplicateCompletionError{}
	}
	return &DuplicateCompletionError{CompletedAt: winner.CompletedAt}
}

// invalidateProgress drops the cached progress record for a user. Cache
// failures are logged and otherwise ignored; the cache is best-effort.
func (s *Service) invalidateProgress(ctx context.Context, userID string) {
	if s.progCache == nil {
		return
	}
	if err := s.progCache.Delete(ctx, progressCacheKey(userID)); err != nil {
		log.Printf("failed to invalidate progress cache for user %s: %v", userID, err)
	}
}

// announceLevelUp publishes a level-up message onto the notification queue.
// Queue failures never fail the completion; they are logged and dropped.
func (s *Service) announceLevelUp(userID string, newLevel int) {
	if s.levelUpQ == nil {
		return
	}
	msg := &queue.LevelUpMessage{
		ID:      uuid.NewString(),
		UserID:  userID,
		Level:   newLevel,
		Message: fmt.Sprintf("You reached level %d!", newLevel),
	}
	if err := queue.ProcessLevelUp(msg, s.levelUpQ); err != nil {
		log.Printf("failed to publish level-up message for user %s: %v", userID, err)
	}
}

// CreateHabitInput carries the client-supplied fields for a new habit.
// Pointer fields distinguish "absent" from a zero value so defaults can be
// applied.
type CreateHabitInput struct {
	Name        string
	Description *string
	XPReward    *int
	IsActive    *bool
}

// CreateHabit validates the input, fills in defaults, and persists a new
// habit with a generated identifier for the calling user.
func (s *Service) CreateHabit(ctx context.Context, userID string, input CreateHabitInput) (*models.Habit, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, &ValidationError{Message: "Habit name is required and must be a non-empty string"}
	}

	xpReward := defaultXPReward
	if input.XPReward != nil {
		if *input.XPReward < 1 || *input.XPReward > 100 {
			return nil, &ValidationError{Message: "XP reward must be a number between 1 and 100"}
		}
		xpReward = *input.XPReward
	}

	description := ""
	if input.Description != nil {
		description = strings.TrimSpace(*input.Description)
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	now := s.now().UTC()
	habit := &models.Habit{
		UserID:      userID,
		HabitID:     uuid.NewString(),
		Name:        name,
		Description: description,
		XPReward:    xpReward,
		IsActive:    isActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.AddHabit(ctx, habit); err != nil {
		return nil, &StorageError{Op: "add habit", Err: err}
	}

	return habit, nil
}

// ListHabits returns every habit belonging to the calling user.
func (s *Service) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	habits, err := s.store.FindHabitsByUser(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "find habits", Err: err}
	}
	if habits == nil {
		habits = []models.Habit{}
	}
	return habits, nil
}

// DeleteHabit removes a habit belonging to the calling user. Completion
// records are left in place; there is no cascading cleanup.
func (s *Service) DeleteHabit(ctx context.Context, userID, habitID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(habitID) == "" {
		return &ValidationError{Message: "habitId is required and must be a non-empty string"}
	}

	habit, err := s.store.GetHabit(ctx, userID, habitID)
	if err != nil {
		return &StorageError{Op: "get habit", Err: err}
	}
	if habit == nil {
		return ErrHabitNotFound
	}

	if _, err := s.store.DeleteHabit(ctx, userID, habitID); err != nil {
		return &StorageError{Op: "delete habit", Err: err}
	}
	return nil
}

// GetProgress returns the progress record for the calling user, creating a
// fresh level-1 record on first read. The second return value reports
// whether the record was created by this call.
//
// Reads are served from the progress cache when possible; completions
// invalidate the cached entry.
func (s *Service) GetProgress(ctx context.Context, userID string) (*models.UserProgress, bool, error) {
	if userID == "" {
		return nil, false, ErrMissingUserID
	}

	if s.progCache != nil {
		if raw, err := s.progCache.Get(ctx, progressCacheKey(userID)); err == nil {
			cached := &models.UserProgress{}
			if err := json.Unmarshal(raw, cached); err == nil {
				return cached, false, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("failed to read progress cache for user %s: %v", userID, err)
		}
	}

	progress, err := s.store.GetProgress(ctx, userID)
	if err != nil {
		return nil, false, &StorageError{Op: "get progress", Err: err}
	}

	created := false
	if progress == nil {
		now := s.now().UTC()
		progress = &models.UserProgress{
			UserID:    userID,
			Level:     1,
			TotalXP:   0,
			Stats:     map[string]interface{}{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.PutProgress(ctx, progress); err != nil {
			return nil, false, &StorageError{Op: "put progress", Err: err}
		}
		created = true
	}

	if s.progCache != nil {
		if err := s.progCache.Set(ctx, progressCacheKey(userID), progress); err != nil {
			log.Printf("failed to write progress cache for user %s: %v", userID, err)
		}
	}

	return progress, created, nil
}

// ListNotifications returns the level-up notifications for the calling user,
// newest first.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	notifications, err := s.store.FindNotificationsByUser(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "find notifications", Err: err}
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}
