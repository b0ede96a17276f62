package models

import (
	"time"
)

// Habit represents a single habit owned by exactly one user. Habits are
// identified by the (UserID, HabitID) pair; HabitID is an opaque unique
// identifier generated at creation time.
type Habit struct {
	UserID      string    `bson:"user_id" json:"userId"`
	HabitID     string    `bson:"habit_id" json:"habitId"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description" json:"description"`
	XPReward    int       `bson:"xp_reward" json:"xpReward"`
	IsActive    bool      `bson:"is_active" json:"isActive"`
	CreatedAt   time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updatedAt"`
}

// Completion is an immutable record asserting that a user finished a habit on
// a specific calendar day. DayKey is the composite sort key "{date}#{habitId}",
// and at most one completion may exist per (UserID, DayKey) pair.
type Completion struct {
	UserID      string    `bson:"user_id" json:"userId"`
	DayKey      string    `bson:"day_key" json:"dayKey"`
	HabitID     string    `bson:"habit_id" json:"habitId"`
	HabitName   string    `bson:"habit_name" json:"habitName"`
	CompletedAt time.Time `bson:"completed_at" json:"completedAt"`
	XPEarned    int       `bson:"xp_earned" json:"xpEarned"`
	Date        string    `bson:"date" json:"date"`
}

// UserProgress holds the accumulated experience and derived level for a user.
// It is created lazily on the first completion or the first profile read, and
// after every successful completion level == totalXP/100 + 1 must hold.
type UserProgress struct {
	UserID    string                 `bson:"user_id" json:"userId"`
	Level     int                    `bson:"level" json:"level"`
	TotalXP   int                    `bson:"total_xp" json:"totalXP"`
	Stats     map[string]interface{} `bson:"stats" json:"stats"`
	CreatedAt time.Time              `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time              `bson:"updated_at" json:"updatedAt"`
}

// Notification is a persisted level-up announcement, written by the
// notification queue consumers when a completion levels a user up.
type Notification struct {
	ID        string    `bson:"notification_id" json:"id"`
	UserID    string    `bson:"user_id" json:"userId"`
	Level     int       `bson:"level" json:"level"`
	Message   string    `bson:"message" json:"message"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// CompletionSummary is the completion half of a successful completion response.
type CompletionSummary struct {
	HabitID     string    `json:"habitId"`
	HabitName   string    `json:"habitName"`
	XPEarned    int       `json:"xpEarned"`
	CompletedAt time.Time `json:"completedAt"`
}

// UserSummary is the leveling half of a successful completion response.
type UserSummary struct {
	Level         int  `json:"level"`
	TotalXP       int  `json:"totalXP"`
	LeveledUp     bool `json:"leveledUp"`
	PreviousLevel int  `json:"previousLevel"`
	XPToNextLevel int  `json:"xpToNextLevel"`
}

// CompletionResult is the full outcome of a successful completion workflow run.
type CompletionResult struct {
	Message    string            `json:"message"`
	Completion CompletionSummary `json:"completion"`
	User       UserSummary       `json:"user"`
}
