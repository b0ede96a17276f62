package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/21tmccauley/stat-tracker/habits"
	"github.com/21tmccauley/stat-tracker/models"
	"github.com/21tmccauley/stat-tracker/storage"
)

const testSigningKey = "test-signing-key"

// memStore is a minimal in-memory StorageInterface backing the handler
// tests.
type memStore struct {
	habits        map[string]*models.Habit
	completions   map[string]*models.Completion
	progress      map[string]*models.UserProgress
	notifications map[string][]models.Notification
}

func newMemStore() *memStore {
	return &memStore{
		habits:        make(map[string]*models.Habit),
		completions:   make(map[string]*models.Completion),
		progress:      make(map[string]*models.UserProgress),
		notifications: make(map[string][]models.Notification),
	}
}

func (m *memStore) Connect(dbName, uri string) error { return nil }
func (m *memStore) Disconnect() error                { return nil }

func (m *memStore) AddHabit(ctx context.Context, habit *models.Habit) error {
	m.habits[habit.UserID+"/"+habit.HabitID] = habit
	return nil
}

func (m *memStore) GetHabit(ctx context.Context, userID, habitID string) (*models.Habit, error) {
	return m.habits[userID+"/"+habitID], nil
}

func (m *memStore) FindHabitsByUser(ctx context.Context, userID string) ([]models.Habit, error) {
	var result []models.Habit
	for _, habit := range m.habits {
		if habit.UserID == userID {
			result = append(result, *habit)
		}
	}
	return result, nil
}

func (m *memStore) DeleteHabit(ctx context.Context, userID, habitID string) (*storage.DeleteResult, error) {
	delete(m.habits, userID+"/"+habitID)
	return &storage.DeleteResult{DeletedCount: 1}, nil
}

func (m *memStore) GetCompletion(ctx context.Context, userID, dayKey string) (*models.Completion, error) {
	return m.completions[userID+"/"+dayKey], nil
}

func (m *memStore) AddCompletion(ctx context.Context, completion *models.Completion) error {
	key := completion.UserID + "/" + completion.DayKey
	if _, ok := m.completions[key]; ok {
		return storage.ErrCompletionExists
	}
	m.completions[key] = completion
	return nil
}

func (m *memStore) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	return m.progress[userID], nil
}

func (m *memStore) PutProgress(ctx context.Context, progress *models.UserProgress) error {
	m.progress[progress.UserID] = progress
	return nil
}

func (m *memStore) ApplyReward(ctx context.Context, userID string, xp int) error {
	p, ok := m.progress[userID]
	if !ok {
		p = &models.UserProgress{UserID: userID, Stats: map[string]interface{}{}}
		m.progress[userID] = p
	}
	p.TotalXP += xp
	p.Level = p.TotalXP/100 + 1
	return nil
}

func (m *memStore) AddNotification(ctx context.Context, notification *models.Notification) error {
	m.notifications[notification.UserID] = append(m.notifications[notification.UserID], *notification)
	return nil
}

func (m *memStore) FindNotificationsByUser(ctx context.Context, userID string) ([]models.Notification, error) {
	return m.notifications[userID], nil
}

// newTestServer builds a Server over a fresh memStore.
func newTestServer() (*Server, *memStore) {
	store := newMemStore()
	svc := habits.NewService(store, nil, nil)
	return New(svc, testSigningKey), store
}

// signToken issues a bearer token the way the external identity provider
// would, with the user identifier in the subject claim.
func signToken(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

// doRequest runs a request through the full router (middleware included) and
// decodes the JSON response body.
func doRequest(t *testing.T, srv *Server, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		marshaled, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(marshaled)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, req)

	decoded := map[string]interface{}{}
	if len(recorder.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func seedActiveHabit(store *memStore, userID, habitID string, xpReward int) {
	store.habits[userID+"/"+habitID] = &models.Habit{
		UserID:   userID,
		HabitID:  habitID,
		Name:     "Stretch",
		XPReward: xpReward,
		IsActive: true,
	}
}

func TestCompleteHabitUnauthorized(t *testing.T) {
	srv, _ := newTestServer()

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits/habit-1/complete", "", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "Unauthorized", body["error"])
	assert.Equal(t, "User ID is required", body["message"])
}

func TestCompleteHabitBadToken(t *testing.T) {
	srv, _ := newTestServer()

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits/habit-1/complete", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "Unauthorized", body["error"])
}

func TestCompleteHabitNotFoundResponse(t *testing.T) {
	srv, _ := newTestServer()
	token := signToken(t, "user-1")

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits/missing/complete", token, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "NotFound", body["error"])
}

func TestCompleteHabitInactiveResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")
	store.habits["user-1/habit-1"] = &models.Habit{
		UserID: "user-1", HabitID: "habit-1", Name: "Stretch", XPReward: 10, IsActive: false,
	}

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits/habit-1/complete", token, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "InvalidState", body["error"])
}

func TestCompleteHabitSuccessResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")
	seedActiveHabit(store, "user-1", "habit-1", 10)
	store.progress["user-1"] = &models.UserProgress{UserID: "user-1", Level: 1, TotalXP: 95}

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits/habit-1/complete", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	completion := body["completion"].(map[string]interface{})
	assert.Equal(t, "habit-1", completion["habitId"])
	assert.Equal(t, "Stretch", completion["habitName"])
	assert.Equal(t, float64(10), completion["xpEarned"])

	user := body["user"].(map[string]interface{})
	assert.Equal(t, float64(2), user["level"])
	assert.Equal(t, float64(105), user["totalXP"])
	assert.Equal(t, true, user["leveledUp"])
	assert.Equal(t, float64(1), user["previousLevel"])
	assert.Equal(t, float64(95), user["xpToNextLevel"])
}

func TestCompleteHabitDuplicateResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")
	seedActiveHabit(store, "user-1", "habit-1", 10)

	recorder, _ := doRequest(t, srv, http.MethodPost, "/habits/habit-1/complete", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits/habit-1/complete", token, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Duplicate", body["error"])
	assert.Equal(t, "You have already completed this habit today", body["message"])

	// The prior completion time is surfaced for client display.
	assert.NotEmpty(t, body["completedAt"])
}

func TestCreateHabitResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits", token, map[string]interface{}{
		"name":     "Meditate",
		"xpReward": 15,
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	habit := body["habit"].(map[string]interface{})
	assert.Equal(t, "Meditate", habit["name"])
	assert.Equal(t, float64(15), habit["xpReward"])
	assert.Equal(t, true, habit["isActive"])
	assert.Len(t, store.habits, 1)
}

func TestCreateHabitInvalidBody(t *testing.T) {
	srv, _ := newTestServer()
	token := signToken(t, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/habits", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	body := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "InvalidRequest", body["error"])
}

func TestCreateHabitMissingName(t *testing.T) {
	srv, _ := newTestServer()
	token := signToken(t, "user-1")

	recorder, body := doRequest(t, srv, http.MethodPost, "/habits", token, map[string]interface{}{
		"name": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "InvalidRequest", body["error"])
}

func TestListHabitsResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")
	seedActiveHabit(store, "user-1", "habit-1", 10)
	seedActiveHabit(store, "user-1", "habit-2", 20)
	seedActiveHabit(store, "user-2", "habit-3", 30)

	recorder, body := doRequest(t, srv, http.MethodGet, "/habits", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(2), body["count"])
}

func TestDeleteHabitResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")
	seedActiveHabit(store, "user-1", "habit-1", 10)

	recorder, body := doRequest(t, srv, http.MethodDelete, "/habits/habit-1", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "habit-1", body["habitId"])
	assert.Empty(t, store.habits)

	recorder, body = doRequest(t, srv, http.MethodDelete, "/habits/habit-1", token, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "NotFound", body["error"])
}

func TestGetUserFirstRead(t *testing.T) {
	srv, _ := newTestServer()
	token := signToken(t, "user-1")

	recorder, body := doRequest(t, srv, http.MethodGet, "/user", token, nil)
	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "New user created", body["message"])
	assert.Equal(t, float64(1), body["level"])
	assert.Equal(t, float64(0), body["totalXP"])

	// The record now exists, so a second read is a plain 200.
	recorder, body = doRequest(t, srv, http.MethodGet, "/user", token, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Nil(t, body["message"])
}

func TestListNotificationsResponse(t *testing.T) {
	srv, store := newTestServer()
	token := signToken(t, "user-1")
	store.notifications["user-1"] = []models.Notification{
		{ID: "n-1", UserID: "user-1", Level: 2, Message: "You reached level 2!"},
	}

	recorder, body := doRequest(t, srv, http.MethodGet, "/notifications", token, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), body["count"])
}
