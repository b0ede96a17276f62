package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/21tmccauley/stat-tracker/habits"
	"github.com/21tmccauley/stat-tracker/models"
	"github.com/21tmccauley/stat-tracker/server/contextkey"
)

// errorResponse is the body shape for every failed request.
type errorResponse struct {
	Error       string     `json:"error"`
	Message     string     `json:"message"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// writeJSON renders v as the JSON body of a response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// writeError maps a workflow error onto its transport status code and body.
// Domain errors each carry their own status; anything unrecognized (storage
// failures included) becomes a 500 with a generic message.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *habits.ValidationError
	var duplicateErr *habits.DuplicateCompletionError

	switch {
	case errors.Is(err, habits.ErrMissingUserID):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:   "Unauthorized",
			Message: "User ID is required",
		})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "InvalidRequest",
			Message: validationErr.Message,
		})
	case errors.Is(err, habits.ErrHabitNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   "NotFound",
			Message: "The specified habit does not exist or does not belong to you",
		})
	case errors.Is(err, habits.ErrHabitInactive):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "InvalidState",
			Message: "Cannot complete an inactive habit",
		})
	case errors.As(err, &duplicateErr):
		resp := errorResponse{
			Error:   "Duplicate",
			Message: "You have already completed this habit today",
		}
		if !duplicateErr.CompletedAt.IsZero() {
			completedAt := duplicateErr.CompletedAt
			resp.CompletedAt = &completedAt
		}
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "InternalError",
			Message: "Internal server error",
		})
	}
}

// userIDFrom extracts the identity claim the JWT middleware stored on the
// request context. An empty string means the request is unauthenticated.
func userIDFrom(r *http.Request) string {
	if userID, ok := r.Context().Value(contextkey.UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// createHabitRequest mirrors the create-habit body. Pointer fields
// distinguish omitted values from zero values so defaults apply correctly.
type createHabitRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	XPReward    *int    `json:"xpReward"`
	IsActive    *bool   `json:"isActive"`
}

func (s *Server) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == "" {
		writeError(w, habits.ErrMissingUserID)
		return
	}

	var req createHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "InvalidRequest",
			Message: "Request body must be valid JSON",
		})
		return
	}

	habit, err := s.svc.CreateHabit(r.Context(), userID, habits.CreateHabitInput{
		Name:        req.Name,
		Description: req.Description,
		XPReward:    req.XPReward,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Habit created successfully",
		"habit":   habit,
	})
}

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	habitList, err := s.svc.ListHabits(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"habits": habitList,
		"count":  len(habitList),
	})
}

func (s *Server) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	habitID := mux.Vars(r)["habitId"]

	if err := s.svc.DeleteHabit(r.Context(), userIDFrom(r), habitID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Habit deleted successfully",
		"habitId": habitID,
	})
}

func (s *Server) handleCompleteHabit(w http.ResponseWriter, r *http.Request) {
	habitID := mux.Vars(r)["habitId"]

	result, err := s.svc.CompleteHabit(r.Context(), userIDFrom(r), habitID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// userResponse embeds the progress record and adds the creation notice for
// first-time reads.
type userResponse struct {
	*models.UserProgress
	Message string `json:"message,omitempty"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	progress, created, err := s.svc.GetProgress(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := userResponse{UserProgress: progress}
	status := http.StatusOK
	if created {
		resp.Message = "New user created"
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.svc.ListNotifications(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
	})
}
