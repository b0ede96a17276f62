package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/21tmccauley/stat-tracker/habits"
	"github.com/21tmccauley/stat-tracker/server/contextkey"
)

// Server owns the HTTP surface of the habit tracker: routing, identity
// extraction, and the translation of workflow outcomes into responses.
type Server struct {
	svc        *habits.Service
	signingKey string
}

// New creates a Server for the given habit service and JWT signing key.
func New(svc *habits.Service, signingKey string) *Server {
	return &Server{
		svc:        svc,
		signingKey: signingKey,
	}
}

// jwtMiddleware performs bearer token validation.
//
// It reads the JWT from the Authorization header of the HTTP request. If a
// valid token is present, it injects the subject claim (the stable user
// identifier issued by the external identity provider) into the request's
// context under contextkey.UserIDKey. Parse errors are injected under
// contextkey.JwtErrorKey instead.
//
// The middleware never stops the request itself; the handlers decide how to
// react to a missing identity, so the 401 mapping lives in one place.
func jwtMiddleware(signingKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				token, err := jwt.Parse(splitToken[1], func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return []byte(signingKey), nil
				})
				if err != nil {
					log.Println("JWT token validation error:", err)
					ctx := context.WithValue(r.Context(), contextkey.JwtErrorKey, err)
					r = r.WithContext(ctx)
				} else if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
					if sub, ok := claims["sub"].(string); ok {
						ctx := context.WithValue(r.Context(), contextkey.UserIDKey, sub)
						r = r.WithContext(ctx)
					}
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and provides a generic error
// message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %s\n", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Router builds the mux router with all routes wrapped in the JWT and
// recovery middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/habits", s.wrap(s.handleCreateHabit)).Methods(http.MethodPost)
	r.Handle("/habits", s.wrap(s.handleListHabits)).Methods(http.MethodGet)
	r.Handle("/habits/{habitId}", s.wrap(s.handleDeleteHabit)).Methods(http.MethodDelete)
	r.Handle("/habits/{habitId}/complete", s.wrap(s.handleCompleteHabit)).Methods(http.MethodPost)
	r.Handle("/user", s.wrap(s.handleGetUser)).Methods(http.MethodGet)
	r.Handle("/notifications", s.wrap(s.handleListNotifications)).Methods(http.MethodGet)

	return r
}

// wrap applies the per-route middleware chain to a handler function.
func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	return recoveryMiddleware(jwtMiddleware(s.signingKey, h))
}

// Start initializes and starts the HTTP server at the given URL.
// It wraps the router with CORS and request logging middleware and blocks
// until the server exits.
func (s *Server) Start(serverURL string) error {
	r := s.Router()

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})

	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(r)

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("error parsing server URL: %w", err)
	}

	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	return server.ListenAndServe()
}
