package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/events"
	"github.com/example/trip-reservations/internal/stats"
	"github.com/example/trip-reservations/internal/storage"
)

// StatsReader is the read side of the materialized reservation counters.
type StatsReader interface {
	TripStats(ctx context.Context, tripID string) (stats.Stats, error)
}

type Server struct {
	store  storage.Store
	events events.Sink // nil when kafka is not configured
	stats  StatsReader // nil when redis is not configured
	cache  *stats.Cache
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, store storage.Store, sink events.Sink, statsReader StatsReader) *Server {
	s := &Server{
		store:  store,
		events: sink,
		stats:  statsReader,
		cache:  stats.NewCache(5 * time.Second),
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/trips", s.handleListTrips).Methods("GET")
	api.HandleFunc("/trips", s.handleCreateTrip).Methods("POST")
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{id}/view", s.handleTripView).Methods("GET")
	api.HandleFunc("/trips/{id}/reservation", s.handleMyReservationForTrip).Methods("GET")
	api.HandleFunc("/trips/{id}/stats", s.handleTripStats).Methods("GET")

	api.HandleFunc("/reservations", s.handleCreateReservation).Methods("POST")
	api.HandleFunc("/reservations/mine", s.handleMyReservations).Methods("GET")
	api.HandleFunc("/reservations/{id}", s.handleUpdateReservation).Methods("PATCH")

	api.HandleFunc("/chats", s.handleCreateChat).Methods("POST")
	api.HandleFunc("/chats/trip/{trip_id}", s.handleChatForTrip).Methods("GET")
	api.HandleFunc("/chats/{id}/members", s.handleAddChatMember).Methods("POST")
	api.HandleFunc("/chats/{id}/messages", s.handleChatMessages).Methods("GET")
	api.HandleFunc("/chats/{id}/messages", s.handlePostMessage).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// currentUser extracts the caller identity from the bearer token. Token
// verification is delegated to the gateway in front of this service; here
// the token payload is treated as the opaque user ID it resolves to.
func currentUser(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := currentUser(r)
	if user == "" {
		s.writeError(w, r, apierr.Unauthorized("authentication required"))
		return "", false
	}
	return user, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apierr.Error
	if errors.As(err, &e) {
		status := e.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		s.writeJSON(w, status, map[string]string{"error": e.Message, "kind": e.Kind.String()})
		return
	}
	s.logger.Error("unhandled error", "path", r.URL.Path, "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (s *Server) publish(ev events.ReservationEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishReservation(ev); err != nil {
		s.logger.Warn("event publish failed", "type", ev.Type, "trip_id", ev.TripID, "error", err)
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
