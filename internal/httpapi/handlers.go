package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/events"
	"github.com/example/trip-reservations/internal/lifecycle"
	"github.com/example/trip-reservations/internal/models"
	"github.com/example/trip-reservations/internal/observability"
	"github.com/example/trip-reservations/internal/storage"
)

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trips, err := s.store.ListTrips(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if trips == nil {
		trips = []models.Trip{}
	}
	s.writeJSON(w, http.StatusOK, trips)
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var t models.Trip
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}
	if t.Driver.ID == "" {
		t.Driver.ID = user
	}
	if t.Driver.ID != user {
		s.writeError(w, r, apierr.Forbidden("trips can only be created for yourself"))
		return
	}
	created, err := s.store.CreateTrip(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.store.GetTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

// handleTripView serves the derived action state for the authenticated
// viewer (or an anonymous one) in a single round trip.
func (s *Server) handleTripView(w http.ResponseWriter, r *http.Request) {
	flow := &lifecycle.Flow{
		Trips:        s.store,
		Reservations: s.store,
		Chats:        s.store,
		Auth:         lifecycle.StaticAuth{UserID: currentUser(r)},
		Logger:       s.logger,
	}
	snap, state, err := flow.View(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"trip":        snap.Trip,
		"reservation": snap.Reservation,
		"state":       state,
	})
}

func (s *Server) handleMyReservationForTrip(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	res, err := s.store.ReservationForTrip(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTripStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, r, &apierr.Error{Kind: apierr.KindGeneric, Status: http.StatusServiceUnavailable, Message: "stats unavailable"})
		return
	}
	tripID := mux.Vars(r)["id"]
	if v, ok := s.cache.Get(tripID); ok {
		s.writeJSON(w, http.StatusOK, v)
		return
	}
	v, err := s.stats.TripStats(r.Context(), tripID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.cache.Set(tripID, v)
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		TripID    string `json:"trip_id"`
		SeatCount int    `json:"seat_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}
	res, err := s.store.CreateReservation(r.Context(), req.TripID, user, req.SeatCount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.ReservationsCreated.Inc()
	s.publish(events.FromReservation(res, user))
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	list, err := s.store.ReservationsForUser(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Reservation{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateReservation(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Action storage.StatusAction `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}
	switch req.Action {
	case storage.ActionAccept, storage.ActionReject, storage.ActionCancel:
	default:
		s.writeError(w, r, apierr.Invalid("action must be ACCEPT, REJECT or CANCEL"))
		return
	}
	res, err := s.store.UpdateReservationStatus(r.Context(), mux.Vars(r)["id"], user, req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.ReservationTransitions.WithLabelValues(string(req.Action)).Inc()
	s.publish(events.FromReservation(res, user))
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		TripID string `json:"trip_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}
	chat, err := s.store.CreateChat(r.Context(), req.TripID, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleChatForTrip(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	chat, exists, err := s.store.ChatForTrip(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"exists": exists}
	if exists {
		resp["chat"] = chat
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddChatMember(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID string            `json:"user_id"`
		Role   models.MemberRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}
	if req.UserID == "" {
		req.UserID = user
	}
	switch req.Role {
	case models.RoleDriver, models.RolePassenger:
	default:
		s.writeError(w, r, apierr.Invalid("role must be DRIVER or PASSENGER"))
		return
	}
	member, err := s.store.AddChatMember(r.Context(), mux.Vars(r)["id"], req.UserID, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	chat, err := s.store.ChatMessages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Content  string             `json:"content"`
		Type     models.MessageType `json:"type"`
		Metadata map[string]any     `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}
	chat, err := s.store.PostMessage(r.Context(), mux.Vars(r)["id"], user, req.Content, req.Type, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.ChatMessagesPosted.Inc()
	s.writeJSON(w, http.StatusCreated, chat)
}

func filtersFromQuery(r *http.Request) (storage.TripFilters, error) {
	q := r.URL.Query()
	f := storage.TripFilters{
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
		Sort:        storage.TripSort(q.Get("sort")),
	}
	if v := q.Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, apierr.Invalid("date must be YYYY-MM-DD")
		}
		f.Date = d
	}
	var err error
	if f.MinPrice, err = floatParam(q.Get("min_price")); err != nil {
		return f, apierr.Invalid("min_price must be a number")
	}
	if f.MaxPrice, err = floatParam(q.Get("max_price")); err != nil {
		return f, apierr.Invalid("max_price must be a number")
	}
	if v := q.Get("min_seats"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, apierr.Invalid("min_seats must be an integer")
		}
		f.MinSeats = n
	}
	f.AvailableOnly = q.Get("available_only") == "true"
	return f, nil
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
