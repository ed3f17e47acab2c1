package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/models"
)

// MemoryStore is the in-process Store used for local runs and tests. It
// enforces the same invariants as the Postgres implementation so the
// lifecycle core sees identical error kinds against either.
type MemoryStore struct {
	mu           sync.RWMutex
	trips        map[string]models.Trip
	reservations map[string]models.Reservation
	chats        map[string]models.Chat

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:        make(map[string]models.Trip),
		reservations: make(map[string]models.Reservation),
		chats:        make(map[string]models.Chat),
		now:          time.Now,
	}
}

// SetClock overrides the store clock. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, apierr.NotFound("trip not found")
	}
	return t, nil
}

func (m *MemoryStore) ListTrips(ctx context.Context, f TripFilters) ([]models.Trip, error) {
	m.mu.RLock()
	out := make([]models.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		if matchTrip(t, f) {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()
	sortTrips(out, f.Sort)
	return out, nil
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	if t.Driver.ID == "" {
		return models.Trip{}, apierr.Invalid("trip driver is required")
	}
	if t.TotalSeats < 1 {
		return models.Trip{}, apierr.Invalid("trip must offer at least one seat")
	}
	if !t.DepartureDateTime.After(m.now()) {
		return models.Trip{}, apierr.Invalid("departure must be in the future")
	}
	t.ID = uuid.NewString()
	t.AvailableSeats = t.TotalSeats
	t.CreatedAt = m.now()

	m.mu.Lock()
	m.trips[t.ID] = t
	m.mu.Unlock()
	return t, nil
}

func (m *MemoryStore) CreateReservation(ctx context.Context, tripID, userID string, seatCount int) (models.Reservation, error) {
	if seatCount < 1 {
		return models.Reservation{}, apierr.Invalid("seat count must be at least 1")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	trip, ok := m.trips[tripID]
	if !ok {
		return models.Reservation{}, apierr.NotFound("trip not found")
	}
	if trip.Driver.ID == userID {
		return models.Reservation{}, apierr.Forbidden("cannot reserve a seat on your own trip")
	}
	if trip.DepartureDateTime.Before(m.now()) {
		return models.Reservation{}, apierr.Conflict("trip already departed")
	}
	for _, r := range m.reservations {
		if r.TripID == tripID && r.UserID == userID && !r.Status.Terminal() {
			return models.Reservation{}, apierr.Conflict("a reservation for this trip already exists")
		}
	}
	if seatCount > trip.AvailableSeats {
		return models.Reservation{}, apierr.Conflict("not enough available seats")
	}

	now := m.now()
	res := models.Reservation{
		ID:        uuid.NewString(),
		TripID:    tripID,
		UserID:    userID,
		SeatCount: seatCount,
		Status:    models.ReservationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.reservations[res.ID] = res
	return res, nil
}

func (m *MemoryStore) UpdateReservationStatus(ctx context.Context, id, actorID string, action StatusAction) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok {
		return models.Reservation{}, apierr.NotFound("reservation not found")
	}
	trip, ok := m.trips[res.TripID]
	if !ok {
		return models.Reservation{}, apierr.NotFound("trip not found")
	}
	if res.Status.Terminal() {
		return models.Reservation{}, apierr.Conflict("reservation already finalized")
	}

	switch action {
	case ActionAccept, ActionReject:
		if actorID != trip.Driver.ID {
			return models.Reservation{}, apierr.Forbidden("only the trip driver may decide a reservation")
		}
		if res.Status != models.ReservationPending {
			return models.Reservation{}, apierr.Conflict("reservation is not pending")
		}
		if action == ActionAccept {
			if res.SeatCount > trip.AvailableSeats {
				return models.Reservation{}, apierr.Conflict("not enough available seats")
			}
			trip.AvailableSeats -= res.SeatCount
			m.trips[trip.ID] = trip
			res.Status = models.ReservationAccepted
		} else {
			res.Status = models.ReservationRejected
		}
	case ActionCancel:
		if actorID != res.UserID && actorID != trip.Driver.ID {
			return models.Reservation{}, apierr.Forbidden("only the passenger or the driver may cancel")
		}
		if trip.DepartureDateTime.Before(m.now()) {
			return models.Reservation{}, apierr.Conflict("trip already departed")
		}
		if res.Status == models.ReservationAccepted {
			trip.AvailableSeats += res.SeatCount
			if trip.AvailableSeats > trip.TotalSeats {
				trip.AvailableSeats = trip.TotalSeats
			}
			m.trips[trip.ID] = trip
		}
		res.Status = models.ReservationCancelled
	default:
		return models.Reservation{}, apierr.Invalid("unknown reservation action")
	}

	res.UpdatedAt = m.now()
	m.reservations[res.ID] = res
	return res, nil
}

func (m *MemoryStore) ReservationForTrip(ctx context.Context, tripID, userID string) (models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.Reservation
	for _, r := range m.reservations {
		if r.TripID != tripID || r.UserID != userID {
			continue
		}
		// prefer the active reservation; fall back to the latest terminal one
		r := r
		if !r.Status.Terminal() {
			found = &r
			break
		}
		if found == nil || r.UpdatedAt.After(found.UpdatedAt) {
			found = &r
		}
	}
	if found == nil {
		return models.Reservation{}, apierr.NotFound("no reservation for this trip")
	}
	return *found, nil
}

func (m *MemoryStore) ReservationsForUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Reservation, 0)
	for _, r := range m.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateChat(ctx context.Context, tripID, creatorID string) (models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trips[tripID]; !ok {
		return models.Chat{}, apierr.NotFound("trip not found")
	}
	for _, c := range m.chats {
		if c.TripID == tripID {
			return models.Chat{}, apierr.Conflict("chat already exists for this trip")
		}
	}

	now := m.now()
	chat := models.Chat{
		ID:        uuid.NewString(),
		TripID:    tripID,
		Status:    models.ChatPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.chats[chat.ID] = chat
	return cloneChat(chat), nil
}

func (m *MemoryStore) AddChatMember(ctx context.Context, chatID, userID string, role models.MemberRole) (models.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return models.ChatMember{}, apierr.NotFound("chat not found")
	}
	for _, mem := range chat.Members {
		if mem.UserID == userID {
			return models.ChatMember{}, apierr.Conflict("already a chat member")
		}
	}

	member := models.ChatMember{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		CreatedAt: m.now(),
	}
	chat.Members = append(chat.Members, member)
	// the driver joining is what moves a chat out of PENDING
	if role == models.RoleDriver && chat.Status == models.ChatPending {
		chat.Status = models.ChatAccepted
	}
	chat.UpdatedAt = m.now()
	m.chats[chatID] = chat
	return member, nil
}

func (m *MemoryStore) ChatForTrip(ctx context.Context, tripID string) (models.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chats {
		if c.TripID == tripID {
			return cloneChat(c), true, nil
		}
	}
	return models.Chat{}, false, nil
}

func (m *MemoryStore) ChatMessages(ctx context.Context, chatID string) (models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return models.Chat{}, apierr.NotFound("chat not found")
	}
	return cloneChat(chat), nil
}

func (m *MemoryStore) PostMessage(ctx context.Context, chatID, senderID, content string, typ models.MessageType, metadata map[string]any) (models.Chat, error) {
	if strings.TrimSpace(content) == "" {
		return models.Chat{}, apierr.Invalid("message content is required")
	}
	if typ == "" {
		typ = models.MessageText
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return models.Chat{}, apierr.NotFound("chat not found")
	}
	if chat.Status != models.ChatAccepted {
		return models.Chat{}, apierr.Forbidden("chat is not accepted")
	}
	member := false
	for _, mem := range chat.Members {
		if mem.UserID == senderID {
			member = true
			break
		}
	}
	if !member {
		return models.Chat{}, apierr.Forbidden("not a chat member")
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		Content:   content,
		SenderID:  senderID,
		Type:      typ,
		Metadata:  metadata,
		CreatedAt: m.now(),
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = m.now()
	m.chats[chatID] = chat
	return cloneChat(chat), nil
}

func matchTrip(t models.Trip, f TripFilters) bool {
	if f.Origin != "" && !strings.EqualFold(t.Origin, f.Origin) {
		return false
	}
	if f.Destination != "" && !strings.EqualFold(t.Destination, f.Destination) {
		return false
	}
	if !f.Date.IsZero() {
		y1, m1, d1 := f.Date.Date()
		y2, m2, d2 := t.DepartureDateTime.Date()
		if y1 != y2 || m1 != m2 || d1 != d2 {
			return false
		}
	}
	if f.MinPrice > 0 && t.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && t.Price > f.MaxPrice {
		return false
	}
	if f.MinSeats > 0 && t.AvailableSeats < f.MinSeats {
		return false
	}
	if f.AvailableOnly && t.IsFull() {
		return false
	}
	return true
}

func sortTrips(trips []models.Trip, by TripSort) {
	sort.Slice(trips, func(i, j int) bool {
		a, b := trips[i], trips[j]
		switch by {
		case SortDateDesc:
			return a.DepartureDateTime.After(b.DepartureDateTime)
		case SortPriceAsc:
			return a.Price < b.Price
		case SortPriceDesc:
			return a.Price > b.Price
		case SortRatingDesc:
			return a.Driver.Rating > b.Driver.Rating
		default: // SortDateAsc
			return a.DepartureDateTime.Before(b.DepartureDateTime)
		}
	})
}

func cloneChat(c models.Chat) models.Chat {
	out := c
	out.Members = append([]models.ChatMember(nil), c.Members...)
	out.Messages = append([]models.Message(nil), c.Messages...)
	return out
}
