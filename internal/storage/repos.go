package storage

import (
	"context"
	"time"

	"github.com/example/trip-reservations/internal/models"
)

// StatusAction is the set of transitions callable on an existing reservation.
type StatusAction string

const (
	ActionAccept StatusAction = "ACCEPT"
	ActionReject StatusAction = "REJECT"
	ActionCancel StatusAction = "CANCEL"
)

// TripSort orders trip listings.
type TripSort string

const (
	SortDateAsc    TripSort = "date_asc"
	SortDateDesc   TripSort = "date_desc"
	SortPriceAsc   TripSort = "price_asc"
	SortPriceDesc  TripSort = "price_desc"
	SortRatingDesc TripSort = "rating_desc"
)

type TripFilters struct {
	Origin        string
	Destination   string
	Date          time.Time // zero means any day
	MinPrice      float64
	MaxPrice      float64 // zero means unbounded
	MinSeats      int
	AvailableOnly bool
	Sort          TripSort
}

// TripRepository provides read access to trips plus driver-side creation.
type TripRepository interface {
	GetTrip(ctx context.Context, id string) (models.Trip, error)
	ListTrips(ctx context.Context, f TripFilters) ([]models.Trip, error)
	CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error)
}

// ReservationRepository owns the reservation lifecycle. Implementations
// enforce the backend invariants: at most one active reservation per
// (trip, user), no reserving one's own trip, and server-side seat
// accounting on accept/cancel.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, tripID, userID string, seatCount int) (models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id, actorID string, action StatusAction) (models.Reservation, error)
	// ReservationForTrip returns the user's reservation on a trip, or
	// apierr.NotFound when none exists.
	ReservationForTrip(ctx context.Context, tripID, userID string) (models.Reservation, error)
	ReservationsForUser(ctx context.Context, userID string) ([]models.Reservation, error)
}

// ChatRepository owns trip-scoped chats and their messages. Message posting
// is gated on chat status ACCEPTED.
type ChatRepository interface {
	CreateChat(ctx context.Context, tripID, creatorID string) (models.Chat, error)
	AddChatMember(ctx context.Context, chatID, userID string, role models.MemberRole) (models.ChatMember, error)
	// ChatForTrip reports exists=false (not an error) when the trip has no
	// chat yet, so callers can offer a start-chat affordance.
	ChatForTrip(ctx context.Context, tripID string) (models.Chat, bool, error)
	ChatMessages(ctx context.Context, chatID string) (models.Chat, error)
	PostMessage(ctx context.Context, chatID, senderID, content string, typ models.MessageType, metadata map[string]any) (models.Chat, error)
}

// Store bundles the three repositories; both the memory and Postgres
// implementations satisfy it.
type Store interface {
	TripRepository
	ReservationRepository
	ChatRepository
}
