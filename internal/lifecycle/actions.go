package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/models"
	"github.com/example/trip-reservations/internal/storage"
)

// AuthState is the narrow capability the action handlers need from the
// session layer. No ambient lookup; callers inject it.
type AuthState interface {
	CurrentUserID() string
	IsAuthenticated() bool
}

// StaticAuth is the trivial AuthState for a known user (or "" for none).
type StaticAuth struct {
	UserID string
}

func (a StaticAuth) CurrentUserID() string { return a.UserID }
func (a StaticAuth) IsAuthenticated() bool { return a.UserID != "" }

// LoginRedirect signals that the caller must authenticate before the action
// can run. It is an intent, not a failure: no backend call was made (or the
// session expired mid-call). ReturnPath is where to come back to.
type LoginRedirect struct {
	ReturnPath string
}

func (e *LoginRedirect) Error() string { return "login required" }

// Snapshot is the pair every action re-fetches after a successful write.
// Seat counts are server-computed, so state is always re-read rather than
// patched optimistically.
type Snapshot struct {
	Trip        models.Trip
	Reservation *models.Reservation
}

// Flow exposes the reservation lifecycle operations over the repository
// contracts. One mutating call per action, then a refetch of trip and
// reservation.
type Flow struct {
	Trips        storage.TripRepository
	Reservations storage.ReservationRepository
	Chats        storage.ChatRepository
	Auth         AuthState
	Logger       *slog.Logger

	// ConfirmDelay stands in for the missing completion endpoint.
	ConfirmDelay time.Duration
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

func (f *Flow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Flow) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Refetch reads the trip and the viewer's reservation. A missing
// reservation is not an error; it simply means no claim exists.
func (f *Flow) Refetch(ctx context.Context, tripID string) (Snapshot, error) {
	trip, err := f.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Trip: trip}

	if !f.Auth.IsAuthenticated() {
		return snap, nil
	}
	res, err := f.Reservations.ReservationForTrip(ctx, tripID, f.Auth.CurrentUserID())
	switch {
	case err == nil:
		snap.Reservation = &res
	case apierr.IsNotFound(err):
		// no reservation yet
	default:
		return Snapshot{}, err
	}
	return snap, nil
}

// View refetches and derives in one step.
func (f *Flow) View(ctx context.Context, tripID string) (Snapshot, ViewState, error) {
	snap, err := f.Refetch(ctx, tripID)
	if err != nil {
		return Snapshot{}, ViewState{}, err
	}
	return snap, Derive(snap.Trip, snap.Reservation, f.Auth.CurrentUserID(), f.now()), nil
}

// RequestReservation claims seats on the trip. Business-rule violations
// (own trip, duplicate claim, not enough seats) come back from the
// repository as Forbidden/Conflict; callers render them via UserMessage.
func (f *Flow) RequestReservation(ctx context.Context, snap Snapshot, seatCount int) (Snapshot, error) {
	if err := f.guard(snap.Trip.ID); err != nil {
		return snap, err
	}
	_, err := f.Reservations.CreateReservation(ctx, snap.Trip.ID, f.Auth.CurrentUserID(), seatCount)
	if err != nil {
		return snap, f.mapAuth(err, snap.Trip.ID)
	}
	return f.Refetch(ctx, snap.Trip.ID)
}

// CancelReservation cancels a pending or accepted reservation. Terminal
// reservations are a no-op: the panel is never offered, and a stray call
// does not hit the backend.
func (f *Flow) CancelReservation(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if err := f.guard(snap.Trip.ID); err != nil {
		return snap, err
	}
	if snap.Reservation == nil {
		return snap, apierr.NotFound("no reservation to cancel")
	}
	if snap.Reservation.Status.Terminal() {
		return snap, nil
	}
	_, err := f.Reservations.UpdateReservationStatus(ctx, snap.Reservation.ID, f.Auth.CurrentUserID(), storage.ActionCancel)
	if err != nil {
		return snap, f.mapAuth(err, snap.Trip.ID)
	}
	return f.Refetch(ctx, snap.Trip.ID)
}

// AcceptReservation is driver-only. A non-driver is rejected locally,
// before any backend call; a Forbidden from the backend is tolerated the
// same way.
func (f *Flow) AcceptReservation(ctx context.Context, snap Snapshot) (Snapshot, error) {
	return f.decide(ctx, snap, storage.ActionAccept)
}

// RejectReservation is driver-only; see AcceptReservation.
func (f *Flow) RejectReservation(ctx context.Context, snap Snapshot) (Snapshot, error) {
	return f.decide(ctx, snap, storage.ActionReject)
}

func (f *Flow) decide(ctx context.Context, snap Snapshot, action storage.StatusAction) (Snapshot, error) {
	if err := f.guard(snap.Trip.ID); err != nil {
		return snap, err
	}
	if snap.Reservation == nil {
		return snap, apierr.NotFound("no reservation to decide")
	}
	if snap.Trip.Driver.ID != f.Auth.CurrentUserID() {
		return snap, apierr.Forbidden("only the trip driver may decide a reservation")
	}
	_, err := f.Reservations.UpdateReservationStatus(ctx, snap.Reservation.ID, f.Auth.CurrentUserID(), action)
	if err != nil {
		return snap, f.mapAuth(err, snap.Trip.ID)
	}
	return f.Refetch(ctx, snap.Trip.ID)
}

// ConfirmTripCompleted acknowledges that a past, accepted trip actually
// happened.
//
// TODO: call the completion endpoint once the backend exposes one. Until
// then this waits out ConfirmDelay and refetches, changing nothing.
func (f *Flow) ConfirmTripCompleted(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if err := f.guard(snap.Trip.ID); err != nil {
		return snap, err
	}
	delay := f.ConfirmDelay
	if delay <= 0 {
		delay = time.Second
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return snap, ctx.Err()
	}
	f.log().Info("trip completion confirmed (no backend endpoint yet)", "trip_id", snap.Trip.ID)
	return f.Refetch(ctx, snap.Trip.ID)
}

// StartChat creates the trip's chat, joins it, and returns the chat ID for
// navigation. If a chat already exists the existing one is joined instead.
func (f *Flow) StartChat(ctx context.Context, snap Snapshot) (string, error) {
	if err := f.guard(snap.Trip.ID); err != nil {
		return "", err
	}
	userID := f.Auth.CurrentUserID()

	chat, err := f.Chats.CreateChat(ctx, snap.Trip.ID, userID)
	if apierr.IsConflict(err) {
		existing, ok, lerr := f.Chats.ChatForTrip(ctx, snap.Trip.ID)
		if lerr != nil {
			return "", f.mapAuth(lerr, snap.Trip.ID)
		}
		if ok {
			chat = existing
			err = nil
		}
	}
	if err != nil {
		return "", f.mapAuth(err, snap.Trip.ID)
	}

	role := models.RolePassenger
	if snap.Trip.Driver.ID == userID {
		role = models.RoleDriver
	}
	if _, err := f.Chats.AddChatMember(ctx, chat.ID, userID, role); err != nil && !apierr.IsConflict(err) {
		return "", f.mapAuth(err, snap.Trip.ID)
	}
	return chat.ID, nil
}

func (f *Flow) guard(tripID string) error {
	if !f.Auth.IsAuthenticated() {
		return &LoginRedirect{ReturnPath: "/trips/" + tripID}
	}
	return nil
}

// mapAuth converts a backend Unauthorized into a redirect intent; every
// other error passes through for UserMessage to render.
func (f *Flow) mapAuth(err error, tripID string) error {
	if apierr.IsUnauthorized(err) {
		return &LoginRedirect{ReturnPath: "/trips/" + tripID}
	}
	return err
}

// UserMessage maps an action error onto the inline message shown next to
// the acting panel. LoginRedirect never reaches here; it is handled as a
// navigation, not a message.
func UserMessage(err error, fallback string) string {
	switch apierr.KindOf(err) {
	case apierr.KindForbidden:
		return "cannot act on own trip"
	case apierr.KindConflict:
		return "insufficient seats or duplicate reservation"
	default:
		return apierr.Message(err, fallback)
	}
}
