package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/models"
	"github.com/example/trip-reservations/internal/storage"
)

type fakeTrips struct {
	trip models.Trip
	gets int
}

func (f *fakeTrips) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	f.gets++
	return f.trip, nil
}
func (f *fakeTrips) ListTrips(ctx context.Context, _ storage.TripFilters) ([]models.Trip, error) {
	return []models.Trip{f.trip}, nil
}
func (f *fakeTrips) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	return t, nil
}

type fakeReservations struct {
	current    *models.Reservation
	createErr  error
	updateErr  error
	creates    int
	updates    int
	lastAction storage.StatusAction
}

func (f *fakeReservations) CreateReservation(ctx context.Context, tripID, userID string, seatCount int) (models.Reservation, error) {
	f.creates++
	if f.createErr != nil {
		return models.Reservation{}, f.createErr
	}
	res := models.Reservation{ID: "r1", TripID: tripID, UserID: userID, SeatCount: seatCount, Status: models.ReservationPending}
	f.current = &res
	return res, nil
}

func (f *fakeReservations) UpdateReservationStatus(ctx context.Context, id, actorID string, action storage.StatusAction) (models.Reservation, error) {
	f.updates++
	f.lastAction = action
	if f.updateErr != nil {
		return models.Reservation{}, f.updateErr
	}
	res := *f.current
	switch action {
	case storage.ActionAccept:
		res.Status = models.ReservationAccepted
	case storage.ActionReject:
		res.Status = models.ReservationRejected
	case storage.ActionCancel:
		res.Status = models.ReservationCancelled
	}
	f.current = &res
	return res, nil
}

func (f *fakeReservations) ReservationForTrip(ctx context.Context, tripID, userID string) (models.Reservation, error) {
	if f.current == nil || f.current.TripID != tripID {
		return models.Reservation{}, apierr.NotFound("no reservation for this trip")
	}
	return *f.current, nil
}

func (f *fakeReservations) ReservationsForUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	if f.current == nil {
		return nil, nil
	}
	return []models.Reservation{*f.current}, nil
}

type fakeChats struct {
	chat      models.Chat
	createErr error
	members   []models.ChatMember
	creates   int
}

func (f *fakeChats) CreateChat(ctx context.Context, tripID, creatorID string) (models.Chat, error) {
	f.creates++
	if f.createErr != nil {
		return models.Chat{}, f.createErr
	}
	f.chat = models.Chat{ID: "c1", TripID: tripID, Status: models.ChatPending}
	return f.chat, nil
}
func (f *fakeChats) AddChatMember(ctx context.Context, chatID, userID string, role models.MemberRole) (models.ChatMember, error) {
	m := models.ChatMember{ID: "m1", ChatID: chatID, UserID: userID, Role: role}
	f.members = append(f.members, m)
	return m, nil
}
func (f *fakeChats) ChatForTrip(ctx context.Context, tripID string) (models.Chat, bool, error) {
	if f.chat.ID == "" {
		return models.Chat{}, false, nil
	}
	return f.chat, true, nil
}
func (f *fakeChats) ChatMessages(ctx context.Context, chatID string) (models.Chat, error) {
	return f.chat, nil
}
func (f *fakeChats) PostMessage(ctx context.Context, chatID, senderID, content string, typ models.MessageType, metadata map[string]any) (models.Chat, error) {
	return f.chat, nil
}

func newFlow(viewer string, trip models.Trip, res *models.Reservation) (*Flow, *fakeTrips, *fakeReservations, *fakeChats) {
	ft := &fakeTrips{trip: trip}
	fr := &fakeReservations{current: res}
	fc := &fakeChats{}
	f := &Flow{
		Trips:        ft,
		Reservations: fr,
		Chats:        fc,
		Auth:         StaticAuth{UserID: viewer},
		ConfirmDelay: time.Millisecond,
		Now:          func() time.Time { return now },
	}
	return f, ft, fr, fc
}

func TestRequestReservationRequiresLogin(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	f, _, fr, _ := newFlow("", trip, nil)

	_, err := f.RequestReservation(context.Background(), Snapshot{Trip: trip}, 1)
	var redirect *LoginRedirect
	if !errors.As(err, &redirect) {
		t.Fatalf("expected LoginRedirect, got %v", err)
	}
	if redirect.ReturnPath != "/trips/t1" {
		t.Fatalf("unexpected return path %q", redirect.ReturnPath)
	}
	if fr.creates != 0 {
		t.Fatal("unauthenticated request must not reach the backend")
	}
}

func TestRequestReservationSuccessRefetchesAndShowsPending(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	f, ft, _, _ := newFlow("p1", trip, nil)

	snap, err := f.RequestReservation(context.Background(), Snapshot{Trip: trip}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ft.gets == 0 {
		t.Fatal("expected a trip refetch after the write")
	}
	if snap.Reservation == nil || snap.Reservation.Status != models.ReservationPending {
		t.Fatalf("expected pending reservation, got %+v", snap.Reservation)
	}
	s := Derive(snap.Trip, snap.Reservation, "p1", now)
	if !s.IsPending || s.Panel == PanelRequest {
		t.Fatalf("post-request state must hide request panel: %+v", s)
	}
}

func TestRequestReservationConflictMessage(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	f, _, fr, _ := newFlow("p1", trip, nil)
	fr.createErr = apierr.Conflict("not enough available seats")

	_, err := f.RequestReservation(context.Background(), Snapshot{Trip: trip}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := UserMessage(err, "fallback"); got != "insufficient seats or duplicate reservation" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRequestReservationForbiddenMessage(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	f, _, fr, _ := newFlow("d1", trip, nil)
	fr.createErr = apierr.Forbidden("cannot reserve a seat on your own trip")

	_, err := f.RequestReservation(context.Background(), Snapshot{Trip: trip}, 1)
	if got := UserMessage(err, "fallback"); got != "cannot act on own trip" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestBackendUnauthorizedBecomesRedirect(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	f, _, fr, _ := newFlow("p1", trip, nil)
	fr.createErr = apierr.Unauthorized("session expired")

	_, err := f.RequestReservation(context.Background(), Snapshot{Trip: trip}, 1)
	var redirect *LoginRedirect
	if !errors.As(err, &redirect) {
		t.Fatalf("expected LoginRedirect, got %v", err)
	}
}

func TestAcceptByNonDriverRejectedLocally(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationPending)
	f, _, fr, _ := newFlow("p1", trip, res)

	_, err := f.AcceptReservation(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if !apierr.IsForbidden(err) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if fr.updates != 0 {
		t.Fatal("non-driver accept must not make a network call")
	}
}

func TestAcceptByDriver(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationPending)
	f, _, fr, _ := newFlow("d1", trip, res)

	snap, err := f.AcceptReservation(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fr.lastAction != storage.ActionAccept {
		t.Fatalf("unexpected action %s", fr.lastAction)
	}
	s := Derive(snap.Trip, snap.Reservation, "d1", now)
	if !s.IsAccepted {
		t.Fatalf("expected accepted state, got %+v", s)
	}
}

func TestRejectByDriver(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationPending)
	f, _, fr, _ := newFlow("d1", trip, res)

	snap, err := f.RejectReservation(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fr.lastAction != storage.ActionReject {
		t.Fatalf("unexpected action %s", fr.lastAction)
	}
	if snap.Reservation.Status != models.ReservationRejected {
		t.Fatalf("expected rejected, got %s", snap.Reservation.Status)
	}
}

func TestCancelTerminalReservationIsNoOp(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	for _, st := range []models.ReservationStatus{models.ReservationRejected, models.ReservationCancelled} {
		res := mkRes("p1", st)
		f, _, fr, _ := newFlow("p1", trip, res)

		snap, err := f.CancelReservation(context.Background(), Snapshot{Trip: trip, Reservation: res})
		if err != nil {
			t.Fatalf("status=%s: unexpected error: %v", st, err)
		}
		if fr.updates != 0 {
			t.Fatalf("status=%s: terminal cancel must not call the backend", st)
		}
		if snap.Reservation.Status != st {
			t.Fatalf("status=%s: snapshot must be unchanged", st)
		}
	}
}

func TestCancelPendingByRequester(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationPending)
	f, _, fr, _ := newFlow("p1", trip, res)

	snap, err := f.CancelReservation(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fr.lastAction != storage.ActionCancel {
		t.Fatalf("unexpected action %s", fr.lastAction)
	}
	if snap.Reservation.Status != models.ReservationCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Reservation.Status)
	}
}

func TestConfirmTripCompletedWaitsAndRefetches(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(-time.Hour))
	res := mkRes("p1", models.ReservationAccepted)
	f, ft, _, _ := newFlow("p1", trip, res)
	f.ConfirmDelay = 10 * time.Millisecond

	start := time.Now()
	_, err := f.ConfirmTripCompleted(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected the stub delay to elapse")
	}
	if ft.gets == 0 {
		t.Fatal("expected a refetch after confirmation")
	}
}

func TestStartChatJoinsAsPassenger(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationAccepted)
	f, _, _, fc := newFlow("p1", trip, res)

	chatID, err := f.StartChat(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatID != "c1" {
		t.Fatalf("unexpected chat id %q", chatID)
	}
	if len(fc.members) != 1 || fc.members[0].Role != models.RolePassenger {
		t.Fatalf("expected one passenger member, got %+v", fc.members)
	}
}

func TestStartChatDriverGetsDriverRole(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationAccepted)
	f, _, _, fc := newFlow("d1", trip, res)

	if _, err := f.StartChat(context.Background(), Snapshot{Trip: trip, Reservation: res}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.members) != 1 || fc.members[0].Role != models.RoleDriver {
		t.Fatalf("expected driver member, got %+v", fc.members)
	}
}

func TestStartChatReusesExistingOnConflict(t *testing.T) {
	trip := mkTrip("d1", 2, now.Add(time.Hour))
	res := mkRes("p1", models.ReservationAccepted)
	f, _, _, fc := newFlow("p1", trip, res)
	fc.chat = models.Chat{ID: "existing", TripID: "t1", Status: models.ChatAccepted}
	fc.createErr = apierr.Conflict("chat already exists for this trip")

	chatID, err := f.StartChat(context.Background(), Snapshot{Trip: trip, Reservation: res})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatID != "existing" {
		t.Fatalf("expected the existing chat, got %q", chatID)
	}
}
