package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/httpapi"
	"github.com/example/trip-reservations/internal/models"
	"github.com/example/trip-reservations/internal/storage"
)

// The client is tested against the real API server so both sides of the
// wire contract are exercised together.
func newBackend(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := httptest.NewServer(httpapi.NewServer(logger, store, nil, nil))
	t.Cleanup(srv.Close)
	return srv, store
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func seedTrip(t *testing.T, srv *httptest.Server, driverID string, seats int) models.Trip {
	t.Helper()
	c := NewClient(srv.URL, driverID)
	trip, err := c.CreateTrip(context.Background(), models.Trip{
		Origin:            "Ankara",
		Destination:       "Istanbul",
		DepartureDateTime: time.Now().Add(24 * time.Hour),
		Price:             350,
		TotalSeats:        seats,
		Driver:            models.Driver{ID: driverID, Name: "Deniz", Rating: 4.8},
	})
	if err != nil {
		t.Fatalf("seed trip: %v", err)
	}
	return trip
}

func TestClientRoundTripsReservationLifecycle(t *testing.T) {
	srv, _ := newBackend(t)
	trip := seedTrip(t, srv, "d1", 4)
	ctx := context.Background()

	passenger := NewClient(srv.URL, "p1")
	res, err := passenger.CreateReservation(ctx, trip.ID, "p1", 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != models.ReservationPending {
		t.Fatalf("status %s, want PENDING", res.Status)
	}

	got, err := passenger.ReservationForTrip(ctx, trip.ID, "p1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != res.ID {
		t.Fatalf("lookup returned %s, want %s", got.ID, res.ID)
	}

	driver := NewClient(srv.URL, "d1")
	accepted, err := driver.UpdateReservationStatus(ctx, res.ID, "d1", storage.ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.ReservationAccepted {
		t.Fatalf("status %s, want ACCEPTED", accepted.Status)
	}

	fresh, err := passenger.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if fresh.AvailableSeats != 2 {
		t.Fatalf("available=%d, want 2", fresh.AvailableSeats)
	}
}

func TestClientMapsErrorKinds(t *testing.T) {
	srv, _ := newBackend(t)
	trip := seedTrip(t, srv, "d1", 1)
	ctx := context.Background()

	// no token: unauthorized
	anon := NewClient(srv.URL, "")
	_, err := anon.CreateReservation(ctx, trip.ID, "", 1)
	if !apierr.IsUnauthorized(err) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	// own trip: forbidden, message preserved
	driver := NewClient(srv.URL, "d1")
	_, err = driver.CreateReservation(ctx, trip.ID, "d1", 1)
	if !apierr.IsForbidden(err) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if apierr.Message(err, "") == "" {
		t.Fatal("backend message was lost")
	}

	// too many seats: conflict
	p := NewClient(srv.URL, "p1")
	if _, err := p.CreateReservation(ctx, trip.ID, "p1", 5); !apierr.IsConflict(err) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	// unknown trip: not found
	if _, err := p.GetTrip(ctx, "no-such-trip"); !apierr.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestClientNetworkFailureIsGeneric(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "p1")
	c.HTTP = &http.Client{Timeout: 200 * time.Millisecond}

	_, err := c.GetTrip(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error")
	}
	if apierr.KindOf(err) != apierr.KindGeneric {
		t.Fatalf("expected a generic error, got %v", err)
	}
	var e *apierr.Error
	if !errors.As(err, &e) || e.Status != 0 {
		t.Fatalf("network failures must carry no HTTP status: %+v", e)
	}
}

func TestClientBuildsListQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]models.Trip{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "p1")
	_, err := c.ListTrips(context.Background(), storage.TripFilters{
		Origin:        "Ankara",
		Date:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		MaxPrice:      400,
		MinSeats:      2,
		AvailableOnly: true,
		Sort:          storage.SortPriceAsc,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatalf("parse query %q: %v", gotQuery, err)
	}
	want := map[string]string{
		"origin":         "Ankara",
		"date":           "2026-04-01",
		"max_price":      "400",
		"min_seats":      "2",
		"available_only": "true",
		"sort":           "price_asc",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s=%q, want %q", k, q.Get(k), v)
		}
	}
	if q.Has("min_price") {
		t.Error("zero min_price must be omitted")
	}
}

func TestClientChatFlow(t *testing.T) {
	srv, _ := newBackend(t)
	trip := seedTrip(t, srv, "d1", 2)
	ctx := context.Background()

	p := NewClient(srv.URL, "p1")
	_, exists, err := p.ChatForTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if exists {
		t.Fatal("expected no chat yet")
	}

	chat, err := p.CreateChat(ctx, trip.ID, "p1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := p.AddChatMember(ctx, chat.ID, "p1", models.RolePassenger); err != nil {
		t.Fatalf("join: %v", err)
	}

	d := NewClient(srv.URL, "d1")
	if _, err := d.AddChatMember(ctx, chat.ID, "d1", models.RoleDriver); err != nil {
		t.Fatalf("driver join: %v", err)
	}

	updated, err := p.PostMessage(ctx, chat.ID, "p1", "see you there", models.MessageText, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if updated.Status != models.ChatAccepted || len(updated.Messages) != 1 {
		t.Fatalf("unexpected chat %+v", updated)
	}

	fetched, err := p.ChatMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(fetched.Messages) != 1 || fetched.Messages[0].Content != "see you there" {
		t.Fatalf("unexpected messages %+v", fetched.Messages)
	}
}
