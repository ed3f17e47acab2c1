package events

import (
	"testing"
	"time"

	"github.com/example/trip-reservations/internal/models"
)

func TestFromReservationTypeMapping(t *testing.T) {
	cases := []struct {
		status models.ReservationStatus
		want   string
	}{
		{models.ReservationPending, TypeRequested},
		{models.ReservationAccepted, TypeAccepted},
		{models.ReservationRejected, TypeRejected},
		{models.ReservationCancelled, TypeCancelled},
	}
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		r := models.Reservation{ID: "r1", TripID: "t1", UserID: "p1", SeatCount: 2, Status: tc.status, UpdatedAt: at}
		ev := FromReservation(r, "actor")
		if ev.Type != tc.want {
			t.Errorf("status=%s: type %q, want %q", tc.status, ev.Type, tc.want)
		}
		if ev.TripID != "t1" || ev.ReservationID != "r1" || ev.ActorID != "actor" || ev.SeatCount != 2 || !ev.At.Equal(at) {
			t.Errorf("status=%s: fields not carried over: %+v", tc.status, ev)
		}
	}
}
