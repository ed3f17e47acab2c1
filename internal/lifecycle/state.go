package lifecycle

import (
	"time"

	"github.com/example/trip-reservations/internal/models"
)

// Panel names the single primary action surface a viewer is offered for a
// given trip/reservation pair. At most one panel is ever eligible.
type Panel string

const (
	PanelNone              Panel = "none"
	PanelFullNotice        Panel = "full_notice"
	PanelRequest           Panel = "request"
	PanelCancel            Panel = "cancel"
	PanelAcceptReject      Panel = "accept_reject"
	PanelConfirmCompletion Panel = "confirm_completion"
)

// ViewState is the deterministic read-only view of what actions are valid
// for a viewer. Derive is the only producer.
type ViewState struct {
	IsDriver       bool `json:"is_driver"`
	IsPassenger    bool `json:"is_passenger"`
	HasReservation bool `json:"has_reservation"`

	IsPending   bool `json:"is_pending"`
	IsAccepted  bool `json:"is_accepted"`
	IsRejected  bool `json:"is_rejected"`
	IsCancelled bool `json:"is_cancelled"`

	IsTripPast bool `json:"is_trip_past"`
	IsTripFull bool `json:"is_trip_full"`
	// IsTripCompleted stays false until the backend grows a completion
	// field; the confirm panel keys off departure time instead.
	IsTripCompleted bool `json:"is_trip_completed"`

	CanChat bool  `json:"can_chat"`
	Panel   Panel `json:"panel"`
}

// Derive computes the ViewState for a viewer. Pure and total: any trip,
// any reservation (including nil), any viewer, never panics.
func Derive(trip models.Trip, res *models.Reservation, viewerID string, now time.Time) ViewState {
	s := ViewState{
		IsDriver:       viewerID != "" && trip.Driver.ID == viewerID,
		IsPassenger:    res != nil && viewerID != "" && res.UserID == viewerID,
		HasReservation: res != nil,
		IsTripPast:     trip.DepartureDateTime.Before(now),
		IsTripFull:     trip.IsFull(),
	}
	if res != nil {
		s.IsPending = res.Status == models.ReservationPending
		s.IsAccepted = res.Status == models.ReservationAccepted
		s.IsRejected = res.Status == models.ReservationRejected
		s.IsCancelled = res.Status == models.ReservationCancelled
	}

	s.CanChat = s.IsAccepted && (s.IsDriver || s.IsPassenger)
	s.Panel = derivePanel(s)
	return s
}

func derivePanel(s ViewState) Panel {
	if !s.HasReservation {
		switch {
		case s.IsTripFull:
			return PanelFullNotice
		case s.IsDriver:
			// no action on one's own trip
			return PanelNone
		default:
			return PanelRequest
		}
	}

	// a reservation exists; only the driver and the requester get panels
	if !s.IsDriver && !s.IsPassenger {
		return PanelNone
	}

	switch {
	case s.IsPending && s.IsDriver:
		return PanelAcceptReject
	case s.IsPending:
		return PanelCancel
	case s.IsAccepted && !s.IsTripPast:
		return PanelCancel
	case s.IsAccepted && s.IsTripPast && !s.IsTripCompleted:
		return PanelConfirmCompletion
	default:
		// rejected or cancelled: terminal, nothing to offer
		return PanelNone
	}
}
