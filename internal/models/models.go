package models

import "time"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationAccepted  ReservationStatus = "ACCEPTED"
	ReservationRejected  ReservationStatus = "REJECTED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationRejected || s == ReservationCancelled
}

type ChatStatus string

const (
	ChatPending  ChatStatus = "PENDING"
	ChatAccepted ChatStatus = "ACCEPTED"
	ChatRejected ChatStatus = "REJECTED"
)

type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageImage    MessageType = "IMAGE"
	MessageLocation MessageType = "LOCATION"
)

type MemberRole string

const (
	RoleDriver    MemberRole = "DRIVER"
	RolePassenger MemberRole = "PASSENGER"
)

type Vehicle struct {
	VehicleType string `json:"vehicle_type"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Seats       int    `json:"seats"`
}

type Driver struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Rating     float64  `json:"rating"` // 0..5
	IsVerified bool     `json:"is_verified"`
	Vehicle    *Vehicle `json:"vehicle,omitempty"`
}

type Trip struct {
	ID                string    `json:"id"`
	Origin            string    `json:"origin"`
	Destination       string    `json:"destination"`
	DepartureDateTime time.Time `json:"departure_date_time"`
	Price             float64   `json:"price"`
	TotalSeats        int       `json:"total_seats"`
	AvailableSeats    int       `json:"available_seats"`
	Description       string    `json:"description,omitempty"`
	Driver            Driver    `json:"driver"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsFull holds exactly when no seats remain. Seat availability is
// server-computed; callers never derive it from reservations.
func (t Trip) IsFull() bool { return t.AvailableSeats == 0 }

type Reservation struct {
	ID        string            `json:"id"`
	TripID    string            `json:"trip_id"`
	UserID    string            `json:"user_id"`
	SeatCount int               `json:"seat_count"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type Message struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	SenderID  string         `json:"sender_id"`
	Type      MessageType    `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ChatMember struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	UserID    string     `json:"user_id"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

type Chat struct {
	ID        string       `json:"id"`
	TripID    string       `json:"trip_id"`
	Status    ChatStatus   `json:"status"`
	Members   []ChatMember `json:"members,omitempty"`
	Messages  []Message    `json:"messages,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
