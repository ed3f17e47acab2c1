package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-reservations/internal/models"
)

// Event types emitted on reservation transitions.
const (
	TypeRequested = "reservation.requested"
	TypeAccepted  = "reservation.accepted"
	TypeRejected  = "reservation.rejected"
	TypeCancelled = "reservation.cancelled"
)

type ReservationEvent struct {
	Type          string                   `json:"type"`
	ReservationID string                   `json:"reservation_id"`
	TripID        string                   `json:"trip_id"`
	ActorID       string                   `json:"actor_id"`
	Status        models.ReservationStatus `json:"status"`
	SeatCount     int                      `json:"seat_count"`
	At            time.Time                `json:"at"`
}

// FromReservation builds the event for a reservation's current status.
func FromReservation(r models.Reservation, actorID string) ReservationEvent {
	ev := ReservationEvent{
		ReservationID: r.ID,
		TripID:        r.TripID,
		ActorID:       actorID,
		Status:        r.Status,
		SeatCount:     r.SeatCount,
		At:            r.UpdatedAt,
	}
	switch r.Status {
	case models.ReservationAccepted:
		ev.Type = TypeAccepted
	case models.ReservationRejected:
		ev.Type = TypeRejected
	case models.ReservationCancelled:
		ev.Type = TypeCancelled
	default:
		ev.Type = TypeRequested
	}
	return ev
}

// Sink is what the HTTP layer publishes transitions through. The kafka
// producer is the production implementation; publishing is best-effort.
type Sink interface {
	PublishReservation(ev ReservationEvent) error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishReservation(ev ReservationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.TripID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
