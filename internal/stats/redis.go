package stats

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-reservations/internal/events"
)

// Stats are per-trip reservation counters materialized by the consumer.
type Stats struct {
	Requested int64 `json:"requested"`
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
	Cancelled int64 `json:"cancelled"`
}

// RedisStore reads and writes the counters. The consumer applies events;
// the API serves reads.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

// Apply increments the counter for the event's transition.
func (s *RedisStore) Apply(ctx context.Context, ev events.ReservationEvent) error {
	field := fieldFor(ev.Type)
	if field == "" {
		return nil
	}
	return s.client.HIncrBy(ctx, statsKey(ev.TripID), field, 1).Err()
}

func (s *RedisStore) TripStats(ctx context.Context, tripID string) (Stats, error) {
	m, err := s.client.HGetAll(ctx, statsKey(tripID)).Result()
	if err != nil {
		return Stats{}, err
	}
	parse := func(field string) int64 {
		v, _ := strconv.ParseInt(m[field], 10, 64)
		return v
	}
	return Stats{
		Requested: parse("requested"),
		Accepted:  parse("accepted"),
		Rejected:  parse("rejected"),
		Cancelled: parse("cancelled"),
	}, nil
}

func fieldFor(eventType string) string {
	switch eventType {
	case events.TypeRequested:
		return "requested"
	case events.TypeAccepted:
		return "accepted"
	case events.TypeRejected:
		return "rejected"
	case events.TypeCancelled:
		return "cancelled"
	default:
		return ""
	}
}

func statsKey(tripID string) string { return "trip:stats:" + tripID }
