// The stats consumer materializes reservation lifecycle events into Redis
// so the API can serve per-trip counters without touching the primary
// store.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/trip-reservations/internal/config"
	"github.com/example/trip-reservations/internal/events"
	"github.com/example/trip-reservations/internal/logging"
	"github.com/example/trip-reservations/internal/stats"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total reservation events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	statsUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_stats_updates_total",
		Help: "Total successful stats updates",
	})
	statsErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_stats_errors_total",
		Help: "Total stats update errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, statsUpdates, statsErrors)
}

// StatsApplier is the small subset of stats operations we need, kept as an
// interface for tests.
type StatsApplier interface {
	Apply(ctx context.Context, ev events.ReservationEvent) error
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("trip-reservations-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store := stats.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	defer store.Close()

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var ev events.ReservationEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}

		if err := applyWithRetry(ctx, store, ev, 3, 200*time.Millisecond); err != nil {
			statsErrors.Inc()
			logger.Warn("stats update failed", "trip_id", ev.TripID, "error", err)
			continue
		}
		statsUpdates.Inc()
	}
}

// applyWithRetry applies an event with bounded retries and exponential
// backoff.
func applyWithRetry(ctx context.Context, st StatsApplier, ev events.ReservationEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = st.Apply(ctx, ev); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
