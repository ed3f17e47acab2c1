// Package rest implements the repository contracts against a remote
// trip-reservations API. The lifecycle core runs unchanged over this client
// or over storage directly; HTTP statuses are folded into the apierr
// taxonomy so error branching stays identical.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/models"
	"github.com/example/trip-reservations/internal/storage"
)

type Client struct {
	BaseURL string
	Token   string // bearer token; carries the caller identity
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

var _ storage.Store = (*Client)(nil)

func (c *Client) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	var t models.Trip
	err := c.do(ctx, http.MethodGet, "/api/v1/trips/"+url.PathEscape(id), nil, &t)
	return t, err
}

func (c *Client) ListTrips(ctx context.Context, f storage.TripFilters) ([]models.Trip, error) {
	q := url.Values{}
	if f.Origin != "" {
		q.Set("origin", f.Origin)
	}
	if f.Destination != "" {
		q.Set("destination", f.Destination)
	}
	if !f.Date.IsZero() {
		q.Set("date", f.Date.Format("2006-01-02"))
	}
	if f.MinPrice > 0 {
		q.Set("min_price", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		q.Set("max_price", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	if f.MinSeats > 0 {
		q.Set("min_seats", strconv.Itoa(f.MinSeats))
	}
	if f.AvailableOnly {
		q.Set("available_only", "true")
	}
	if f.Sort != "" {
		q.Set("sort", string(f.Sort))
	}
	path := "/api/v1/trips"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var trips []models.Trip
	err := c.do(ctx, http.MethodGet, path, nil, &trips)
	return trips, err
}

func (c *Client) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	var out models.Trip
	err := c.do(ctx, http.MethodPost, "/api/v1/trips", t, &out)
	return out, err
}

// CreateReservation ignores userID: the backend resolves the caller from
// the bearer token. The parameter exists to satisfy the shared contract.
func (c *Client) CreateReservation(ctx context.Context, tripID, userID string, seatCount int) (models.Reservation, error) {
	body := map[string]any{"trip_id": tripID, "seat_count": seatCount}
	var out models.Reservation
	err := c.do(ctx, http.MethodPost, "/api/v1/reservations", body, &out)
	return out, err
}

func (c *Client) UpdateReservationStatus(ctx context.Context, id, actorID string, action storage.StatusAction) (models.Reservation, error) {
	body := map[string]any{"action": action}
	var out models.Reservation
	err := c.do(ctx, http.MethodPatch, "/api/v1/reservations/"+url.PathEscape(id), body, &out)
	return out, err
}

func (c *Client) ReservationForTrip(ctx context.Context, tripID, userID string) (models.Reservation, error) {
	var out models.Reservation
	err := c.do(ctx, http.MethodGet, "/api/v1/trips/"+url.PathEscape(tripID)+"/reservation", nil, &out)
	return out, err
}

func (c *Client) ReservationsForUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := c.do(ctx, http.MethodGet, "/api/v1/reservations/mine", nil, &out)
	return out, err
}

func (c *Client) CreateChat(ctx context.Context, tripID, creatorID string) (models.Chat, error) {
	body := map[string]any{"trip_id": tripID}
	var out models.Chat
	err := c.do(ctx, http.MethodPost, "/api/v1/chats", body, &out)
	return out, err
}

func (c *Client) AddChatMember(ctx context.Context, chatID, userID string, role models.MemberRole) (models.ChatMember, error) {
	body := map[string]any{"user_id": userID, "role": role}
	var out models.ChatMember
	err := c.do(ctx, http.MethodPost, "/api/v1/chats/"+url.PathEscape(chatID)+"/members", body, &out)
	return out, err
}

func (c *Client) ChatForTrip(ctx context.Context, tripID string) (models.Chat, bool, error) {
	var out struct {
		Exists bool        `json:"exists"`
		Chat   models.Chat `json:"chat"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/chats/trip/"+url.PathEscape(tripID), nil, &out)
	if err != nil {
		return models.Chat{}, false, err
	}
	return out.Chat, out.Exists, nil
}

func (c *Client) ChatMessages(ctx context.Context, chatID string) (models.Chat, error) {
	var out models.Chat
	err := c.do(ctx, http.MethodGet, "/api/v1/chats/"+url.PathEscape(chatID)+"/messages", nil, &out)
	return out, err
}

func (c *Client) PostMessage(ctx context.Context, chatID, senderID, content string, typ models.MessageType, metadata map[string]any) (models.Chat, error) {
	body := map[string]any{"content": content, "type": typ, "metadata": metadata}
	var out models.Chat
	err := c.do(ctx, http.MethodPost, "/api/v1/chats/"+url.PathEscape(chatID)+"/messages", body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apierr.Generic(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		msg := payload.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return apierr.FromStatus(resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
