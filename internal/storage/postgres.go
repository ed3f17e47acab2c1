package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/trip-reservations/internal/apierr"
	"github.com/example/trip-reservations/internal/models"
)

// PostgresStore is the production Store. Seat accounting and the
// one-active-reservation invariant are enforced inside transactions; the
// partial unique index on reservations backs the duplicate check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const tripColumns = `id, origin, destination, departure_at, price, total_seats, available_seats, description,
	driver_id, driver_name, driver_rating, driver_verified, vehicle_type, vehicle_brand, vehicle_model, vehicle_seats, created_at`

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

func (p *PostgresStore) ListTrips(ctx context.Context, f TripFilters) ([]models.Trip, error) {
	q := `SELECT ` + tripColumns + ` FROM trips WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Origin != "" {
		q += ` AND lower(origin)=lower(` + arg(f.Origin) + `)`
	}
	if f.Destination != "" {
		q += ` AND lower(destination)=lower(` + arg(f.Destination) + `)`
	}
	if !f.Date.IsZero() {
		q += ` AND departure_at::date=` + arg(f.Date.Format("2006-01-02")) + `::date`
	}
	if f.MinPrice > 0 {
		q += ` AND price>=` + arg(f.MinPrice)
	}
	if f.MaxPrice > 0 {
		q += ` AND price<=` + arg(f.MaxPrice)
	}
	if f.MinSeats > 0 {
		q += ` AND available_seats>=` + arg(f.MinSeats)
	}
	if f.AvailableOnly {
		q += ` AND available_seats>0`
	}
	switch f.Sort {
	case SortDateDesc:
		q += ` ORDER BY departure_at DESC`
	case SortPriceAsc:
		q += ` ORDER BY price ASC`
	case SortPriceDesc:
		q += ` ORDER BY price DESC`
	case SortRatingDesc:
		q += ` ORDER BY driver_rating DESC`
	default:
		q += ` ORDER BY departure_at ASC`
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	if t.Driver.ID == "" {
		return models.Trip{}, apierr.Invalid("trip driver is required")
	}
	if t.TotalSeats < 1 {
		return models.Trip{}, apierr.Invalid("trip must offer at least one seat")
	}
	if !t.DepartureDateTime.After(time.Now()) {
		return models.Trip{}, apierr.Invalid("departure must be in the future")
	}
	t.ID = uuid.NewString()
	t.AvailableSeats = t.TotalSeats
	t.CreatedAt = time.Now()

	var vt, vb, vm any
	var vs any
	if v := t.Driver.Vehicle; v != nil {
		vt, vb, vm, vs = v.VehicleType, v.Brand, v.Model, v.Seats
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.Origin, t.Destination, t.DepartureDateTime, t.Price, t.TotalSeats, t.AvailableSeats, t.Description,
		t.Driver.ID, t.Driver.Name, t.Driver.Rating, t.Driver.IsVerified, vt, vb, vm, vs, t.CreatedAt)
	if err != nil {
		return models.Trip{}, err
	}
	return t, nil
}

func (p *PostgresStore) CreateReservation(ctx context.Context, tripID, userID string, seatCount int) (models.Reservation, error) {
	if seatCount < 1 {
		return models.Reservation{}, apierr.Invalid("seat count must be at least 1")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Reservation{}, err
	}
	defer tx.Rollback()

	var driverID string
	var departure time.Time
	var available int
	err = tx.QueryRowContext(ctx,
		`SELECT driver_id, departure_at, available_seats FROM trips WHERE id=$1 FOR UPDATE`, tripID).
		Scan(&driverID, &departure, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, apierr.NotFound("trip not found")
	}
	if err != nil {
		return models.Reservation{}, err
	}
	if driverID == userID {
		return models.Reservation{}, apierr.Forbidden("cannot reserve a seat on your own trip")
	}
	if departure.Before(time.Now()) {
		return models.Reservation{}, apierr.Conflict("trip already departed")
	}
	if seatCount > available {
		return models.Reservation{}, apierr.Conflict("not enough available seats")
	}

	now := time.Now()
	res := models.Reservation{
		ID:        uuid.NewString(),
		TripID:    tripID,
		UserID:    userID,
		SeatCount: seatCount,
		Status:    models.ReservationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations(id, trip_id, user_id, seat_count, status, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.TripID, res.UserID, res.SeatCount, res.Status, res.CreatedAt, res.UpdatedAt)
	if isUniqueViolation(err) {
		return models.Reservation{}, apierr.Conflict("a reservation for this trip already exists")
	}
	if err != nil {
		return models.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

func (p *PostgresStore) UpdateReservationStatus(ctx context.Context, id, actorID string, action StatusAction) (models.Reservation, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Reservation{}, err
	}
	defer tx.Rollback()

	var res models.Reservation
	err = tx.QueryRowContext(ctx,
		`SELECT id, trip_id, user_id, seat_count, status, created_at, updated_at
		 FROM reservations WHERE id=$1 FOR UPDATE`, id).
		Scan(&res.ID, &res.TripID, &res.UserID, &res.SeatCount, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, apierr.NotFound("reservation not found")
	}
	if err != nil {
		return models.Reservation{}, err
	}

	var driverID string
	var departure time.Time
	var available int
	if err := tx.QueryRowContext(ctx,
		`SELECT driver_id, departure_at, available_seats FROM trips WHERE id=$1 FOR UPDATE`, res.TripID).
		Scan(&driverID, &departure, &available); err != nil {
		return models.Reservation{}, err
	}
	if res.Status.Terminal() {
		return models.Reservation{}, apierr.Conflict("reservation already finalized")
	}

	seatDelta := 0
	switch action {
	case ActionAccept, ActionReject:
		if actorID != driverID {
			return models.Reservation{}, apierr.Forbidden("only the trip driver may decide a reservation")
		}
		if res.Status != models.ReservationPending {
			return models.Reservation{}, apierr.Conflict("reservation is not pending")
		}
		if action == ActionAccept {
			if res.SeatCount > available {
				return models.Reservation{}, apierr.Conflict("not enough available seats")
			}
			seatDelta = -res.SeatCount
			res.Status = models.ReservationAccepted
		} else {
			res.Status = models.ReservationRejected
		}
	case ActionCancel:
		if actorID != res.UserID && actorID != driverID {
			return models.Reservation{}, apierr.Forbidden("only the passenger or the driver may cancel")
		}
		if departure.Before(time.Now()) {
			return models.Reservation{}, apierr.Conflict("trip already departed")
		}
		if res.Status == models.ReservationAccepted {
			seatDelta = res.SeatCount
		}
		res.Status = models.ReservationCancelled
	default:
		return models.Reservation{}, apierr.Invalid("unknown reservation action")
	}

	res.UpdatedAt = time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status=$1, updated_at=$2 WHERE id=$3`,
		res.Status, res.UpdatedAt, res.ID); err != nil {
		return models.Reservation{}, err
	}
	if seatDelta != 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE trips SET available_seats=LEAST(total_seats, available_seats+$1) WHERE id=$2`,
			seatDelta, res.TripID); err != nil {
			return models.Reservation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

func (p *PostgresStore) ReservationForTrip(ctx context.Context, tripID, userID string) (models.Reservation, error) {
	var res models.Reservation
	err := p.db.QueryRowContext(ctx,
		`SELECT id, trip_id, user_id, seat_count, status, created_at, updated_at
		 FROM reservations WHERE trip_id=$1 AND user_id=$2
		 ORDER BY (status NOT IN ('REJECTED','CANCELLED')) DESC, updated_at DESC LIMIT 1`,
		tripID, userID).
		Scan(&res.ID, &res.TripID, &res.UserID, &res.SeatCount, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, apierr.NotFound("no reservation for this trip")
	}
	if err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

func (p *PostgresStore) ReservationsForUser(ctx context.Context, userID string) ([]models.Reservation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, trip_id, user_id, seat_count, status, created_at, updated_at
		 FROM reservations WHERE user_id=$1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Reservation
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.ID, &r.TripID, &r.UserID, &r.SeatCount, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateChat(ctx context.Context, tripID, creatorID string) (models.Chat, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trips WHERE id=$1)`, tripID).Scan(&exists); err != nil {
		return models.Chat{}, err
	}
	if !exists {
		return models.Chat{}, apierr.NotFound("trip not found")
	}

	now := time.Now()
	chat := models.Chat{
		ID:        uuid.NewString(),
		TripID:    tripID,
		Status:    models.ChatPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO chats(id, trip_id, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5)`,
		chat.ID, chat.TripID, chat.Status, chat.CreatedAt, chat.UpdatedAt)
	if isUniqueViolation(err) {
		return models.Chat{}, apierr.Conflict("chat already exists for this trip")
	}
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (p *PostgresStore) AddChatMember(ctx context.Context, chatID, userID string, role models.MemberRole) (models.ChatMember, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ChatMember{}, err
	}
	defer tx.Rollback()

	var status models.ChatStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM chats WHERE id=$1 FOR UPDATE`, chatID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatMember{}, apierr.NotFound("chat not found")
	}
	if err != nil {
		return models.ChatMember{}, err
	}

	member := models.ChatMember{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_members(id, chat_id, user_id, role, created_at) VALUES($1,$2,$3,$4,$5)`,
		member.ID, member.ChatID, member.UserID, member.Role, member.CreatedAt)
	if isUniqueViolation(err) {
		return models.ChatMember{}, apierr.Conflict("already a chat member")
	}
	if err != nil {
		return models.ChatMember{}, err
	}
	// the driver joining is what moves a chat out of PENDING
	if role == models.RoleDriver && status == models.ChatPending {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET status=$1, updated_at=$2 WHERE id=$3`,
			models.ChatAccepted, time.Now(), chatID); err != nil {
			return models.ChatMember{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.ChatMember{}, err
	}
	return member, nil
}

func (p *PostgresStore) ChatForTrip(ctx context.Context, tripID string) (models.Chat, bool, error) {
	var chat models.Chat
	err := p.db.QueryRowContext(ctx,
		`SELECT id, trip_id, status, created_at, updated_at FROM chats WHERE trip_id=$1`, tripID).
		Scan(&chat.ID, &chat.TripID, &chat.Status, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, false, nil
	}
	if err != nil {
		return models.Chat{}, false, err
	}
	return p.loadChat(ctx, chat)
}

func (p *PostgresStore) ChatMessages(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := p.db.QueryRowContext(ctx,
		`SELECT id, trip_id, status, created_at, updated_at FROM chats WHERE id=$1`, chatID).
		Scan(&chat.ID, &chat.TripID, &chat.Status, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, apierr.NotFound("chat not found")
	}
	if err != nil {
		return models.Chat{}, err
	}
	chat, _, err = p.loadChat(ctx, chat)
	return chat, err
}

func (p *PostgresStore) PostMessage(ctx context.Context, chatID, senderID, content string, typ models.MessageType, metadata map[string]any) (models.Chat, error) {
	if content == "" {
		return models.Chat{}, apierr.Invalid("message content is required")
	}
	if typ == "" {
		typ = models.MessageText
	}

	var status models.ChatStatus
	err := p.db.QueryRowContext(ctx, `SELECT status FROM chats WHERE id=$1`, chatID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, apierr.NotFound("chat not found")
	}
	if err != nil {
		return models.Chat{}, err
	}
	if status != models.ChatAccepted {
		return models.Chat{}, apierr.Forbidden("chat is not accepted")
	}
	var member bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`,
		chatID, senderID).Scan(&member); err != nil {
		return models.Chat{}, err
	}
	if !member {
		return models.Chat{}, apierr.Forbidden("not a chat member")
	}

	var meta []byte
	if metadata != nil {
		meta, _ = json.Marshal(metadata)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO chat_messages(id, chat_id, sender_id, content, message_type, metadata, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		uuid.NewString(), chatID, senderID, content, typ, meta, time.Now())
	if err != nil {
		return models.Chat{}, err
	}
	return p.ChatMessages(ctx, chatID)
}

func (p *PostgresStore) loadChat(ctx context.Context, chat models.Chat) (models.Chat, bool, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, chat_id, user_id, role, created_at FROM chat_members WHERE chat_id=$1 ORDER BY created_at`, chat.ID)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.ChatMember
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return models.Chat{}, false, err
		}
		chat.Members = append(chat.Members, m)
	}
	if err := rows.Err(); err != nil {
		return models.Chat{}, false, err
	}

	mrows, err := p.db.QueryContext(ctx,
		`SELECT id, sender_id, content, message_type, metadata, created_at
		 FROM chat_messages WHERE chat_id=$1 ORDER BY created_at`, chat.ID)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var m models.Message
		var meta []byte
		if err := mrows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &meta, &m.CreatedAt); err != nil {
			return models.Chat{}, false, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		chat.Messages = append(chat.Messages, m)
	}
	return chat, true, mrows.Err()
}

func scanTrip(row interface{ Scan(...any) error }) (models.Trip, error) {
	var t models.Trip
	var desc sql.NullString
	var vt, vb, vm sql.NullString
	var vs sql.NullInt64
	err := row.Scan(&t.ID, &t.Origin, &t.Destination, &t.DepartureDateTime, &t.Price, &t.TotalSeats, &t.AvailableSeats, &desc,
		&t.Driver.ID, &t.Driver.Name, &t.Driver.Rating, &t.Driver.IsVerified, &vt, &vb, &vm, &vs, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, apierr.NotFound("trip not found")
	}
	if err != nil {
		return models.Trip{}, err
	}
	t.Description = desc.String
	if vt.Valid {
		t.Driver.Vehicle = &models.Vehicle{
			VehicleType: vt.String,
			Brand:       vb.String,
			Model:       vm.String,
			Seats:       int(vs.Int64),
		}
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
