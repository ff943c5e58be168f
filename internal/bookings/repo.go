package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repo struct{ DB postgres.DB }

const bookingCols = `id, product_id, renter_id, owner_id, start_date, end_date, total_price, status,
	created_at, updated_at, confirmed_at, completed_at, cancelled_at,
	payment_intent_id, completion_transaction_signature, cancellation_transaction_signature, cancellation_notes`

const (
	uniqueViolation   = "23505"
	invalidTextFormat = "22P02"
)

// signatureFree holds for a parameter no booking has recorded in any signature column.
// Each column is also UNIQUE on its own.
const signatureFree = `NOT EXISTS (SELECT 1 FROM bookings s
	WHERE %[1]s IN (s.payment_intent_id, s.completion_transaction_signature, s.cancellation_transaction_signature))`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b      Booking
		status string
	)
	err := row.Scan(&b.ID, &b.ProductID, &b.RenterID, &b.OwnerID, &b.StartDate, &b.EndDate, &b.TotalPrice, &status,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt, &b.CompletedAt, &b.CancelledAt,
		&b.PaymentIntentID, &b.CompletionTransactionSignature, &b.CancellationTransactionSignature, &b.CancellationNotes)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return &b, nil
}

func collect(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()
	out := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (*Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) || isPgCode(err, invalidTextFormat) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Repo) SignatureUsed(ctx context.Context, signature string) (bool, error) {
	var used bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bookings
			WHERE $1 IN (payment_intent_id, completion_transaction_signature, cancellation_transaction_signature))`,
		signature).Scan(&used)
	return used, err
}

// CreateIfAvailable inserts b in pending status. The product row is locked for the
// duration of the transaction so two overlapping requests cannot both pass the check.
func (r *Repo) CreateIfAvailable(ctx context.Context, b *Booking) (*Booking, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var pid int64
	if err := tx.QueryRow(ctx, `SELECT id FROM products WHERE id=$1 FOR UPDATE`, b.ProductID).Scan(&pid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	var n int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE product_id = $1 AND status IN ('pending','confirmed')
		  AND start_date < $3 AND end_date > $2`,
		b.ProductID, b.StartDate, b.EndDate).Scan(&n)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrUnavailable
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	created, err := scanBooking(tx.QueryRow(ctx, `
		INSERT INTO bookings(id, product_id, renter_id, owner_id, start_date, end_date, total_price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8,$8)
		RETURNING `+bookingCols,
		b.ID, b.ProductID, b.RenterID, b.OwnerID, b.StartDate, b.EndDate, b.TotalPrice, b.CreatedAt))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// ConfirmPayment moves a pending booking owned by renterID to confirmed.
// It returns errNotApplied when no row matched.
func (r *Repo) ConfirmPayment(ctx context.Context, id, renterID, signature string, at time.Time) (*Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, `
		UPDATE bookings
		SET status='confirmed', payment_intent_id=$3, confirmed_at=$4, updated_at=$4
		WHERE id=$1 AND renter_id=$2 AND status='pending' AND `+fmt.Sprintf(signatureFree, "$3")+`
		RETURNING `+bookingCols, id, renterID, signature, at))
	return b, mapWriteErr(err)
}

// Complete moves a confirmed booking owned by renterID to completed.
func (r *Repo) Complete(ctx context.Context, id, renterID, signature string, at time.Time) (*Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, `
		UPDATE bookings
		SET status='completed', completion_transaction_signature=$3, completed_at=$4, updated_at=$4
		WHERE id=$1 AND renter_id=$2 AND status='confirmed' AND `+fmt.Sprintf(signatureFree, "$3")+`
		RETURNING `+bookingCols, id, renterID, signature, at))
	return b, mapWriteErr(err)
}

// Cancel applies u only if the booking is still in u.From.
func (r *Repo) Cancel(ctx context.Context, u CancelUpdate) (*Booking, error) {
	b, err := scanBooking(r.DB.QueryRow(ctx, `
		UPDATE bookings
		SET status='cancelled', cancelled_at=$3, updated_at=$3,
		    cancellation_notes=COALESCE($4, cancellation_notes),
		    cancellation_transaction_signature=COALESCE($5, cancellation_transaction_signature)
		WHERE id=$1 AND status=$2 AND ($5::text IS NULL OR `+fmt.Sprintf(signatureFree, "$5")+`)
		RETURNING `+bookingCols, u.ID, string(u.From), u.At, u.Notes, u.Signature))
	return b, mapWriteErr(err)
}

// ExpirePending cancels every pending booking created before cutoff.
func (r *Repo) ExpirePending(ctx context.Context, cutoff, at time.Time, note string) ([]Booking, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE bookings
		SET status='cancelled', cancelled_at=$2, updated_at=$2, cancellation_notes=$3
		WHERE status='pending' AND created_at < $1
		RETURNING `+bookingCols, cutoff, at, note)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Booking, int, error) {
	var (
		where []string
		args  = []any{f.UserID}
	)
	switch f.Role {
	case RoleRenter:
		where = append(where, "renter_id = $1")
	case RoleOwner:
		where = append(where, "owner_id = $1")
	default:
		where = append(where, "(renter_id = $1 OR owner_id = $1)")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.Query(ctx, fmt.Sprintf(`SELECT %s FROM bookings WHERE %s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, bookingCols, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AppendEvent records e once; replays of the same event id are ignored.
func (r *Repo) AppendEvent(ctx context.Context, e EventRecord) error {
	var actor *string
	if e.ActorID != "" {
		actor = &e.ActorID
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO booking_events(event_id, booking_id, event_type, status, actor_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.BookingID, e.EventType, string(e.Status), actor, e.OccurredAt)
	return err
}

func (r *Repo) ListEvents(ctx context.Context, bookingID string) ([]EventRecord, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT event_id, booking_id, event_type, status, COALESCE(actor_id::text, ''), occurred_at
		FROM booking_events WHERE booking_id=$1 ORDER BY occurred_at, event_id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EventRecord{}
	for rows.Next() {
		var (
			e      EventRecord
			status string
		)
		if err := rows.Scan(&e.EventID, &e.BookingID, &e.EventType, &status, &e.ActorID, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errNotApplied
	}
	switch {
	case isPgCode(err, uniqueViolation):
		return ErrSignatureUsed
	case isPgCode(err, invalidTextFormat):
		return ErrNotFound
	}
	return err
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
