package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bookingColumns = []string{
	"id", "product_id", "renter_id", "owner_id", "start_date", "end_date", "total_price", "status",
	"created_at", "updated_at", "confirmed_at", "completed_at", "cancelled_at",
	"payment_intent_id", "completion_transaction_signature", "cancellation_transaction_signature", "cancellation_notes",
}

func newRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func bookingRow(id string, status Status, at time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(bookingColumns).AddRow(
		id, int64(1), renterID, ownerID, at.Add(48*time.Hour), at.Add(72*time.Hour), 20.0, string(status),
		at, at, nil, nil, nil, nil, nil, nil, nil,
	)
}

func TestRepoGet(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id=\$1`).WithArgs("b1").
		WillReturnRows(bookingRow("b1", StatusPending, now))
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id=\$1`).WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(bookingColumns))

	b, err := repo.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.Nil(t, b.ConfirmedAt)

	_, err = repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoGetMalformedID(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id=\$1`).WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`})

	_, err := repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoSignatureUsed(t *testing.T) {
	repo, mock := newRepo(t)
	const query = `SELECT EXISTS \(SELECT 1 FROM bookings WHERE \$1 IN \(payment_intent_id, completion_transaction_signature, cancellation_transaction_signature\)\)`
	mock.ExpectQuery(query).WithArgs("paid").
		WillReturnRows(pgxmock.NewRows([]string{"used"}).AddRow(true))
	mock.ExpectQuery(query).WithArgs("fresh").
		WillReturnRows(pgxmock.NewRows([]string{"used"}).AddRow(false))

	used, err := repo.SignatureUsed(context.Background(), "paid")
	require.NoError(t, err)
	assert.True(t, used)
	used, err = repo.SignatureUsed(context.Background(), "fresh")
	require.NoError(t, err)
	assert.False(t, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreateIfAvailable(t *testing.T) {
	start := now.Add(48 * time.Hour)
	in := &Booking{ID: "b1", ProductID: 1, RenterID: renterID, OwnerID: ownerID, StartDate: start, EndDate: start.Add(24 * time.Hour), TotalPrice: 20, CreatedAt: now}

	t.Run("free range", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM products WHERE id=\$1 FOR UPDATE`).WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).WithArgs(int64(1), in.StartDate, in.EndDate).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WithArgs("b1", int64(1), renterID, ownerID, in.StartDate, in.EndDate, 20.0, now).
			WillReturnRows(bookingRow("b1", StatusPending, now))
		mock.ExpectCommit()
		mock.ExpectRollback()

		b, err := repo.CreateIfAvailable(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "b1", b.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overlap", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings`).WithArgs(int64(1), in.StartDate, in.EndDate).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := repo.CreateIfAvailable(context.Background(), in)
		assert.ErrorIs(t, err, ErrUnavailable)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown product", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(1)).WillReturnRows(pgxmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := repo.CreateIfAvailable(context.Background(), in)
		assert.ErrorIs(t, err, ErrProductNotFound)
	})
}

func TestRepoConditionalUpdates(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`UPDATE bookings\s+SET status='confirmed'.*WHERE id=\$1 AND renter_id=\$2 AND status='pending'`).
			WithArgs("b1", renterID, "sig", now).
			WillReturnRows(bookingRow("b1", StatusConfirmed, now))

		b, err := repo.ConfirmPayment(context.Background(), "b1", renterID, "sig", now)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, b.Status)
	})

	t.Run("signature recorded in another column", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`SET status='completed'.*status='confirmed' AND NOT EXISTS \(SELECT 1 FROM bookings s\s+WHERE \$3 IN`).
			WithArgs("b1", renterID, "sig", now).
			WillReturnRows(pgxmock.NewRows(bookingColumns))

		_, err := repo.Complete(context.Background(), "b1", renterID, "sig", now)
		assert.ErrorIs(t, err, errNotApplied)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row matched", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`SET status='completed'`).WithArgs("b1", renterID, "sig", now).
			WillReturnRows(pgxmock.NewRows(bookingColumns))

		_, err := repo.Complete(context.Background(), "b1", renterID, "sig", now)
		assert.ErrorIs(t, err, errNotApplied)
	})

	t.Run("signature reused", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`SET status='confirmed'`).WithArgs("b2", renterID, "sig", now).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		_, err := repo.ConfirmPayment(context.Background(), "b2", renterID, "sig", now)
		assert.ErrorIs(t, err, ErrSignatureUsed)
	})

	t.Run("cancel from read status", func(t *testing.T) {
		repo, mock := newRepo(t)
		note := NotePaidCancelled
		mock.ExpectQuery(`SET status='cancelled'.*WHERE id=\$1 AND status=\$2 AND \(\$5::text IS NULL OR NOT EXISTS`).
			WithArgs("b1", "confirmed", now, &note, (*string)(nil)).
			WillReturnRows(bookingRow("b1", StatusCancelled, now))

		b, err := repo.Cancel(context.Background(), CancelUpdate{ID: "b1", From: StatusConfirmed, At: now, Notes: &note})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, b.Status)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepoListBuildsFilter(t *testing.T) {
	repo, mock := newRepo(t)
	f := ListFilter{UserID: ownerID, Role: RoleOwner, Status: StatusConfirmed, Limit: 10, Offset: 20}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings WHERE owner_id = \$1 AND status = \$2`).
		WithArgs(ownerID, "confirmed").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`WHERE owner_id = \$1 AND status = \$2\s+ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs(ownerID, "confirmed", 10, 20).
		WillReturnRows(bookingRow("b1", StatusConfirmed, now))

	list, total, err := repo.List(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 21, total)
	assert.Len(t, list, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoAppendEventIgnoresReplay(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec(`INSERT INTO booking_events.*ON CONFLICT \(event_id\) DO NOTHING`).
		WithArgs("e1", "b1", EventBookingExpired, "cancelled", (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := repo.AppendEvent(context.Background(), EventRecord{EventID: "e1", BookingID: "b1", EventType: EventBookingExpired, Status: StatusCancelled, OccurredAt: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
