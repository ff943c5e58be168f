package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
	"github.com/ariefcatur/go-rental-bookings/internal/bookings"
	"github.com/ariefcatur/go-rental-bookings/internal/identity"
	"github.com/ariefcatur/go-rental-bookings/internal/logging"
	"github.com/ariefcatur/go-rental-bookings/internal/products"
	"github.com/ariefcatur/go-rental-bookings/internal/profiles"
	"github.com/ariefcatur/go-rental-bookings/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "11111111-1111-1111-1111-111111111111"

// stubService records the last call and answers with whatever the test configured.
type stubService struct {
	err     error
	booking *bookings.Booking
	payload *settlement.Payload
	list    *bookings.ListResult

	gotID     string
	gotSig    string
	gotInput  bookings.CreateInput
	gotFilter bookings.ListFilter
}

func (s *stubService) Create(_ context.Context, _ string, in bookings.CreateInput) (*bookings.Booking, *settlement.Payload, error) {
	s.gotInput = in
	return s.booking, s.payload, s.err
}

func (s *stubService) ConfirmPayment(_ context.Context, _, id, sig string) (*bookings.Booking, error) {
	s.gotID, s.gotSig = id, sig
	return s.booking, s.err
}

func (s *stubService) CompletionInstructions(_ context.Context, _, id string) (*bookings.Booking, *settlement.Payload, error) {
	s.gotID = id
	return s.booking, s.payload, s.err
}

func (s *stubService) FinalizeCompletion(_ context.Context, _, id, sig string) (*bookings.Booking, error) {
	s.gotID, s.gotSig = id, sig
	return s.booking, s.err
}

func (s *stubService) Cancel(_ context.Context, _, id string) (*bookings.Booking, *settlement.Payload, error) {
	s.gotID = id
	return s.booking, s.payload, s.err
}

func (s *stubService) CancellationInstructions(_ context.Context, _, id string) (*bookings.Booking, *settlement.Payload, error) {
	s.gotID = id
	return s.booking, s.payload, s.err
}

func (s *stubService) CancelWithSignature(_ context.Context, _, id, sig string) (*bookings.Booking, error) {
	s.gotID, s.gotSig = id, sig
	return s.booking, s.err
}

func (s *stubService) Get(_ context.Context, _, id string) (*bookings.Booking, error) {
	s.gotID = id
	return s.booking, s.err
}

func (s *stubService) List(_ context.Context, f bookings.ListFilter) (*bookings.ListResult, error) {
	s.gotFilter = f
	return s.list, s.err
}

func (s *stubService) Events(_ context.Context, _, id string) ([]bookings.EventRecord, error) {
	s.gotID = id
	return []bookings.EventRecord{}, s.err
}

// asUser stands in for identity.Middleware.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), &identity.User{ID: userID})))
	})
}

func bookingsRouter(svc BookingService, gate func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(asUser)
		(&BookingsHandler{Service: svc, Registered: gate, Log: logging.Discard()}).Register(r)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestCreateBooking(t *testing.T) {
	svc := &stubService{
		booking: &bookings.Booking{ID: "b1", Status: bookings.StatusPending},
		payload: &settlement.Payload{BookingID: "b1", Network: "devnet"},
	}
	rec, body := do(t, bookingsRouter(svc, nil), http.MethodPost, "/api/bookings",
		`{"product_id":7,"start_date":"2026-04-01","end_date":"2026-04-03T12:00:00+02:00","total_price":45.5}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Booking created successfully", body["message"])
	assert.Equal(t, "b1", body["booking"].(map[string]any)["id"])
	assert.Equal(t, "devnet", body["instructionData"].(map[string]any)["network"])

	assert.Equal(t, int64(7), svc.gotInput.ProductID)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), svc.gotInput.StartDate)
	assert.Equal(t, time.Date(2026, 4, 3, 10, 0, 0, 0, time.UTC), svc.gotInput.EndDate)
	assert.Equal(t, 45.5, svc.gotInput.TotalPrice)
}

func TestCreateBookingRejectsInput(t *testing.T) {
	svc := &stubService{}
	h := bookingsRouter(svc, nil)

	rec, body := do(t, h, http.MethodPost, "/api/bookings", `{"product_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid json", body["error"])

	rec, body = do(t, h, http.MethodPost, "/api/bookings", `{"product_id":7,"start_date":"next week","end_date":"2026-04-03"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid date range", body["error"])
}

func TestCreateBookingGate(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "incomplete"})
		})
	}
	svc := &stubService{booking: &bookings.Booking{ID: "b1"}}
	h := bookingsRouter(svc, deny)

	rec, _ := do(t, h, http.MethodPost, "/api/bookings/create", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The gate covers creation only.
	rec, _ = do(t, h, http.MethodGet, "/api/bookings/b1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		msg  string
	}{
		{bookings.ErrNotFound, http.StatusNotFound, "Booking not found"},
		{bookings.ErrRenterOnly, http.StatusForbidden, "Only the renter can cancel the booking"},
		{bookings.ErrTooLate, http.StatusBadRequest, "Cannot cancel booking less than 24 hours before start date"},
		{bookings.ErrNoSignature, http.StatusBadRequest, "Transaction signature is required"},
		{bookings.ErrUnavailable, http.StatusConflict, "Product is not available for the selected dates"},
		{identity.ErrMissingHeader, http.StatusUnauthorized, "Authorization header missing"},
		{apperr.New(apperr.KindConfig, "Supabase configuration missing"), http.StatusInternalServerError, "Supabase configuration missing"},
		{errors.New("connection reset"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, c := range cases {
		h := bookingsRouter(&stubService{err: c.err}, nil)
		rec, body := do(t, h, http.MethodDelete, "/api/bookings/b1", "")
		assert.Equal(t, c.code, rec.Code, c.msg)
		assert.Equal(t, c.msg, body["error"])
	}
}

func TestBookingRoutesWithoutUser(t *testing.T) {
	r := chi.NewRouter()
	(&BookingsHandler{Service: &stubService{}, Log: logging.Discard()}).Register(r)

	rec, body := do(t, r, http.MethodGet, "/api/bookings/user", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User not authenticated", body["error"])
}

func TestListBookingsQuery(t *testing.T) {
	svc := &stubService{list: &bookings.ListResult{
		Bookings:   []bookings.Booking{},
		TotalCount: 3,
		Pagination: bookings.Pagination{Limit: 10, Offset: 20},
	}}
	h := bookingsRouter(svc, nil)

	rec, body := do(t, h, http.MethodGet, "/api/bookings/user?role=owner&status=confirmed&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bookings.ListFilter{UserID: userID, Role: bookings.RoleOwner, Status: bookings.StatusConfirmed, Limit: 10, Offset: 20}, svc.gotFilter)
	assert.EqualValues(t, 3, body["total_count"])
	assert.Contains(t, body, "pagination")

	rec, _ = do(t, h, http.MethodGet, "/api/bookings/user?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignatureRoutes(t *testing.T) {
	svc := &stubService{booking: &bookings.Booking{ID: "b9"}}
	h := bookingsRouter(svc, nil)

	rec, body := do(t, h, http.MethodPost, "/api/bookings/b9/confirm-payment", `{"transaction_signature":"sig123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b9", svc.gotID)
	assert.Equal(t, "sig123", svc.gotSig)
	assert.Equal(t, "sig123", body["transaction_signature"])

	rec, body = do(t, h, http.MethodPatch, "/api/bookings/b9/complete", `{"completion_transaction_signature":"done1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done1", svc.gotSig)
	assert.Equal(t, "Booking completed successfully", body["message"])

	rec, _ = do(t, h, http.MethodPost, "/api/bookings/b9/cancel", `{"transaction_signature":"cx"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cx", svc.gotSig)

	// A missing body reaches the service, which owns the "required" rule.
	svc.err = bookings.ErrNoCompletion
	rec, body = do(t, h, http.MethodPatch, "/api/bookings/b9/complete", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Completion transaction signature is required", body["error"])
	assert.Empty(t, svc.gotSig)
}

func TestCompletionInstructionsRoute(t *testing.T) {
	svc := &stubService{
		booking: &bookings.Booking{ID: "b3", Status: bookings.StatusConfirmed},
		payload: &settlement.Payload{BookingID: "b3"},
	}
	rec, body := do(t, bookingsRouter(svc, nil), http.MethodPost, "/api/bookings/b3/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Booking completion instructions generated", body["message"])
	assert.Equal(t, "b3", body["solana_instructions"].(map[string]any)["booking_id"])
}

func TestCancelRefundPayload(t *testing.T) {
	svc := &stubService{booking: &bookings.Booking{ID: "b4", Status: bookings.StatusCancelled}}
	h := bookingsRouter(svc, nil)

	_, body := do(t, h, http.MethodDelete, "/api/bookings/b4", "")
	assert.Equal(t, "Booking cancelled successfully", body["message"])
	assert.NotContains(t, body, "refund_instructions")

	svc.payload = &settlement.Payload{BookingID: "b4"}
	_, body = do(t, h, http.MethodDelete, "/api/bookings/b4", "")
	assert.Contains(t, body, "refund_instructions")
}

func TestCancellationInstructionsRoute(t *testing.T) {
	svc := &stubService{
		booking: &bookings.Booking{ID: "b6", Status: bookings.StatusConfirmed},
		payload: &settlement.Payload{BookingID: "b6", Instructions: []settlement.Instruction{{Name: settlement.IxCancelAsOwner}}},
	}
	h := bookingsRouter(svc, nil)

	rec, body := do(t, h, http.MethodGet, "/api/bookings/b6/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b6", svc.gotID)
	assert.Equal(t, "Booking cancellation instructions generated", body["message"])
	ixs := body["solana_instructions"].(map[string]any)["instructions"].([]any)
	assert.Equal(t, "cancel_as_owner", ixs[0].(map[string]any)["name"])

	svc.err = bookings.ErrOwnerUnpaid
	rec, body = do(t, h, http.MethodGet, "/api/bookings/b6/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Owner can only cancel a paid booking", body["error"])
}

// A booking id Postgres cannot cast to uuid is an unknown booking, not a server error.
func TestMalformedBookingIDIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	castErr := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id=\$1`).WithArgs("abc").WillReturnError(castErr)
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id=\$1`).WithArgs("abc").WillReturnError(castErr)

	svc := &bookings.Service{Store: &bookings.Repo{DB: mock}, Log: logging.Discard()}
	h := bookingsRouter(svc, nil)

	rec, body := do(t, h, http.MethodGet, "/api/bookings/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Booking not found", body["error"])

	rec, body = do(t, h, http.MethodGet, "/api/bookings/abc/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Booking not found", body["error"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAndEvents(t *testing.T) {
	svc := &stubService{booking: &bookings.Booking{ID: "b5"}}
	h := bookingsRouter(svc, nil)

	rec, body := do(t, h, http.MethodGet, "/api/bookings/b5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b5", body["booking"].(map[string]any)["id"])

	rec, body = do(t, h, http.MethodGet, "/api/bookings/b5/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["events"])
}

type profileStub map[string]*profiles.Profile

func (p profileStub) Get(_ context.Context, id string) (*profiles.Profile, error) {
	if v, ok := p[id]; ok {
		return v, nil
	}
	return nil, profiles.ErrNotFound
}

type publishStub struct {
	err     error
	gotID   int64
	gotUser string
}

func (p *publishStub) Publish(_ context.Context, id int64, ownerID string, at time.Time) (*products.Product, error) {
	p.gotID, p.gotUser = id, ownerID
	if p.err != nil {
		return nil, p.err
	}
	return &products.Product{ID: id, OwnerID: ownerID, Status: products.StatusListed, UpdatedAt: at}, nil
}

func accountsRouter(profs profileStub, pub *publishStub) *chi.Mux {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(asUser)
		(&AccountsHandler{Profiles: profs, Products: pub, Log: logging.Discard()}).Register(r)
	})
	return r
}

func TestProfileMe(t *testing.T) {
	profs := profileStub{userID: {ID: userID, FullName: "Rina", Phone: "+62", Location: "Bandung", EmailVerified: true}}
	rec, body := do(t, accountsRouter(profs, &publishStub{}), http.MethodGet, "/api/profiles/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["fully_registered"])

	rec, _ = do(t, accountsRouter(profileStub{}, &publishStub{}), http.MethodGet, "/api/profiles/me", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishProduct(t *testing.T) {
	pub := &publishStub{}
	h := accountsRouter(profileStub{}, pub)

	rec, body := do(t, h, http.MethodPost, "/api/products/12/publish", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(12), pub.gotID)
	assert.Equal(t, userID, pub.gotUser)
	assert.Equal(t, "listed", body["product"].(map[string]any)["status"])

	pub.err = products.ErrNoImages
	rec, _ = do(t, h, http.MethodPost, "/api/products/12/publish", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	pub.err = products.ErrNotOwner
	rec, _ = do(t, h, http.MethodPost, "/api/products/12/publish", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/products/abc/publish", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r := NewRouter(logging.Discard())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
