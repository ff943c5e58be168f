package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/bookings"
	"github.com/ariefcatur/go-rental-bookings/internal/identity"
	"github.com/ariefcatur/go-rental-bookings/internal/settlement"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// BookingService is the lifecycle behind the booking routes. *bookings.Service implements it.
type BookingService interface {
	Create(ctx context.Context, renterID string, in bookings.CreateInput) (*bookings.Booking, *settlement.Payload, error)
	ConfirmPayment(ctx context.Context, callerID, id, signature string) (*bookings.Booking, error)
	CompletionInstructions(ctx context.Context, callerID, id string) (*bookings.Booking, *settlement.Payload, error)
	FinalizeCompletion(ctx context.Context, callerID, id, signature string) (*bookings.Booking, error)
	Cancel(ctx context.Context, callerID, id string) (*bookings.Booking, *settlement.Payload, error)
	CancellationInstructions(ctx context.Context, callerID, id string) (*bookings.Booking, *settlement.Payload, error)
	CancelWithSignature(ctx context.Context, callerID, id, signature string) (*bookings.Booking, error)
	Get(ctx context.Context, callerID, id string) (*bookings.Booking, error)
	List(ctx context.Context, f bookings.ListFilter) (*bookings.ListResult, error)
	Events(ctx context.Context, callerID, id string) ([]bookings.EventRecord, error)
}

type BookingsHandler struct {
	Service BookingService
	// Registered gates booking creation; nil lets every authenticated caller through.
	Registered func(http.Handler) http.Handler
	Log        logrus.FieldLogger
	Timeout    time.Duration
}

type CreateBookingReq struct {
	ProductID  int64   `json:"product_id"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	TotalPrice float64 `json:"total_price"`
	// Accepted for older clients; the wallet on the renter's profile is what counts.
	RenterWalletAddress string `json:"renter_wallet_address,omitempty"`
}

type SignatureReq struct {
	TransactionSignature string `json:"transaction_signature"`
}

type CompletionReq struct {
	CompletionTransactionSignature string `json:"completion_transaction_signature"`
}

// Register mounts the booking routes. Every route expects identity.Middleware upstream.
func (h *BookingsHandler) Register(r chi.Router) {
	create := r
	if h.Registered != nil {
		create = r.With(h.Registered)
	}
	create.Post("/api/bookings", h.create)
	create.Post("/api/bookings/create", h.create)

	r.Get("/api/bookings/user", h.list)
	r.Get("/api/bookings/{id}", h.get)
	r.Delete("/api/bookings/{id}", h.cancel)
	r.Get("/api/bookings/{id}/events", h.events)
	r.Post("/api/bookings/{id}/confirm-payment", h.confirmPayment)
	r.Post("/api/bookings/{id}/complete", h.completionInstructions)
	r.Patch("/api/bookings/{id}/complete", h.finalizeCompletion)
	r.Get("/api/bookings/{id}/cancel", h.cancellationInstructions)
	r.Post("/api/bookings/{id}/cancel", h.cancelWithSignature)
}

func (h *BookingsHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

// caller returns the authenticated user, answering 401 itself when there is none.
func (h *BookingsHandler) caller(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	u, ok := identity.UserFrom(r.Context())
	if !ok {
		writeError(w, r, h.Log, identity.ErrUnauthenticated)
		return nil, false
	}
	return u, true
}

func (h *BookingsHandler) create(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateBookingReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	in := bookings.CreateInput{ProductID: req.ProductID, TotalPrice: req.TotalPrice}
	var err error
	if in.StartDate, err = parseDate(req.StartDate); err != nil {
		writeError(w, r, h.Log, bookings.ErrInvalidDates)
		return
	}
	if in.EndDate, err = parseDate(req.EndDate); err != nil {
		writeError(w, r, h.Log, bookings.ErrInvalidDates)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	b, payload, err := h.Service.Create(ctx, u.ID, in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":         "Booking created successfully",
		"booking":         b,
		"instructionData": payload,
	})
}

func (h *BookingsHandler) get(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, err := h.Service.Get(ctx, u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (h *BookingsHandler) events(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	evs, err := h.Service.Events(ctx, u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (h *BookingsHandler) list(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := bookings.ListFilter{
		UserID: u.ID,
		Role:   bookings.Role(q.Get("role")),
		Status: bookings.Status(q.Get("status")),
	}
	var err error
	if f.Limit, err = queryInt(q.Get("limit")); err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	if f.Offset, err = queryInt(q.Get("offset")); err != nil {
		badRequest(w, "offset must be an integer")
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	res, err := h.Service.List(ctx, f)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BookingsHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SignatureReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, err := h.Service.ConfirmPayment(ctx, u.ID, chi.URLParam(r, "id"), req.TransactionSignature)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":               "Booking payment confirmed successfully",
		"booking":               b,
		"transaction_signature": req.TransactionSignature,
	})
}

func (h *BookingsHandler) completionInstructions(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, payload, err := h.Service.CompletionInstructions(ctx, u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":             "Booking completion instructions generated",
		"booking":             b,
		"solana_instructions": payload,
	})
}

func (h *BookingsHandler) finalizeCompletion(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CompletionReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, err := h.Service.FinalizeCompletion(ctx, u.ID, chi.URLParam(r, "id"), req.CompletionTransactionSignature)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":                          "Booking completed successfully",
		"booking":                          b,
		"completion_transaction_signature": req.CompletionTransactionSignature,
	})
}

func (h *BookingsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, refund, err := h.Service.Cancel(ctx, u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	resp := map[string]any{
		"message": "Booking cancelled successfully",
		"booking": b,
	}
	if refund != nil {
		resp["refund_instructions"] = refund
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingsHandler) cancellationInstructions(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, payload, err := h.Service.CancellationInstructions(ctx, u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":             "Booking cancellation instructions generated",
		"booking":             b,
		"solana_instructions": payload,
	})
}

func (h *BookingsHandler) cancelWithSignature(w http.ResponseWriter, r *http.Request) {
	u, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SignatureReq
	if err := decode(w, r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	b, err := h.Service.CancelWithSignature(ctx, u.ID, chi.URLParam(r, "id"), req.TransactionSignature)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":               "Booking cancelled successfully",
		"booking":               b,
		"transaction_signature": req.TransactionSignature,
	})
}

// parseDate accepts RFC 3339 timestamps and bare dates, which are read as UTC midnight.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
