package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/identity"
	"github.com/ariefcatur/go-rental-bookings/internal/products"
	"github.com/ariefcatur/go-rental-bookings/internal/profiles"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type ProfileGetter interface {
	Get(ctx context.Context, id string) (*profiles.Profile, error)
}

type ProductPublisher interface {
	Publish(ctx context.Context, id int64, ownerID string, at time.Time) (*products.Product, error)
}

// AccountsHandler serves the caller's profile and the owner-side product listing step.
type AccountsHandler struct {
	Profiles   ProfileGetter
	Products   ProductPublisher
	Registered func(http.Handler) http.Handler
	Log        logrus.FieldLogger
	Now        func() time.Time
}

func (h *AccountsHandler) Register(r chi.Router) {
	r.Get("/api/profiles/me", h.me)

	publish := r
	if h.Registered != nil {
		publish = r.With(h.Registered)
	}
	publish.Post("/api/products/{id}/publish", h.publish)
}

func (h *AccountsHandler) me(w http.ResponseWriter, r *http.Request) {
	u, ok := identity.UserFrom(r.Context())
	if !ok {
		writeError(w, r, h.Log, identity.ErrUnauthenticated)
		return
	}
	p, err := h.Profiles.Get(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":          p,
		"fully_registered": p.FullyRegistered(),
	})
}

func (h *AccountsHandler) publish(w http.ResponseWriter, r *http.Request) {
	u, ok := identity.UserFrom(r.Context())
	if !ok {
		writeError(w, r, h.Log, identity.ErrUnauthenticated)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid product id")
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	p, err := h.Products.Publish(r.Context(), id, u.ID, now().UTC())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Product published successfully",
		"product": p,
	})
}
