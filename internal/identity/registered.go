package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-rental-bookings/internal/profiles"
	"github.com/sirupsen/logrus"
)

type ProfileReader interface {
	Get(ctx context.Context, id string) (*profiles.Profile, error)
}

const msgIncomplete = "Complete your profile and verify your email and phone first"

// RequireRegistered lets through only callers whose profile is fully registered.
// It must run after Middleware.
func RequireRegistered(p ProfileReader, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
				return
			}
			prof, err := p.Get(r.Context(), u.ID)
			switch {
			case errors.Is(err, profiles.ErrNotFound):
				writeError(w, http.StatusForbidden, msgIncomplete)
				return
			case err != nil:
				log.WithError(err).WithField("user_id", u.ID).Error("load profile")
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			case !prof.FullyRegistered():
				writeError(w, http.StatusForbidden, msgIncomplete)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
