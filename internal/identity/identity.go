// Package identity resolves the caller of a request from a Supabase access token.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingHeader   = apperr.New(apperr.KindUnauthenticated, "Authorization header missing")
	ErrUnauthenticated = apperr.New(apperr.KindUnauthenticated, "User not authenticated")
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Config struct {
	URL       string
	AnonKey   string
	JWTSecret string
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies tokens locally when a JWT secret is configured and falls back
// to the auth server otherwise.
type Authenticator struct {
	cfg    Config
	client *http.Client
	log    logrus.FieldLogger
}

func New(cfg Config, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Authenticate resolves the user behind an Authorization header value.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*User, error) {
	if header == "" {
		return nil, ErrMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, ErrUnauthenticated
	}

	if a.cfg.JWTSecret != "" {
		u, err := a.local(token)
		if err == nil {
			return u, nil
		}
		a.log.WithError(err).Debug("local token check failed")
	}
	if a.cfg.URL == "" || a.cfg.AnonKey == "" {
		return nil, ErrUnauthenticated
	}
	u, err := a.remote(ctx, token)
	if err != nil {
		a.log.WithError(err).Debug("auth server rejected token")
		return nil, ErrUnauthenticated
	}
	return u, nil
}

func (a *Authenticator) local(token string) (*User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if c.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &User{ID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

func (a *Authenticator) remote(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(a.cfg.URL, "/")+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", a.cfg.AnonKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("auth server: status %d: %s", resp.StatusCode, body)
	}
	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if u.ID == "" {
		return nil, errors.New("auth server returned no user id")
	}
	return &u, nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok && u != nil
}

// Middleware rejects requests without a valid bearer token with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, apperr.Message(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
