package profiles

import (
	"context"
	"errors"
	"strings"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
	"github.com/ariefcatur/go-rental-bookings/internal/postgres"
	"github.com/jackc/pgx/v5"
)

type Profile struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Phone         string `json:"phone"`
	Location      string `json:"location"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
	WalletAddress string `json:"solana_address"`
}

// FullyRegistered gates the protected parts of the application.
func (p *Profile) FullyRegistered() bool {
	return strings.TrimSpace(p.FullName) != "" &&
		strings.TrimSpace(p.Phone) != "" &&
		strings.TrimSpace(p.Location) != "" &&
		p.EmailVerified && p.PhoneVerified
}

var ErrNotFound = apperr.New(apperr.KindNotFound, "Profile not found")

type Repo struct{ DB postgres.DB }

func (r *Repo) Get(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := r.DB.QueryRow(ctx, `
		SELECT id, COALESCE(full_name,''), COALESCE(phone,''), COALESCE(location,''),
		       COALESCE(email_verified,false), COALESCE(phone_verified,false), COALESCE(solana_address,'')
		FROM profiles WHERE id=$1`, id).
		Scan(&p.ID, &p.FullName, &p.Phone, &p.Location, &p.EmailVerified, &p.PhoneVerified, &p.WalletAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
