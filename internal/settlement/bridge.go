package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/config"
)

const usdcDecimals = 6

// Config is the network configuration of the escrow program, built once at startup.
type Config struct {
	Network     string
	RPCURL      string
	Commitment  string
	ProgramID   PublicKey
	AdminWallet PublicKey
	USDCMint    PublicKey
}

// FromConfig resolves and validates the addresses in c. The USDC mint follows the network.
func FromConfig(c config.Solana) (Config, error) {
	mint := c.USDCMintDevnet
	if c.Network == "mainnet" {
		mint = c.USDCMintMainnet
	}
	var (
		out Config
		err error
	)
	out.Network, out.RPCURL, out.Commitment = c.Network, c.RPCURL, c.Commitment
	if out.ProgramID, err = ParsePublicKey(c.ProgramID); err != nil {
		return out, fmt.Errorf("program id: %w", err)
	}
	if out.AdminWallet, err = ParsePublicKey(c.AdminWallet); err != nil {
		return out, fmt.Errorf("admin wallet: %w", err)
	}
	if out.USDCMint, err = ParsePublicKey(mint); err != nil {
		return out, fmt.Errorf("usdc mint: %w", err)
	}
	return out, nil
}

// Rental is the booking data the escrow program keys its accounts on.
type Rental struct {
	BookingID  string
	ProductID  int64
	Renter     PublicKey
	Owner      PublicKey
	TotalPrice float64
	Start      time.Time
	End        time.Time
}

// Payload is what a wallet client needs to build and sign a transaction.
type Payload struct {
	BookingID    string        `json:"booking_id"`
	ProductID    int64         `json:"product_id"`
	OwnerWallet  PublicKey     `json:"owner_wallet"`
	RenterWallet PublicKey     `json:"renter_wallet"`
	ProgramID    PublicKey     `json:"program_id"`
	Network      string        `json:"network"`
	Instructions []Instruction `json:"instructions"`

	TotalAmountUSDC uint64 `json:"total_amount_usdc,omitempty"`
	RentalStart     int64  `json:"rental_start,omitempty"`
	RentalEnd       int64  `json:"rental_end,omitempty"`
}

// Accounts are the program-derived addresses of one rental.
type Accounts struct {
	RentalTransaction PublicKey `json:"rental_transaction"`
	Escrow            PublicKey `json:"escrow_token_account"`
	GlobalState       PublicKey `json:"global_state"`
}

var ErrNoWallet = errors.New("wallet address missing")

// Bridge builds settlement payloads. It performs no I/O and holds no keys.
type Bridge struct {
	cfg Config
}

func NewBridge(cfg Config) *Bridge { return &Bridge{cfg: cfg} }

// Derive computes the rental, escrow and global state addresses for r.
func (b *Bridge) Derive(r Rental) (Accounts, error) {
	var a Accounts
	if r.Renter.IsZero() {
		return a, ErrNoWallet
	}
	pid := make([]byte, 8)
	binary.LittleEndian.PutUint64(pid, uint64(r.ProductID))

	var err error
	if a.RentalTransaction, _, err = FindProgramAddress([][]byte{[]byte("rental_transaction"), pid, r.Renter[:]}, b.cfg.ProgramID); err != nil {
		return a, err
	}
	if a.Escrow, _, err = FindProgramAddress([][]byte{[]byte("escrow"), a.RentalTransaction[:]}, b.cfg.ProgramID); err != nil {
		return a, err
	}
	if a.GlobalState, _, err = FindProgramAddress([][]byte{[]byte("global_state")}, b.cfg.ProgramID); err != nil {
		return a, err
	}
	return a, nil
}

// USDCAmount converts a price to token minor units.
func USDCAmount(price float64) uint64 {
	if price <= 0 {
		return 0
	}
	return uint64(math.Round(price * math.Pow10(usdcDecimals)))
}

func (b *Bridge) payload(r Rental) Payload {
	return Payload{
		BookingID:    r.BookingID,
		ProductID:    r.ProductID,
		OwnerWallet:  r.Owner,
		RenterWallet: r.Renter,
		ProgramID:    b.cfg.ProgramID,
		Network:      b.cfg.Network,
	}
}

// PaymentInstructions creates the on-chain rental record and funds the escrow.
func (b *Bridge) PaymentInstructions(r Rental) (*Payload, error) {
	if r.Owner.IsZero() {
		return nil, ErrNoWallet
	}
	acc, err := b.Derive(r)
	if err != nil {
		return nil, err
	}
	renterATA, err := AssociatedTokenAddress(r.Renter, b.cfg.USDCMint)
	if err != nil {
		return nil, err
	}

	amount := USDCAmount(r.TotalPrice)
	start, end := r.Start.Unix(), r.End.Unix()

	p := b.payload(r)
	p.TotalAmountUSDC, p.RentalStart, p.RentalEnd = amount, start, end
	p.Instructions = []Instruction{
		{
			Name:      "create_rental_transaction",
			ProgramID: b.cfg.ProgramID,
			Accounts: []AccountMeta{
				writable("rental_transaction", acc.RentalTransaction),
				signer("renter", r.Renter, true),
				readonly("system_program", SystemProgramID),
			},
			Data: newBorsh("create_rental_transaction").
				u64(uint64(r.ProductID)).key(r.Owner).u64(amount).i64(start).i64(end).str(r.BookingID).base64(),
			Args: map[string]any{
				"product_id":   r.ProductID,
				"owner_wallet": r.Owner,
				"total_amount": amount,
				"rental_start": start,
				"rental_end":   end,
				"booking_id":   r.BookingID,
			},
		},
		{
			Name:      IxPayRental,
			ProgramID: b.cfg.ProgramID,
			Accounts: []AccountMeta{
				writable("rental_transaction", acc.RentalTransaction),
				writable("escrow_token_account", acc.Escrow),
				writable("renter_token_account", renterATA),
				readonly("usdc_mint", b.cfg.USDCMint),
				signer("renter", r.Renter, true),
				readonly("token_program", TokenProgramID),
				readonly("associated_token_program", AssociatedTokenProgramID),
				readonly("system_program", SystemProgramID),
			},
			Data: newBorsh(IxPayRental).u64(amount).base64(),
			Args: map[string]any{"amount": amount},
		},
	}
	return &p, nil
}

// CompletionInstructions releases the escrow to the owner, signed by the renter.
func (b *Bridge) CompletionInstructions(r Rental) (*Payload, error) {
	if r.Owner.IsZero() {
		return nil, ErrNoWallet
	}
	acc, err := b.Derive(r)
	if err != nil {
		return nil, err
	}
	ownerATA, err := AssociatedTokenAddress(r.Owner, b.cfg.USDCMint)
	if err != nil {
		return nil, err
	}
	adminATA, err := AssociatedTokenAddress(b.cfg.AdminWallet, b.cfg.USDCMint)
	if err != nil {
		return nil, err
	}

	p := b.payload(r)
	p.Instructions = []Instruction{{
		Name:      IxCompleteRental,
		ProgramID: b.cfg.ProgramID,
		Accounts: []AccountMeta{
			writable("rental_transaction", acc.RentalTransaction),
			writable("escrow_token_account", acc.Escrow),
			writable("owner_token_account", ownerATA),
			writable("admin_token_account", adminATA),
			readonly("global_state", acc.GlobalState),
			readonly("usdc_mint", b.cfg.USDCMint),
			signer("signer", r.Renter, false),
			readonly("token_program", TokenProgramID),
		},
		Data: newBorsh(IxCompleteRental).base64(),
		Args: map[string]any{"product_id": r.ProductID, "renter": r.Renter},
	}}
	return &p, nil
}

// CancelInstructions builds the cancellation a party signs on chain. method is one of
// IxCancelAsRenterCreated, IxCancelAsRenterPaid or IxCancelAsOwner.
func (b *Bridge) CancelInstructions(r Rental, method string) (*Payload, error) {
	acc, err := b.Derive(r)
	if err != nil {
		return nil, err
	}
	p := b.payload(r)

	switch method {
	case IxCancelAsRenterCreated:
		p.Instructions = []Instruction{{
			Name:      method,
			ProgramID: b.cfg.ProgramID,
			Accounts: []AccountMeta{
				writable("rental_transaction", acc.RentalTransaction),
				signer("renter", r.Renter, true),
			},
			Data: newBorsh(method).base64(),
		}}
		return &p, nil
	case IxCancelAsOwner, IxCancelAsRenterPaid:
	default:
		return nil, fmt.Errorf("unknown cancel instruction %q", method)
	}

	renterATA, err := AssociatedTokenAddress(r.Renter, b.cfg.USDCMint)
	if err != nil {
		return nil, err
	}
	if method == IxCancelAsOwner {
		// Full refund; no platform fee account.
		if r.Owner.IsZero() {
			return nil, ErrNoWallet
		}
		p.Instructions = []Instruction{{
			Name:      method,
			ProgramID: b.cfg.ProgramID,
			Accounts: []AccountMeta{
				writable("rental_transaction", acc.RentalTransaction),
				writable("escrow_token_account", acc.Escrow),
				writable("renter_token_account", renterATA),
				readonly("usdc_mint", b.cfg.USDCMint),
				signer("owner", r.Owner, true),
				readonly("token_program", TokenProgramID),
			},
			Data: newBorsh(method).base64(),
		}}
		return &p, nil
	}

	adminATA, err := AssociatedTokenAddress(b.cfg.AdminWallet, b.cfg.USDCMint)
	if err != nil {
		return nil, err
	}
	p.Instructions = []Instruction{{
		Name:      method,
		ProgramID: b.cfg.ProgramID,
		Accounts: []AccountMeta{
			writable("rental_transaction", acc.RentalTransaction),
			writable("escrow_token_account", acc.Escrow),
			writable("renter_token_account", renterATA),
			writable("admin_token_account", adminATA),
			readonly("global_state", acc.GlobalState),
			signer("renter", r.Renter, true),
			readonly("usdc_mint", b.cfg.USDCMint),
			readonly("token_program", TokenProgramID),
		},
		Data: newBorsh(method).base64(),
	}}
	return &p, nil
}
