package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/products"
	"github.com/ariefcatur/go-rental-bookings/internal/profiles"
	"github.com/ariefcatur/go-rental-bookings/internal/settlement"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// memStore applies the same conditional writes as Repo under one lock.
type memStore struct {
	mu     sync.Mutex
	rows   map[string]*Booking
	events []EventRecord
}

func newMemStore() *memStore { return &memStore{rows: map[string]*Booking{}} }

func (m *memStore) put(b Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	m.rows[b.ID] = &b
}

func (m *memStore) snapshot(id string) Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memStore) Get(_ context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) CreateIfAvailable(_ context.Context, b *Booking) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.ProductID != b.ProductID || (o.Status != StatusPending && o.Status != StatusConfirmed) {
			continue
		}
		if o.StartDate.Before(b.EndDate) && o.EndDate.After(b.StartDate) {
			return nil, ErrUnavailable
		}
	}
	cp := *b
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Status = StatusPending
	cp.UpdatedAt = cp.CreatedAt
	m.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) transition(id, renterID, signature string, from Status, apply func(*Booking)) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != from || (renterID != "" && b.RenterID != renterID) || m.used(signature) {
		return nil, errNotApplied
	}
	apply(b)
	cp := *b
	return &cp, nil
}

func (m *memStore) ConfirmPayment(_ context.Context, id, renterID, signature string, at time.Time) (*Booking, error) {
	return m.transition(id, renterID, signature, StatusPending, func(b *Booking) {
		b.Status, b.PaymentIntentID, b.ConfirmedAt, b.UpdatedAt = StatusConfirmed, &signature, &at, at
	})
}

func (m *memStore) Complete(_ context.Context, id, renterID, signature string, at time.Time) (*Booking, error) {
	return m.transition(id, renterID, signature, StatusConfirmed, func(b *Booking) {
		b.Status, b.CompletionTransactionSignature, b.CompletedAt, b.UpdatedAt = StatusCompleted, &signature, &at, at
	})
}

func (m *memStore) Cancel(_ context.Context, u CancelUpdate) (*Booking, error) {
	var sig string
	if u.Signature != nil {
		sig = *u.Signature
	}
	return m.transition(u.ID, "", sig, u.From, func(b *Booking) {
		at := u.At
		b.Status, b.CancelledAt, b.UpdatedAt = StatusCancelled, &at, at
		if u.Notes != nil {
			b.CancellationNotes = u.Notes
		}
		if u.Signature != nil {
			b.CancellationTransactionSignature = u.Signature
		}
	})
}

func (m *memStore) SignatureUsed(_ context.Context, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used(signature), nil
}

// used reports whether any row holds signature in one of its three columns.
func (m *memStore) used(signature string) bool {
	if signature == "" {
		return false
	}
	for _, b := range m.rows {
		for _, p := range []*string{b.PaymentIntentID, b.CompletionTransactionSignature, b.CancellationTransactionSignature} {
			if p != nil && *p == signature {
				return true
			}
		}
	}
	return false
}

func (m *memStore) ExpirePending(_ context.Context, cutoff, at time.Time, note string) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Booking{}
	for _, b := range m.rows {
		if b.Status == StatusPending && b.CreatedAt.Before(cutoff) {
			n, ts := note, at
			b.Status, b.CancelledAt, b.UpdatedAt, b.CancellationNotes = StatusCancelled, &ts, at, &n
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Booking
	for _, b := range m.rows {
		switch f.Role {
		case RoleRenter:
			if b.RenterID != f.UserID {
				continue
			}
		case RoleOwner:
			if b.OwnerID != f.UserID {
				continue
			}
		default:
			if !b.Party(f.UserID) {
				continue
			}
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		all = append(all, *b)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	lo := min(f.Offset, total)
	hi := min(f.Offset+f.Limit, total)
	return append([]Booking{}, all[lo:hi]...), total, nil
}

func (m *memStore) AppendEvent(_ context.Context, e EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.events {
		if o.EventID == e.EventID {
			return nil
		}
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, bookingID string) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []EventRecord{}
	for _, e := range m.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

type productMap map[int64]*products.Product

func (p productMap) Get(_ context.Context, id int64) (*products.Product, error) {
	if v, ok := p[id]; ok {
		return v, nil
	}
	return nil, products.ErrNotFound
}

type profileMap map[string]*profiles.Profile

func (p profileMap) Get(_ context.Context, id string) (*profiles.Profile, error) {
	if v, ok := p[id]; ok {
		return v, nil
	}
	return nil, profiles.ErrNotFound
}

type fakeVerifier struct {
	mu    sync.Mutex
	err   error
	calls []settlement.Expectation
	// onChain maps a signature to the program method its transaction called.
	onChain map[string]string
}

func (f *fakeVerifier) Verify(_ context.Context, sig string, exp settlement.Expectation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, exp)
	if m, ok := f.onChain[sig]; ok && m != exp.Method {
		return settlement.ErrTxMethod
	}
	return f.err
}

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeProducer) Publish(topic string, key, value []byte, _ ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, key: string(key), value: value})
}

func (f *fakeProducer) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.topic
	}
	return out
}

type mapCache struct {
	mu   sync.Mutex
	rows map[string]Booking
	hits int
}

func newMapCache() *mapCache { return &mapCache{rows: map[string]Booking{}} }

func (c *mapCache) Get(_ context.Context, id string) (*Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.rows[id]
	if !ok {
		return nil, nil
	}
	c.hits++
	return &b, nil
}

func (c *mapCache) Set(_ context.Context, b *Booking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[b.ID] = *b
	return nil
}

func (c *mapCache) Add(_ context.Context, b *Booking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[b.ID]; !ok {
		c.rows[b.ID] = *b
	}
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, id)
	return nil
}
