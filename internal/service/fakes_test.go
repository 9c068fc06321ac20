package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/events"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/repository"
)

type pairKey struct {
	user uuid.UUID
	slug string
}

// memEntitlements behaves like the entitlements table: the mutex plays the
// role of the partial unique index on (user_id, product_slug).
type memEntitlements struct {
	mu     sync.Mutex
	active map[pairKey]*model.Entitlement
	all    []*model.Entitlement

	// failSlugs makes InsertIfAbsent fail for the slug the given number of times.
	failSlugs map[string]int
	inserts   int
}

var _ repository.EntitlementRepository = (*memEntitlements)(nil)

func newMemEntitlements() *memEntitlements {
	return &memEntitlements{active: map[pairKey]*model.Entitlement{}, failSlugs: map[string]int{}}
}

func (m *memEntitlements) InsertIfAbsent(_ context.Context, e *model.Entitlement) (bool, *model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failSlugs[e.ProductSlug]; n > 0 {
		m.failSlugs[e.ProductSlug] = n - 1
		return false, nil, errConnRefused
	}
	k := pairKey{e.UserID, e.ProductSlug}
	if cur, ok := m.active[k]; ok {
		cp := *cur
		return false, &cp, nil
	}
	stored := *e
	stored.CreatedAt = time.Now().UTC()
	m.active[k] = &stored
	m.all = append(m.all, &stored)
	m.inserts++
	cp := stored
	return true, &cp, nil
}

func (m *memEntitlements) GetActive(_ context.Context, userID uuid.UUID, slug string) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.active[pairKey{userID, slug}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *cur
	return &cp, nil
}

func (m *memEntitlements) ListActive(_ context.Context, userID uuid.UUID) ([]model.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Package
	for _, e := range m.all {
		if e.UserID == userID && e.Status == model.EntitlementActive {
			out = append(out, model.Package{Entitlement: *e})
		}
	}
	return out, nil
}

func (m *memEntitlements) SetStatus(_ context.Context, userID uuid.UUID, slug string, status model.EntitlementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{userID, slug}
	cur, ok := m.active[k]
	if !ok {
		return errs.ErrNotFound
	}
	cur.Status = status
	delete(m.active, k)
	return nil
}

func (m *memEntitlements) count(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.all {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

type connErr struct{}

func (connErr) Error() string { return "connection refused" }

var errConnRefused error = connErr{}

type memCarts struct {
	mu       sync.Mutex
	carts    map[uuid.UUID]*model.Cart
	getErr   error
	markErr  error
	marks    int
	ordered  map[uuid.UUID]string
	getCalls int
}

var _ repository.CartRepository = (*memCarts)(nil)

func newMemCarts(cs ...*model.Cart) *memCarts {
	m := &memCarts{carts: map[uuid.UUID]*model.Cart{}, ordered: map[uuid.UUID]string{}}
	for _, c := range cs {
		m.carts[c.ID] = c
	}
	return m
}

func (m *memCarts) GetSnapshot(_ context.Context, cartID uuid.UUID) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.carts[cartID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *c
	cp.Items = append([]model.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *memCarts) MarkOrdered(_ context.Context, cartID uuid.UUID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	c, ok := m.carts[cartID]
	if !ok || c.Status != model.CartOpen {
		return false, nil
	}
	c.Status = model.CartOrdered
	c.SessionID = sessionID
	m.ordered[cartID] = sessionID
	m.marks++
	return true, nil
}

func (m *memCarts) status(cartID uuid.UUID) model.CartStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[cartID].Status
}

type recPublisher struct {
	mu  sync.Mutex
	evs []events.Event
	err error
}

func (p *recPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return p.err
}

func product(slug string, price int64) *model.Product {
	return &model.Product{ID: uuid.Must(uuid.NewV4()), Slug: slug, Name: slug, PriceCents: price, Active: true}
}

func openCart(user uuid.UUID, items ...model.CartItem) *model.Cart {
	return &model.Cart{ID: uuid.Must(uuid.NewV4()), UserID: user, Status: model.CartOpen, Items: items}
}

func item(p *model.Product, qty int) model.CartItem {
	return model.CartItem{ProductID: p.ID, Quantity: qty, AddedAt: time.Now(), Product: p}
}
