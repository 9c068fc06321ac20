package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/limiter"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/payments"
	"github.com/and161185/rewardvault/internal/repository"
)

type fakeVerifier struct {
	ev  payments.Event
	err error
}

var _ payments.EventVerifier = (*fakeVerifier)(nil)

func (f *fakeVerifier) Verify([]byte, string) (payments.Event, error) { return f.ev, f.err }

type fakeProcessor struct {
	mu       sync.Mutex
	sessions map[string]model.CheckoutSession
	list     []model.CheckoutSession
	err      error
	filter   payments.SessionFilter
	deadline bool
}

var _ payments.Processor = (*fakeProcessor)(nil)

func (f *fakeProcessor) RetrieveSession(ctx context.Context, id string) (*model.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (f *fakeProcessor) ListCompletedSessions(ctx context.Context, flt payments.SessionFilter) ([]model.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	f.filter = flt
	if f.err != nil {
		return nil, f.err
	}
	var out []model.CheckoutSession
	for _, s := range f.list {
		if flt.UserID != "" && s.Metadata.UserID != flt.UserID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// fakeReconciler records requests and answers with a canned report per session.
type fakeReconciler struct {
	mu      sync.Mutex
	reqs    []model.ReconcileRequest
	reports map[string]model.ReconcileReport
	created int
}

var _ Reconciler = (*fakeReconciler)(nil)

func (f *fakeReconciler) Reconcile(_ context.Context, req model.ReconcileRequest) model.ReconcileReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if rep, ok := f.reports[req.SessionID]; ok {
		rep.SessionID, rep.UserID, rep.CartID = req.SessionID, req.UserID, req.CartID
		return rep
	}
	return model.ReconcileReport{
		SessionID: req.SessionID, UserID: req.UserID, CartID: req.CartID,
		EntitlementsCreated: f.created,
	}
}

func (f *fakeReconciler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeCustomers struct {
	refs    map[uuid.UUID]string
	getErr  error
	linkErr error
	linked  map[uuid.UUID]string
}

var _ repository.CustomerRepository = (*fakeCustomers)(nil)

func (f *fakeCustomers) GetCustomerRef(_ context.Context, userID uuid.UUID) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	ref, ok := f.refs[userID]
	if !ok {
		return "", errs.ErrNotFound
	}
	return ref, nil
}

func (f *fakeCustomers) LinkCustomer(_ context.Context, userID uuid.UUID, ref string) error {
	if f.linked == nil {
		f.linked = map[uuid.UUID]string{}
	}
	f.linked[userID] = ref
	return f.linkErr
}

type fakeThrottle struct {
	ok    bool
	retry time.Duration
	err   error
	keys  []string
}

var _ limiter.Throttle = (*fakeThrottle)(nil)

func (f *fakeThrottle) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	f.keys = append(f.keys, key)
	return f.ok, f.retry, f.err
}

func cartSession(id string, user, cart uuid.UUID) model.CheckoutSession {
	return model.CheckoutSession{
		ID:            id,
		Mode:          model.SessionModePayment,
		Status:        model.SessionStatusComplete,
		PaymentStatus: model.PaymentStatusPaid,
		CustomerRef:   "cus_1",
		Created:       time.Now(),
		Metadata: model.SessionMetadata{
			UserID: user.String(),
			CartID: cart.String(),
			Kind:   model.SessionKindCartCheckout,
		},
	}
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }
