package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/limiter"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/payments"
	"github.com/and161185/rewardvault/internal/repository"
)

// unlinkedScanFactor bounds how many sessions an unlinked user's sync may read
// from the processor, as a multiple of SyncOptions.Limit.
const unlinkedScanFactor = 10

// SyncOptions bounds the history scanned for one user.
type SyncOptions struct {
	Lookback         time.Duration
	Limit            int
	ProcessorTimeout time.Duration
}

// SyncResult summarizes one sync invocation.
type SyncResult struct {
	Throttled           bool
	RetryAfter          time.Duration
	SessionsScanned     int
	EntitlementsCreated int
	Reports             []model.ReconcileReport
}

// UserSync reconciles the authenticated caller's own completed sessions.
type UserSync struct {
	proc      payments.Processor
	customers repository.CustomerRepository
	rec       Reconciler
	throttle  limiter.Throttle
	opts      SyncOptions
	log       *zap.Logger
	now       func() time.Time
}

// NewUserSync constructs the user-sync adapter. A nil throttle admits every scan.
func NewUserSync(proc payments.Processor, customers repository.CustomerRepository, rec Reconciler, th limiter.Throttle, opts SyncOptions, log *zap.Logger) *UserSync {
	if th == nil {
		th = limiter.Unlimited{}
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.ProcessorTimeout <= 0 {
		opts.ProcessorTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserSync{proc: proc, customers: customers, rec: rec, throttle: th, opts: opts, log: log, now: time.Now}
}

// Sync reconciles userID's completed sessions. When sessionID is set only that
// session is checked, and it must belong to userID.
func (u *UserSync) Sync(ctx context.Context, userID uuid.UUID, sessionID string) (SyncResult, error) {
	if userID == uuid.Nil {
		return SyncResult{}, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	log := u.log.With(zap.String("user_id", userID.String()))
	if sessionID != "" {
		return u.syncOne(ctx, log, userID, sessionID)
	}

	ok, retry, err := u.throttle.Allow(ctx, "sync:"+userID.String())
	if err != nil {
		log.Warn("sync throttle unavailable, scanning anyway", zap.Error(err))
	} else if !ok {
		log.Debug("sync throttled", zap.Duration("retry_after", retry))
		return SyncResult{Throttled: true, RetryAfter: retry}, nil
	}

	filter := payments.SessionFilter{
		Since: u.now().Add(-u.opts.Lookback),
		Limit: u.opts.Limit,
	}
	ref, err := u.customers.GetCustomerRef(ctx, userID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		// No webhook has linked a customer yet. Scan recent sessions by owner.
		filter.UserID = userID.String()
		filter.MaxScan = u.opts.Limit * unlinkedScanFactor
	case err != nil:
		return SyncResult{}, fmt.Errorf("%w: customer lookup: %v", errs.ErrStoreUnavailable, err)
	default:
		filter.CustomerRef = ref
	}

	pctx, cancel := context.WithTimeout(ctx, u.opts.ProcessorTimeout)
	sessions, err := u.proc.ListCompletedSessions(pctx, filter)
	cancel()
	if err != nil {
		log.Warn("list sessions", zap.Error(err))
		return SyncResult{}, err
	}

	res := SyncResult{SessionsScanned: len(sessions)}
	for _, s := range sessions {
		if reconcilable(s) != "" || s.Metadata.UserID != userID.String() {
			continue
		}
		req, err := requestFor(s, model.SourceUserSync)
		if err != nil {
			log.Warn("sync skipped session", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if ref == "" && s.CustomerRef != "" {
			ref = s.CustomerRef
			if err := u.customers.LinkCustomer(ctx, userID, ref); err != nil {
				log.Warn("link customer", zap.String("customer_ref", ref), zap.Error(err))
			}
		}
		rep := u.rec.Reconcile(ctx, req)
		res.EntitlementsCreated += rep.EntitlementsCreated
		res.Reports = append(res.Reports, rep)
	}
	if res.EntitlementsCreated > 0 {
		log.Info("sync granted missing entitlements", zap.Int("created", res.EntitlementsCreated))
	}
	return res, nil
}

func (u *UserSync) syncOne(ctx context.Context, log *zap.Logger, userID uuid.UUID, sessionID string) (SyncResult, error) {
	pctx, cancel := context.WithTimeout(ctx, u.opts.ProcessorTimeout)
	s, err := u.proc.RetrieveSession(pctx, sessionID)
	cancel()
	if err != nil {
		log.Warn("retrieve session", zap.String("session_id", sessionID), zap.Error(err))
		return SyncResult{}, err
	}
	if s.Metadata.UserID != userID.String() {
		return SyncResult{}, fmt.Errorf("%w: session %s belongs to another user", errs.ErrForbidden, sessionID)
	}

	res := SyncResult{SessionsScanned: 1}
	if reconcilable(*s) != "" {
		return res, nil
	}
	req, err := requestFor(*s, model.SourceUserSync)
	if err != nil {
		return res, err
	}
	rep := u.rec.Reconcile(ctx, req)
	res.EntitlementsCreated = rep.EntitlementsCreated
	res.Reports = []model.ReconcileReport{rep}
	return res, nil
}
