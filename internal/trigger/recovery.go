package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/payments"
)

// RecoveryOptions scopes an operator recovery run. Zero values take defaults.
type RecoveryOptions struct {
	Since       time.Time
	Limit       int
	DryRun      bool
	Concurrency int
}

// Recovery entry outcomes besides the reconcile outcomes.
const (
	OutcomeCandidate = "candidate"
	OutcomeSkipped   = "skipped"
)

// RecoveryEntry is the audit record for one session.
type RecoveryEntry struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	CartID    string `json:"cart_id,omitempty"`
	Outcome   string `json:"outcome"`
	Created   int    `json:"entitlements_created"`
	Error     string `json:"error,omitempty"`
}

// RecoveryReport aggregates a recovery run.
type RecoveryReport struct {
	Since               time.Time       `json:"since"`
	DryRun              bool            `json:"dry_run"`
	Scanned             int             `json:"scanned"`
	Candidates          int             `json:"candidates"`
	EntitlementsCreated int             `json:"entitlements_created"`
	Failed              int             `json:"failed"`
	Entries             []RecoveryEntry `json:"entries"`
}

// RecoveryDefaults apply when a run leaves options unset.
type RecoveryDefaults struct {
	Lookback         time.Duration
	Limit            int
	Concurrency      int
	ProcessorTimeout time.Duration
}

// Recovery scans recently completed sessions across all customers.
type Recovery struct {
	proc payments.Processor
	rec  Reconciler
	def  RecoveryDefaults
	log  *zap.Logger
	now  func() time.Time
}

// NewRecovery constructs the recovery adapter.
func NewRecovery(proc payments.Processor, rec Reconciler, def RecoveryDefaults, log *zap.Logger) *Recovery {
	if def.Lookback <= 0 {
		def.Lookback = 24 * time.Hour
	}
	if def.Limit <= 0 {
		def.Limit = 100
	}
	if def.Concurrency <= 0 {
		def.Concurrency = 4
	}
	if def.ProcessorTimeout <= 0 {
		def.ProcessorTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recovery{proc: proc, rec: rec, def: def, log: log, now: time.Now}
}

// Run reconciles every completed cart checkout in scope and returns the audit report.
// A processor failure aborts the run before anything is reconciled.
func (r *Recovery) Run(ctx context.Context, opts RecoveryOptions) (RecoveryReport, error) {
	if opts.Since.IsZero() {
		opts.Since = r.now().Add(-r.def.Lookback)
	}
	if opts.Limit <= 0 {
		opts.Limit = r.def.Limit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = r.def.Concurrency
	}
	log := r.log.With(zap.Bool("dry_run", opts.DryRun), zap.Time("since", opts.Since))

	pctx, cancel := context.WithTimeout(ctx, r.def.ProcessorTimeout)
	sessions, err := r.proc.ListCompletedSessions(pctx, payments.SessionFilter{Since: opts.Since, Limit: opts.Limit})
	cancel()
	if err != nil {
		log.Error("recovery: list sessions", zap.Error(err))
		return RecoveryReport{}, err
	}

	rep := RecoveryReport{Since: opts.Since, DryRun: opts.DryRun, Scanned: len(sessions)}
	var reqs []model.ReconcileRequest
	for _, s := range sessions {
		if reconcilable(s) != "" {
			continue
		}
		req, err := requestFor(s, model.SourceRecovery)
		if err != nil {
			rep.Entries = append(rep.Entries, RecoveryEntry{SessionID: s.ID, Outcome: OutcomeSkipped, Error: err.Error()})
			log.Warn("recovery: skipped session", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		reqs = append(reqs, req)
	}
	rep.Candidates = len(reqs)

	entries := make([]RecoveryEntry, len(reqs))
	if opts.DryRun {
		for i, req := range reqs {
			entries[i] = entryFor(req, OutcomeCandidate)
			r.audit(log, entries[i])
		}
	} else {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i, req := range reqs {
			i, req := i, req
			g.Go(func() error {
				out := r.rec.Reconcile(gctx, req)
				e := entryFor(req, out.Outcome())
				e.Created = out.EntitlementsCreated
				if err := reportErr(out); err != nil {
					e.Error = err.Error()
				}
				entries[i] = e
				r.audit(log, e)
				mu.Lock()
				rep.EntitlementsCreated += out.EntitlementsCreated
				if out.Failed() {
					rep.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	rep.Entries = append(rep.Entries, entries...)

	log.Info("recovery finished",
		zap.Int("scanned", rep.Scanned),
		zap.Int("candidates", rep.Candidates),
		zap.Int("created", rep.EntitlementsCreated),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

// Replay reconciles a single session by id on an operator's request.
func (r *Recovery) Replay(ctx context.Context, sessionID string) (RecoveryEntry, error) {
	pctx, cancel := context.WithTimeout(ctx, r.def.ProcessorTimeout)
	s, err := r.proc.RetrieveSession(pctx, sessionID)
	cancel()
	if err != nil {
		return RecoveryEntry{}, err
	}
	if reason := reconcilable(*s); reason != "" {
		return RecoveryEntry{SessionID: s.ID, Outcome: OutcomeSkipped, Error: reason}, nil
	}
	req, err := requestFor(*s, model.SourceManual)
	if err != nil {
		return RecoveryEntry{}, err
	}
	out := r.rec.Reconcile(ctx, req)
	e := entryFor(req, out.Outcome())
	e.Created = out.EntitlementsCreated
	if err := reportErr(out); err != nil {
		e.Error = err.Error()
	}
	r.audit(r.log, e)
	return e, nil
}

func (r *Recovery) audit(log *zap.Logger, e RecoveryEntry) {
	log.Info("recovery audit",
		zap.String("session_id", e.SessionID),
		zap.String("user_id", e.UserID),
		zap.String("cart_id", e.CartID),
		zap.String("outcome", e.Outcome),
		zap.Int("created", e.Created),
		zap.String("error", e.Error),
	)
}

func entryFor(req model.ReconcileRequest, outcome string) RecoveryEntry {
	return RecoveryEntry{
		SessionID: req.SessionID,
		UserID:    req.UserID.String(),
		CartID:    req.CartID.String(),
		Outcome:   outcome,
	}
}

// reportErr flattens the failures of a report into one error, or nil.
func reportErr(rep model.ReconcileReport) error {
	if rep.CartErr != nil {
		return rep.CartErr
	}
	var n int
	var first error
	for _, it := range rep.Results {
		if it.Err != nil {
			if first == nil {
				first = it.Err
			}
			n++
		}
	}
	if first == nil {
		return nil
	}
	if n == 1 {
		return first
	}
	return fmt.Errorf("%d items failed, first: %w", n, first)
}
