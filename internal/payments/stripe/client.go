// Package stripe implements the payments collaborator on top of the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/payments"
)

// Keys written into session metadata by the checkout code.
const (
	metaUserID = "userId"
	metaCartID = "cartId"
	metaKind   = "type"
)

const maxPageSize = 100

type sessionIter interface {
	Next() bool
	CheckoutSession() *stripeapi.CheckoutSession
	Err() error
}

type sessionAPI interface {
	Get(id string, params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	List(params *stripeapi.CheckoutSessionListParams) sessionIter
}

type sdkSessions struct{ c *session.Client }

func (s sdkSessions) Get(id string, p *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
	return s.c.Get(id, p)
}

func (s sdkSessions) List(p *stripeapi.CheckoutSessionListParams) sessionIter { return s.c.List(p) }

// BreakerSettings tunes the circuit breaker guarding processor calls.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client implements payments.Processor.
type Client struct {
	sessions sessionAPI
	breaker  *gobreaker.CircuitBreaker[any]
	log      *zap.Logger
}

var _ payments.Processor = (*Client)(nil)

// NewClient builds a Stripe-backed processor.
func NewClient(apiKey string, bs BreakerSettings, log *zap.Logger) *Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return newClient(sdkSessions{c: sc.CheckoutSessions}, bs, log)
}

func newClient(api sessionAPI, bs BreakerSettings, log *zap.Logger) *Client {
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = 5
	}
	if bs.OpenTimeout <= 0 {
		bs.OpenTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:    "stripe",
		Timeout: bs.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= bs.FailureThreshold
		},
		// Client errors (unknown session, bad params) say nothing about availability.
		IsSuccessful: func(err error) bool { return err == nil || !isOutage(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Client{sessions: api, breaker: gobreaker.NewCircuitBreaker[any](settings), log: log}
}

// RetrieveSession implements payments.Processor.
func (c *Client) RetrieveSession(ctx context.Context, id string) (*model.CheckoutSession, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", errs.ErrValidation)
	}
	res, err := c.breaker.Execute(func() (any, error) {
		p := &stripeapi.CheckoutSessionParams{}
		p.Context = ctx
		return c.sessions.Get(id, p)
	})
	if err != nil {
		return nil, c.mapErr("retrieve session", err)
	}
	s := toSession(res.(*stripeapi.CheckoutSession))
	return &s, nil
}

// ListCompletedSessions implements payments.Processor.
func (c *Client) ListCompletedSessions(ctx context.Context, f payments.SessionFilter) ([]model.CheckoutSession, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.list(ctx, f)
	})
	if err != nil {
		return nil, c.mapErr("list sessions", err)
	}
	return res.([]model.CheckoutSession), nil
}

func (c *Client) list(ctx context.Context, f payments.SessionFilter) ([]model.CheckoutSession, error) {
	p := &stripeapi.CheckoutSessionListParams{}
	p.Context = ctx
	page := int64(maxPageSize)
	if f.UserID == "" && f.Limit > 0 && f.Limit < maxPageSize {
		page = int64(f.Limit)
	}
	p.Limit = stripeapi.Int64(page)
	if f.CustomerRef != "" {
		p.Customer = stripeapi.String(f.CustomerRef)
	}
	p.Filters.AddFilter("status", "", string(stripeapi.CheckoutSessionStatusComplete))
	if !f.Since.IsZero() {
		p.Filters.AddFilter("created", "gte", strconv.FormatInt(f.Since.Unix(), 10))
	}

	var (
		out     []model.CheckoutSession
		scanned int
	)
	it := c.sessions.List(p)
	for it.Next() {
		s := toSession(it.CheckoutSession())
		scanned++
		if f.UserID != "" && f.MaxScan > 0 && scanned > f.MaxScan {
			break
		}
		if s.Status != model.SessionStatusComplete {
			continue
		}
		if f.UserID != "" && s.Metadata.UserID != f.UserID {
			continue
		}
		out = append(out, s)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) mapErr(op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: circuit open", errs.ErrProcessorUnavailable, op)
	case isNotFound(err):
		return fmt.Errorf("%w: %s", errs.ErrNotFound, op)
	case isOutage(err):
		c.log.Warn("stripe call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", errs.ErrProcessorUnavailable, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isNotFound(err error) bool {
	var se *stripeapi.Error
	return errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
}

// isOutage reports whether err reflects processor availability rather than a bad request.
func isOutage(err error) bool {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == 0 || se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500
	}
	return true
}

func toSession(s *stripeapi.CheckoutSession) model.CheckoutSession {
	out := model.CheckoutSession{
		ID:            s.ID,
		Mode:          string(s.Mode),
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		Created:       time.Unix(s.Created, 0).UTC(),
		Metadata: model.SessionMetadata{
			UserID: s.Metadata[metaUserID],
			CartID: s.Metadata[metaCartID],
			Kind:   s.Metadata[metaKind],
		},
	}
	if s.Customer != nil {
		out.CustomerRef = s.Customer.ID
	}
	return out
}
