package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/auth"
	"github.com/and161185/rewardvault/internal/convert"
	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/trigger"
)

const maxWebhookBody = 1 << 20

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn("readiness: store ping", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "store unavailable")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"state": "ready"})
}

// stripeWebhook answers 400 for untrusted or malformed deliveries, 500 when a
// redelivery could succeed, and 200 otherwise.
func (h *handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unreadable body")
		return
	}
	res, err := h.webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrInvalidSignature), errors.Is(err, errs.ErrValidation):
		status, code, msg := mapDomainError(err)
		writeError(w, status, code, msg)
		return
	default:
		writeError(w, http.StatusInternalServerError, "RETRY", "processing failed, retry delivery")
		return
	}

	body := map[string]any{"received": true, "event_id": res.EventID}
	if res.Ignored != "" {
		body["ignored"] = res.Ignored
	}
	if res.Report != nil {
		body["report"] = convert.ToReport(*res.Report)
	}
	writeSuccess(w, http.StatusOK, body)
}

func (h *handler) listPackages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromCtx(r.Context())

	// ?sync=1 runs the user-sync adapter first; its failures never block the read.
	if v, _ := strconv.ParseBool(r.URL.Query().Get("sync")); v {
		if _, err := h.sync.Sync(r.Context(), userID, ""); err != nil {
			h.log.Warn("pre-list sync failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}

	pkgs, err := h.packages.ListActive(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"packages": convert.ToPackages(pkgs)})
}

type syncRequest struct {
	SessionID string `json:"session_id"`
}

func (h *handler) syncPackages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromCtx(r.Context())

	var req syncRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := h.sync.Sync(r.Context(), userID, strings.TrimSpace(req.SessionID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Throttled {
		w.Header().Set("Retry-After", strconv.Itoa(convert.ToSync(res).RetryAfterSeconds))
	}
	writeSuccess(w, http.StatusOK, convert.ToSync(res))
}

type recoveryRequest struct {
	Since       string `json:"since"`
	Limit       int    `json:"limit"`
	DryRun      bool   `json:"dry_run"`
	Concurrency int    `json:"concurrency"`
}

func (h *handler) runRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	since, err := parseSince(req.Since, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Limit < 0 || req.Concurrency < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit and concurrency must be positive")
		return
	}

	p, _ := auth.PrincipalFromCtx(r.Context())
	h.log.Info("recovery requested",
		zap.String("operator", p.UserID.String()),
		zap.Bool("dry_run", req.DryRun),
		zap.String("since", req.Since),
	)
	rep, err := h.recovery.Run(r.Context(), trigger.RecoveryOptions{
		Since:       since,
		Limit:       req.Limit,
		DryRun:      req.DryRun,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, rep)
}

// decodeOptionalJSON decodes r's body into dst; an empty body leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed json: %v", errs.ErrValidation, err)
	}
	return nil
}

// parseSince accepts a Go duration ("24h") relative to now, or an RFC3339 instant.
func parseSince(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("%w: since must be positive", errs.ErrValidation)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: since: want duration or RFC3339", errs.ErrValidation)
	}
	return t, nil
}
