package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/rewardvault/internal/auth"
	"github.com/and161185/rewardvault/internal/errs"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/trigger"
)

var signKey = []byte("test-key")

type fakePackages struct {
	out    []model.Package
	err    error
	userID uuid.UUID
}

func (f *fakePackages) ListActive(_ context.Context, id uuid.UUID) ([]model.Package, error) {
	f.userID = id
	return f.out, f.err
}

type fakeWebhooks struct {
	res     trigger.WebhookResult
	err     error
	payload string
	sig     string
}

func (f *fakeWebhooks) Handle(_ context.Context, payload []byte, sig string) (trigger.WebhookResult, error) {
	f.payload, f.sig = string(payload), sig
	return f.res, f.err
}

type fakeSync struct {
	res       trigger.SyncResult
	err       error
	calls     int
	userID    uuid.UUID
	sessionID string
}

func (f *fakeSync) Sync(_ context.Context, id uuid.UUID, sessionID string) (trigger.SyncResult, error) {
	f.calls++
	f.userID, f.sessionID = id, sessionID
	return f.res, f.err
}

type fakeRecovery struct {
	opts trigger.RecoveryOptions
	rep  trigger.RecoveryReport
	err  error
}

func (f *fakeRecovery) Run(_ context.Context, o trigger.RecoveryOptions) (trigger.RecoveryReport, error) {
	f.opts = o
	return f.rep, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

var (
	_ PackageLister  = (*fakePackages)(nil)
	_ WebhookHandler = (*fakeWebhooks)(nil)
	_ Syncer         = (*fakeSync)(nil)
	_ Recoverer      = (*fakeRecovery)(nil)
	_ Pinger         = fakePinger{}
)

type env struct {
	pkgs *fakePackages
	wh   *fakeWebhooks
	sync *fakeSync
	rec  *fakeRecovery
	h    http.Handler
}

func newEnv(t *testing.T, store error) *env {
	t.Helper()
	e := &env{pkgs: &fakePackages{}, wh: &fakeWebhooks{}, sync: &fakeSync{}, rec: &fakeRecovery{}}
	e.h = NewRouter(Deps{
		Packages: e.pkgs,
		Webhooks: e.wh,
		Sync:     e.sync,
		Recovery: e.rec,
		Tokens:   auth.NewVerifier(signKey),
		Store:    fakePinger{err: store},
	}, zaptest.NewLogger(t))
	return e
}

func token(t *testing.T, id uuid.UUID, role string) string {
	t.Helper()
	tok, err := auth.Sign(signKey, id, role, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(h http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusOK, do(e.h, http.MethodGet, "/healthz", "", "").Code)
	require.Equal(t, http.StatusOK, do(e.h, http.MethodGet, "/readyz", "", "").Code)

	down := newEnv(t, errors.New("dial tcp"))
	require.Equal(t, http.StatusServiceUnavailable, do(down.h, http.MethodGet, "/readyz", "", "").Code)
}

func TestWebhook_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"bad signature", fmt.Errorf("%w: x", errs.ErrInvalidSignature), http.StatusBadRequest},
		{"bad ids", fmt.Errorf("%w: bad cartId", errs.ErrValidation), http.StatusBadRequest},
		{"transient", fmt.Errorf("%w: load cart", errs.ErrStoreUnavailable), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.wh.err = tc.err
			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rr := httptest.NewRecorder()
			e.h.ServeHTTP(rr, req)

			require.Equal(t, tc.want, rr.Code)
			require.Equal(t, `{"id":"evt_1"}`, e.wh.payload)
			require.Equal(t, "t=1,v1=abc", e.wh.sig)
		})
	}
}

func TestWebhook_ReportsOutcome(t *testing.T) {
	e := newEnv(t, nil)
	e.wh.res = trigger.WebhookResult{EventID: "evt_1", Report: &model.ReconcileReport{SessionID: "cs_1", EntitlementsCreated: 2}}

	rr := do(e.h, http.MethodPost, "/webhooks/stripe", "", "{}")
	require.Equal(t, http.StatusOK, rr.Code)
	data := decode(t, rr)["data"].(map[string]any)
	require.Equal(t, "evt_1", data["event_id"])
	require.Equal(t, float64(2), data["report"].(map[string]any)["entitlements_created"])
}

func TestPackages_RequiresAuth(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusUnauthorized, do(e.h, http.MethodGet, "/v1/me/packages", "", "").Code)
	require.Equal(t, http.StatusUnauthorized, do(e.h, http.MethodGet, "/v1/me/packages", "Bearer junk", "").Code)
}

func TestPackages_ListsCallerPackages(t *testing.T) {
	e := newEnv(t, nil)
	user := uuid.Must(uuid.NewV4())
	e.pkgs.out = []model.Package{{
		Entitlement: model.Entitlement{ID: uuid.Must(uuid.NewV4()), UserID: user, ProductSlug: "pro", Status: model.EntitlementActive},
		Name:        "Pro",
	}}

	rr := do(e.h, http.MethodGet, "/v1/me/packages", token(t, user, ""), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, user, e.pkgs.userID)
	require.Zero(t, e.sync.calls)
	pkgs := decode(t, rr)["data"].(map[string]any)["packages"].([]any)
	require.Len(t, pkgs, 1)
	require.Equal(t, "pro", pkgs[0].(map[string]any)["product_slug"])
}

func TestPackages_SyncFirstFailureDoesNotBlock(t *testing.T) {
	e := newEnv(t, nil)
	e.sync.err = errs.ErrProcessorUnavailable
	user := uuid.Must(uuid.NewV4())

	rr := do(e.h, http.MethodGet, "/v1/me/packages?sync=1", token(t, user, ""), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, e.sync.calls)
	require.Equal(t, user, e.sync.userID)
}

func TestSync_Endpoint(t *testing.T) {
	e := newEnv(t, nil)
	user := uuid.Must(uuid.NewV4())
	e.sync.res = trigger.SyncResult{SessionsScanned: 1, EntitlementsCreated: 2}

	rr := do(e.h, http.MethodPost, "/v1/me/packages/sync", token(t, user, ""), `{"session_id":" cs_1 "}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "cs_1", e.sync.sessionID)
	require.Equal(t, user, e.sync.userID)

	rr = do(e.h, http.MethodPost, "/v1/me/packages/sync", token(t, user, ""), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, e.sync.sessionID)

	rr = do(e.h, http.MethodPost, "/v1/me/packages/sync", token(t, user, ""), `{"session":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSync_Throttled(t *testing.T) {
	e := newEnv(t, nil)
	e.sync.res = trigger.SyncResult{Throttled: true, RetryAfter: 9 * time.Second}

	rr := do(e.h, http.MethodPost, "/v1/me/packages/sync", token(t, uuid.Must(uuid.NewV4()), ""), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "9", rr.Header().Get("Retry-After"))
}

func TestSync_ErrorMapping(t *testing.T) {
	cases := map[error]int{
		errs.ErrForbidden:            http.StatusForbidden,
		errs.ErrNotFound:             http.StatusNotFound,
		errs.ErrProcessorUnavailable: http.StatusServiceUnavailable,
		errors.New("boom"):           http.StatusInternalServerError,
	}
	for err, want := range cases {
		e := newEnv(t, nil)
		e.sync.err = err
		rr := do(e.h, http.MethodPost, "/v1/me/packages/sync", token(t, uuid.Must(uuid.NewV4()), ""), `{"session_id":"cs_1"}`)
		require.Equal(t, want, rr.Code, err.Error())
	}
}

func TestRecovery_AdminOnly(t *testing.T) {
	e := newEnv(t, nil)
	rr := do(e.h, http.MethodPost, "/v1/admin/recovery", token(t, uuid.Must(uuid.NewV4()), ""), `{}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRecovery_Runs(t *testing.T) {
	e := newEnv(t, nil)
	e.rec.rep = trigger.RecoveryReport{Scanned: 3, Candidates: 2}
	admin := token(t, uuid.Must(uuid.NewV4()), auth.RoleAdmin)

	before := time.Now()
	rr := do(e.h, http.MethodPost, "/v1/admin/recovery", admin, `{"since":"24h","limit":100,"dry_run":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, e.rec.opts.DryRun)
	require.Equal(t, 100, e.rec.opts.Limit)
	require.WithinDuration(t, before.Add(-24*time.Hour), e.rec.opts.Since, 5*time.Second)
	require.Equal(t, float64(2), decode(t, rr)["data"].(map[string]any)["candidates"])

	rr = do(e.h, http.MethodPost, "/v1/admin/recovery", admin, `{"since":"yesterday"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	e.rec.err = errs.ErrProcessorUnavailable
	rr = do(e.h, http.MethodPost, "/v1/admin/recovery", admin, `{}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	got, err = parseSince("2h", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2025-12-31T00:00:00Z", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(-24*time.Hour), got)

	_, err = parseSince("-1h", now)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
