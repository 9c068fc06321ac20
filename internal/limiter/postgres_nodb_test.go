package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

/************ fake pgx ************/
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	upsertErr  error
	lastAt     time.Time
	selectErr  error
	upsertArgs []any

	lastExecSQL string
	execTag     pgconn.CommandTag
	execErr     error
}

func (f *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	return f.execTag, f.execErr
}

func (f *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "INSERT INTO sync_throttle"):
		f.upsertArgs = args
		return fakeRow{scan: func(dest ...any) error {
			if f.upsertErr != nil {
				return f.upsertErr
			}
			*(dest[0].(*time.Time)) = time.Now()
			return nil
		}}
	case strings.Contains(sql, "SELECT last_at"):
		return fakeRow{scan: func(dest ...any) error {
			if f.selectErr != nil {
				return f.selectErr
			}
			*(dest[0].(*time.Time)) = f.lastAt
			return nil
		}}
	default:
		return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
	}
}

func TestPGAllow_Admits(t *testing.T) {
	fp := &fakePool{}
	l := NewPG(fp, time.Minute)

	ok, dur, err := l.Allow(context.Background(), "sync:u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, dur)
	require.Equal(t, []any{"sync:u1", time.Minute}, fp.upsertArgs)
}

func TestPGAllow_ThrottledReportsRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fp := &fakePool{upsertErr: pgx.ErrNoRows, lastAt: now.Add(-20 * time.Second)}
	l := NewPG(fp, time.Minute)
	l.now = func() time.Time { return now }

	ok, dur, err := l.Allow(context.Background(), "sync:u1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 40*time.Second, dur)
}

func TestPGAllow_RetryAfterFallsBackToWindow(t *testing.T) {
	fp := &fakePool{upsertErr: pgx.ErrNoRows, selectErr: pgx.ErrNoRows}
	l := NewPG(fp, time.Minute)

	ok, dur, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, time.Minute, dur)
}

func TestPGAllow_DBError_Propagates(t *testing.T) {
	fp := &fakePool{upsertErr: errors.New("db boom")}
	l := NewPG(fp, time.Minute)

	ok, _, err := l.Allow(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}

func TestPGAllow_ZeroWindowDisables(t *testing.T) {
	fp := &fakePool{upsertErr: errors.New("must not be called")}
	l := NewPG(fp, 0)

	ok, _, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, fp.upsertArgs)
}

func TestPGPrune(t *testing.T) {
	fp := &fakePool{execTag: pgconn.NewCommandTag("DELETE 3")}
	l := NewPG(fp, time.Minute)

	n, err := l.Prune(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Contains(t, fp.lastExecSQL, "DELETE FROM sync_throttle")

	fp.execErr = errors.New("exec fail")
	_, err = l.Prune(context.Background())
	require.Error(t, err)
}
