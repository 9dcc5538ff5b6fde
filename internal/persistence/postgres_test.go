package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestGateFailsFastWhenQueueFull(t *testing.T) {
	p := newGate(1, 0, 0)

	_, release, err := p.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, _, err = p.acquire(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGateWaitIsBoundedByContext(t *testing.T) {
	p := newGate(1, 1, 0)

	_, release, err := p.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = p.acquire(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Zero(t, p.waiting.Load())
}

func TestGateReleaseFreesSlot(t *testing.T) {
	p := newGate(1, 0, 0)

	_, release, err := p.acquire(context.Background())
	require.NoError(t, err)
	release()

	_, release, err = p.acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestGateAppliesQueryTimeout(t *testing.T) {
	p := newGate(2, 0, 50*time.Millisecond)

	ctx, release, err := p.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
}

func TestUnconfiguredPostgresIsUnavailable(t *testing.T) {
	var p *Postgres

	require.ErrorIs(t, p.Ping(context.Background()), ErrUnavailable)

	var id string
	require.ErrorIs(t, p.QueryRow(context.Background(), "SELECT 1").Scan(&id), ErrUnavailable)

	_, err := p.Exec(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))
	require.ErrorIs(t, classify(context.DeadlineExceeded), ErrUnavailable)
	require.ErrorIs(t, classify(fmt.Errorf("query: %w", context.DeadlineExceeded)), ErrUnavailable)
	require.ErrorIs(t, classify(pgx.ErrNoRows), pgx.ErrNoRows)
	require.False(t, errors.Is(classify(pgx.ErrNoRows), ErrUnavailable))
}
