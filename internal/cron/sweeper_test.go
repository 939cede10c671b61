package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	now, revokedBefore time.Time
	err                error
}

func (f *fakeTokens) DeleteDead(_ context.Context, now, revokedBefore time.Time) (int64, error) {
	f.now, f.revokedBefore = now, revokedBefore
	return 3, f.err
}

type fakeRates struct{ cutoff time.Time }

func (f *fakeRates) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 40, nil
}

type fakeBlocks struct{ now time.Time }

func (f *fakeBlocks) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	f.now = now
	return 1, nil
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	tok, rates, blocks := &fakeTokens{}, &fakeRates{}, &fakeBlocks{}
	s := &Sweeper{Tokens: tok, Rates: rates, Blocks: blocks, MaxWindow: time.Hour, Now: func() time.Time { return now }}

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Tokens: 3, RateRows: 40, Blocks: 1}, res)
	assert.Equal(t, now, tok.now)
	assert.Equal(t, now.Add(-24*time.Hour), tok.revokedBefore)
	assert.Equal(t, now.Add(-time.Hour), rates.cutoff)
	assert.Equal(t, now, blocks.now)
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	boom := errors.New("lock wait timeout")
	rates, blocks := &fakeRates{}, &fakeBlocks{}
	s := &Sweeper{Tokens: &fakeTokens{err: boom}, Rates: rates, Blocks: blocks, MaxWindow: time.Hour}

	res, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, res.Tokens)
	assert.EqualValues(t, 40, res.RateRows)
	assert.EqualValues(t, 1, res.Blocks)
}
