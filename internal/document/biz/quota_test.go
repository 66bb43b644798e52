package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageLedger_Derived(t *testing.T) {
	tests := []struct {
		name      string
		ledger    StorageLedger
		percent   float64
		available int64
		exceeded  bool
	}{
		{name: "empty", ledger: StorageLedger{QuotaBytes: 1000}, percent: 0, available: 1000},
		{name: "partial", ledger: StorageLedger{TotalBytes: 250, QuotaBytes: 1000}, percent: 25, available: 750},
		{name: "full", ledger: StorageLedger{TotalBytes: 1000, QuotaBytes: 1000}, percent: 100, available: 0, exceeded: true},
		{name: "over after quota lowered", ledger: StorageLedger{TotalBytes: 1200, QuotaBytes: 1000}, percent: 120, available: 0, exceeded: true},
		{name: "zero quota", ledger: StorageLedger{}, percent: 0, available: 0, exceeded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.percent, tt.ledger.QuotaPercentage(), 0.0001)
			assert.Equal(t, tt.available, tt.ledger.AvailableBytes())
			assert.Equal(t, tt.exceeded, tt.ledger.QuotaExceeded())
		})
	}
}

func TestQuotaUseCase_Add(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.quota.Add(ctx, owner, 600)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 600, res.NewTotal)

	res, err = env.quota.Add(ctx, owner, 401)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.QuotaExceeded)
	assert.EqualValues(t, 600, res.NewTotal)

	res, err = env.quota.Add(ctx, owner, 400)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 1000, res.NewTotal)

	_, err = env.quota.Add(ctx, owner, -1)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestQuotaUseCase_RemoveFloorsAtZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.quota.Add(ctx, owner, 100)
	require.NoError(t, err)
	require.NoError(t, env.quota.Remove(ctx, owner, 500))
	require.NoError(t, env.quota.Remove(ctx, owner, 10))

	l, err := env.quota.Get(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, l.TotalBytes)
	assert.Zero(t, l.TotalFiles)

	assert.ErrorIs(t, env.quota.Remove(ctx, owner, -5), ErrValidationFailed)
	assert.NoError(t, env.quota.Remove(ctx, "never-seen", 10))
}

func TestQuotaUseCase_GetInitializesLazily(t *testing.T) {
	env := newTestEnv(t)

	l, err := env.quota.Get(context.Background(), "new-owner")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, l.QuotaBytes)
	assert.Zero(t, l.TotalBytes)
}

func TestQuotaUseCase_Precheck(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.set(owner, 900, 1000)

	assert.NoError(t, env.quota.Precheck(context.Background(), owner, 100))
	err := env.quota.Precheck(context.Background(), owner, 101)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}
