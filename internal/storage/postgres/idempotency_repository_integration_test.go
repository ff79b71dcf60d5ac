package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()
	ttl := time.Now().Add(90 * time.Minute).UTC().Truncate(time.Second)

	claim, err := repo.CreateProcessing(ctx, "  checkout-7f3a  ", "sha-cart-1", ttl)
	require.NoError(t, err)
	require.Equal(t, "checkout-7f3a", claim.Key)
	require.Equal(t, domain.IdempotencyStatusProcessing, claim.Status)

	stored, err := repo.Get(ctx, "checkout-7f3a")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, stored.Status)
	require.Zero(t, stored.HTTPStatus)
	require.Nil(t, stored.ResponseBody)

	require.NoError(t, repo.MarkDone(ctx, "checkout-7f3a", []byte(`{"order_id":"cmb-1"}`), 201))

	stored, err = repo.Get(ctx, "checkout-7f3a")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, stored.Status)
	require.Equal(t, 201, stored.HTTPStatus)
	require.JSONEq(t, `{"order_id":"cmb-1"}`, string(stored.ResponseBody))
	require.WithinDuration(t, ttl, stored.TTLAt, time.Second)
}

func TestIdempotencyRepository_FailedResponseIsKept(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "pay-declined", "sha-pay", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "pay-declined", []byte(`{"error":"card declined"}`), 402))

	stored, err := repo.Get(ctx, "pay-declined")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, stored.Status)
	require.Equal(t, 402, stored.HTTPStatus)
}

func TestIdempotencyRepository_Conflicts(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()
	ttl := time.Now().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "order-create-1", "sha-a", ttl)
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(ctx, "order-create-1", "sha-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, "sha-a", existing.RequestHash)

	_, err = repo.CreateProcessing(ctx, "order-create-1", "sha-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_ExpiredKeyCanBeReclaimed(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, "stale-key", "sha-old", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	claim, err := repo.CreateProcessing(ctx, "stale-key", "sha-new", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "sha-new", claim.RequestHash)

	stored, err := repo.Get(ctx, "stale-key")
	require.NoError(t, err)
	require.Equal(t, "sha-new", stored.RequestHash)
	require.Equal(t, domain.IdempotencyStatusProcessing, stored.Status)
}

func TestIdempotencyRepository_DeleteExpiredInBatches(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for i, offset := range []time.Duration{-3 * time.Minute, -2 * time.Minute, -time.Minute, time.Hour} {
		key := "sweep-" + string(rune('a'+i))
		_, err := repo.CreateProcessing(ctx, key, "sha", now.Add(offset))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = repo.Get(ctx, "sweep-a")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "sweep-c")
	require.NoError(t, err, "newest expired key survives the first batch")

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "sweep-d")
	require.NoError(t, err)
}

func TestIdempotencyRepository_MarkUnknownKey(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))

	err := repo.MarkDone(context.Background(), "never-claimed", nil, 200)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	err = repo.MarkDone(context.Background(), "   ", nil, 200)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}
