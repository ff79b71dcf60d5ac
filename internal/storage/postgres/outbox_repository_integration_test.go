package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

func TestOutboxRepository_DeliveryStates(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(testStore(t))

	created, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "CMB-100",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":"CMB-100","total_minor":2499}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	paid, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            "evt-paid-100",
		AggregateType: "order",
		AggregateID:   "CMB-100",
		EventType:     domain.EventOrderPaid,
	})
	require.NoError(t, err)
	require.Equal(t, "evt-paid-100", paid.ID)

	_, err = repo.Enqueue(ctx, domain.OutboxMessage{ID: "evt-paid-100", AggregateType: "order", EventType: domain.EventOrderPaid})
	require.Error(t, err, "id is the primary key")

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, created.ID, pending[0].ID)
	require.JSONEq(t, `{"order_id":"CMB-100","total_minor":2499}`, string(pending[0].Payload))
	require.Nil(t, pending[1].Payload)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(ctx, created.ID))
	require.NoError(t, repo.MarkFailed(ctx, paid.ID))
	require.ErrorIs(t, repo.MarkSent(ctx, "evt-unknown"), domain.ErrOutboxPublish)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
