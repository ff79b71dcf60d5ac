package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/catalog"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/storage/memory"
)

type fixture struct {
	svc      *Service
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
}

func newFixture(t *testing.T, repo domain.OrderRepository) fixture {
	t.Helper()

	books, err := catalog.Default()
	require.NoError(t, err)

	if repo == nil {
		repo = memory.NewOrderRepository()
	}
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	svc := NewService(repo, timeline, outbox, books, nil,
		WithClock(func() time.Time { return now }),
	)
	return fixture{svc: svc, orders: repo, timeline: timeline, outbox: outbox}
}

func customer() domain.CustomerDetails {
	return domain.CustomerDetails{
		FirstName: "Amy",
		LastName:  "Johnson",
		Email:     "amy@example.co.uk",
		Address1:  "1 Hangar Road",
		City:      "Glasgow",
		Postcode:  "G1 1AA",
		Country:   "GB",
	}
}

func (f fixture) pendingOrder(t *testing.T, items ...ItemRequest) domain.Order {
	t.Helper()
	if len(items) == 0 {
		items = []ItemRequest{{BookID: "beardmore-aviation", Quantity: 1}}
	}
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:    items,
		Customer: customer(),
		Provider: domain.PaymentProviderStripe,
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrder_SingleBook(t *testing.T) {
	f := newFixture(t, nil)
	order := f.pendingOrder(t)

	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, "GBP", order.Currency)
	require.Equal(t, int64(1291), order.SubtotalMinor)
	require.Zero(t, order.DiscountMinor)
	require.Equal(t, int64(1291), order.AmountMinor)
	require.Len(t, order.Items, 1)
	require.NotEmpty(t, order.Items[0].ISBN)

	stored, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, order, stored)

	stats, err := f.outbox.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
}

func TestCreateOrder_BulkDiscountAndMergedLines(t *testing.T) {
	f := newFixture(t, nil)
	order := f.pendingOrder(t,
		ItemRequest{BookID: "clydeside-aviation-vol1", Quantity: 3},
		ItemRequest{BookID: "clydeside-aviation-vol1", Quantity: 2},
	)

	require.Len(t, order.Items, 1)
	require.Equal(t, int32(5), order.Items[0].Qty)
	require.Equal(t, int64(5000), order.SubtotalMinor)
	require.Equal(t, int64(500), order.DiscountMinor)
	require.Equal(t, int64(4500), order.AmountMinor)
	require.Empty(t, order.ValidateInvariants())
}

func TestCreateOrder_Rejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bad := customer()
	bad.Email = "not-an-email"
	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{
		Items:    []ItemRequest{{BookID: "beardmore-aviation", Quantity: 1}},
		Customer: bad,
		Provider: domain.PaymentProviderPayPal,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"Please enter a valid email address"}, verr.Messages)

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{Customer: customer(), Provider: domain.PaymentProviderPayPal})
	require.ErrorIs(t, err, domain.ErrCartEmpty)

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{
		Items:    []ItemRequest{{BookID: "no-such-book", Quantity: 1}},
		Customer: customer(),
		Provider: domain.PaymentProviderStripe,
	})
	require.ErrorIs(t, err, domain.ErrBookNotFound)

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{
		Items:    []ItemRequest{{BookID: "beardmore-aviation", Quantity: 0}},
		Customer: customer(),
		Provider: domain.PaymentProviderStripe,
	})
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{
		Items:    []ItemRequest{{BookID: "beardmore-aviation", Quantity: 1}},
		Customer: customer(),
		Provider: "bitcoin",
	})
	require.ErrorIs(t, err, domain.ErrPaymentProviderUnknown)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.pendingOrder(t)

	paid, err := f.svc.ConfirmPayment(ctx, order.ID, "pi_123")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, paid.Status)
	require.Equal(t, "pi_123", paid.ProviderRef)
	require.Equal(t, order.Version+1, paid.Version)

	again, err := f.svc.ConfirmPayment(ctx, order.ID, "pi_other")
	require.NoError(t, err)
	require.Equal(t, paid, again)

	events, err := f.svc.Timeline(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventOrderPaid, events[1].Type)

	stats, err := f.outbox.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
}

func TestTransitions_FromFinalStatesRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cancelled := f.pendingOrder(t)
	_, err := f.svc.CancelPayment(ctx, cancelled.ID, "closed popup")
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, cancelled.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	failed := f.pendingOrder(t)
	got, err := f.svc.FailPayment(ctx, failed.ID, "card declined")
	require.NoError(t, err)
	require.Equal(t, "card declined", got.FailureReason)
	// повторный FailPayment ничего не меняет
	again, err := f.svc.FailPayment(ctx, failed.ID, "card declined")
	require.NoError(t, err)
	require.Equal(t, got.Version, again.Version)
	_, err = f.svc.ConfirmPayment(ctx, failed.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	paid := f.pendingOrder(t)
	_, err = f.svc.ConfirmPayment(ctx, paid.ID, "")
	require.NoError(t, err)
	_, err = f.svc.CancelPayment(ctx, paid.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.ConfirmPayment(ctx, "ORD-missing", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestSaveOrder_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	order := domain.Order{
		ID:       "ORD-legacy-1",
		Customer: customer(),
		Items: []domain.OrderItem{
			{BookID: "beardmore-aviation", Title: "Beardmore Aviation", Qty: 1, PriceMinor: 1291},
		},
		Currency:      "GBP",
		SubtotalMinor: 1291,
		AmountMinor:   1291,
		Provider:      domain.PaymentProviderPayPal,
	}

	saved, err := f.svc.SaveOrder(ctx, order)
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, saved, got)

	saved.ProviderRef = "PAYPAL-TX"
	updated, err := f.svc.SaveOrder(ctx, saved)
	require.NoError(t, err)
	require.Equal(t, saved.Version+1, updated.Version)
	got, err = f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, updated, got)

	broken := order
	broken.AmountMinor = 1
	_, err = f.svc.SaveOrder(ctx, broken)
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
}

func TestListByEmail(t *testing.T) {
	f := newFixture(t, nil)
	f.pendingOrder(t)
	f.pendingOrder(t)

	list, err := f.svc.ListByEmail(context.Background(), "AMY@example.co.uk", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = f.svc.ListByEmail(context.Background(), " ", 0)
	require.ErrorIs(t, err, domain.ErrCustomerRequired)
}

// conflictingRepo отдаёт conflict на первые n вызовов Save.
type conflictingRepo struct {
	domain.OrderRepository

	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.ErrOrderVersionConflict
	}
	r.mu.Unlock()
	return r.OrderRepository.Save(ctx, order)
}

func TestConfirmPayment_RetriesVersionConflict(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository(), conflicts: 2}
	f := newFixture(t, repo)
	order := f.pendingOrder(t)

	paid, err := f.svc.ConfirmPayment(context.Background(), order.ID, "")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, paid.Status)
	require.Equal(t, 3, repo.saves)
}

func TestConfirmPayment_GivesUpAfterThreeConflicts(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository(), conflicts: 5}
	f := newFixture(t, repo)
	order := f.pendingOrder(t)

	_, err := f.svc.ConfirmPayment(context.Background(), order.ID, "")
	require.True(t, errors.Is(err, domain.ErrOrderVersionConflict))
	require.Equal(t, maxSaveAttempts, repo.saves)

	stored, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
}

func TestConfirmPayment_ConcurrentCallsFinalizeOnce(t *testing.T) {
	f := newFixture(t, nil)
	order := f.pendingOrder(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ConfirmPayment(context.Background(), order.ID, "")
		}()
	}
	wg.Wait()

	events, err := f.svc.Timeline(context.Background(), order.ID)
	require.NoError(t, err)
	paidEvents := 0
	for _, e := range events {
		if e.Type == domain.EventOrderPaid {
			paidEvents++
		}
	}
	require.Equal(t, 1, paidEvents)
}

func TestAttachProviderRef(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.pendingOrder(t)

	got, err := f.svc.AttachProviderRef(ctx, order.ID, "pi_1")
	require.NoError(t, err)
	require.Equal(t, "pi_1", got.ProviderRef)

	_, err = f.svc.ConfirmPayment(ctx, order.ID, "")
	require.NoError(t, err)
	_, err = f.svc.AttachProviderRef(ctx, order.ID, "pi_2")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
