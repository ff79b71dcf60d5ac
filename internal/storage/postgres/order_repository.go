package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

const orderColumns = `id, customer, status, provider, provider_ref, failure_reason, currency,
	subtotal_minor, discount_minor, shipping_minor, amount_minor, version, created_at, updated_at`

var itemColumns = []string{"order_id", "position", "book_id", "title", "isbn", "qty", "price_minor"}

// OrderRepository хранит заказ в orders, позиции в order_items.
// Покупатель лежит в JSONB-колонке customer, email дублируется для поиска.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository создаёт OrderRepository поверх пула store.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{pool: store.Pool()}
}

// Create вставляет заказ вместе с позициями одной транзакцией.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, customer_email, customer, status, provider, provider_ref, failure_reason, currency,
				subtotal_minor, discount_minor, shipping_minor, amount_minor, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			order.ID, order.Customer.Email, order.Customer, order.Status, order.Provider,
			order.ProviderRef, order.FailureReason, order.Currency,
			order.SubtotalMinor, order.DiscountMinor, order.ShippingMinor, order.AmountMinor,
			order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		return copyItems(ctx, tx, order)
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return domain.ErrOrderAlreadyExists
	default:
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
}

// Get отдаёт заказ с позициями.
func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order %s: %w", id, err)
	}
	order, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("scan order %s: %w", id, err)
	}

	orders := []domain.Order{order}
	if err := r.attachItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListByEmail отдаёт заказы покупателя от новых к старым. limit <= 0 снимает ограничение.
func (r *OrderRepository) ListByEmail(ctx context.Context, email string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает «без ограничения».
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE lower(customer_email) = lower($1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, strings.TrimSpace(email), limitArg)
	if err != nil {
		return nil, fmt.Errorf("query orders by email: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scan orders by email: %w", err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Save обновляет заказ при совпадении версии и перезаписывает позиции.
func (r *OrderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET customer_email = $1, customer = $2, status = $3, provider = $4,
			    provider_ref = $5, failure_reason = $6, currency = $7,
			    subtotal_minor = $8, discount_minor = $9, shipping_minor = $10, amount_minor = $11,
			    version = version + 1, updated_at = $12
			WHERE id = $13 AND version = $14`,
			order.Customer.Email, order.Customer, order.Status, order.Provider,
			order.ProviderRef, order.FailureReason, order.Currency,
			order.SubtotalMinor, order.DiscountMinor, order.ShippingMinor, order.AmountMinor,
			order.UpdatedAt.UTC(), order.ID, order.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return err
		}
		return copyItems(ctx, tx, order)
	})
	if err == nil || errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrOrderVersionConflict) {
		return err
	}
	return fmt.Errorf("save order %s: %w", order.ID, err)
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.Customer, &o.Status, &o.Provider, &o.ProviderRef, &o.FailureReason, &o.Currency,
		&o.SubtotalMinor, &o.DiscountMinor, &o.ShippingMinor, &o.AmountMinor,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Currency = strings.TrimSpace(o.Currency)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, err
}

func copyItems(ctx context.Context, tx pgx.Tx, order domain.Order) error {
	if len(order.Items) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, itemColumns,
		pgx.CopyFromSlice(len(order.Items), func(i int) ([]any, error) {
			item := order.Items[i]
			return []any{order.ID, int32(i), item.BookID, item.Title, item.ISBN, item.Qty, item.PriceMinor}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy order items: %w", err)
	}
	return nil
}

// attachItems подгружает позиции всех заказов одним запросом.
func (r *OrderRepository) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
		orders[i].Items = []domain.OrderItem{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT order_id, book_id, title, isbn, qty, price_minor
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}

	var orderID string
	var item domain.OrderItem
	_, err = pgx.ForEachRow(rows, []any{&orderID, &item.BookID, &item.Title, &item.ISBN, &item.Qty, &item.PriceMinor}, func() error {
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan order items: %w", err)
	}
	return nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
