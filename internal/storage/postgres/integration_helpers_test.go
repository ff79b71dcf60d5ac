package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// testDSNEnv задаёт базу для интеграционных тестов. Без неё тесты пропускаются.
const testDSNEnv = "SHOP_POSTGRES_TEST_DSN"

// rawTestStore открывает пул без миграций.
func rawTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testStore открывает пул, применяет миграции и очищает таблицы.
func testStore(t *testing.T) *Store {
	t.Helper()

	store := rawTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.Pool().Exec(ctx,
		`TRUNCATE idempotency_keys, outbox_messages, timeline_events, order_items, orders RESTART IDENTITY CASCADE`,
	); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return store
}
