package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// SetupTestDB создаёт PostgreSQL testcontainer и возвращает его DSN.
// Использует модуль postgres с BasicWaitStrategies (log occurrence(2) + port check).
// Автоматически cleanup при завершении теста.
func SetupTestDB(tb testing.TB) string {
	tb.Helper()
	ctx := context.Background()

	// Запускаем PostgreSQL 16 через специализированный модуль
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		tb.Fatalf("starting postgres container: %v", err)
	}

	tb.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			tb.Logf("terminating postgres container: %v", err)
		}
	})

	// Получаем DSN через встроенный метод контейнера
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("getting connection string: %v", err)
	}

	return dsn
}
