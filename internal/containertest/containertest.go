//go:build integration

// Package containertest starts throwaway backing services for integration
// tests.
package containertest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres starts a PostgreSQL container and returns its connection string.
func Postgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("jascrapers_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return connStr
}

// Redis starts a Redis container and returns its host:port address.
func Redis(t *testing.T) string {
	t.Helper()
	return generic(t, "redis:7-alpine", "6379/tcp", wait.ForLog("Ready to accept connections"))
}

// Mongo starts a MongoDB container and returns a mongodb:// URI.
func Mongo(t *testing.T) string {
	t.Helper()
	return "mongodb://" + generic(t, "mongo:7", "27017/tcp", wait.ForLog("Waiting for connections"))
}

func generic(t *testing.T, image, port string, strategy wait.Strategy) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{port},
			WaitingFor:   strategy,
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", image, err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("get %s endpoint: %v", image, err)
	}
	return endpoint
}
