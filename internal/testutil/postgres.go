// Package testutil provides shared fixtures for tests: a disposable postgres
// blob store and a WebSocket protocol client.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/barlink/internal/config"
	"github.com/cory-johannsen/barlink/internal/storage/postgres"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresUser  = "barlink"
	postgresDB    = "barlink"
)

// PostgresContainer is a migrated postgres instance with a connected blob Store.
type PostgresContainer struct {
	container testcontainers.Container
	Store     *postgres.Store
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts postgres, applies the blob schema and connects a
// Store that serves URLs under /uploads.
//
// Precondition: Docker must be available. The test is skipped under -short or
// when no container runtime can be reached.
// Postcondition: The container and store are released by t.Cleanup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}
	ctx := context.Background()
	start := time.Now()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: postgresRequest(),
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dbCfg, err := databaseConfig(ctx, container)
	if err != nil {
		t.Fatalf("resolving container address: %v", err)
	}
	if err := postgres.MigrateUp(dbCfg.DSN()); err != nil {
		t.Fatalf("applying migrations: %v [%s]", err, time.Since(start))
	}
	store, err := postgres.Connect(ctx, dbCfg, "/uploads")
	if err != nil {
		t.Fatalf("connecting blob store: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(store.Close)

	t.Logf("postgres ready at %s:%d [%s]", dbCfg.Host, dbCfg.Port, time.Since(start))
	return &PostgresContainer{container: container, Store: store, Config: dbCfg}
}

// Reset deletes every stored blob.
func (p *PostgresContainer) Reset(t *testing.T) {
	t.Helper()
	if _, err := p.Store.DB().Exec(context.Background(), "TRUNCATE blobs"); err != nil {
		t.Fatalf("truncating blobs: %v", err)
	}
}

func postgresRequest() testcontainers.ContainerRequest {
	return testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresUser,
			"POSTGRES_DB":       postgresDB,
		},
		// postgres logs readiness once for the init server and again for the real one
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}
}

func databaseConfig(ctx context.Context, c testcontainers.Container) (config.DatabaseConfig, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	return config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            postgresUser,
		Password:        postgresUser,
		Name:            postgresDB,
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}, nil
}
