// Package testhelpers starts throwaway backing services for integration
// tests. Each container is started once per test binary and shared; tests
// isolate themselves with unique keys. Tests are skipped in -short mode and
// when no container runtime is available.
package testhelpers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dmitrymomot/featurelab/pkg/pg"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"
	MongoImage    = "mongo:7"
)

type shared[T any] struct {
	once  sync.Once
	value T
	err   error
}

func (s *shared[T]) get(t *testing.T, start func(ctx context.Context) (T, error)) T {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode (requires Docker)")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.value, s.err = start(ctx)
	})
	if s.err != nil {
		t.Fatalf("failed to start test container: %v", s.err)
	}
	return s.value
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start %s: %w", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", fmt.Errorf("container port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

var postgres shared[*pgxpool.Pool]

// Postgres returns a migrated pool on a shared PostgreSQL container.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	return postgres.get(t, func(ctx context.Context) (*pgxpool.Pool, error) {
		addr, err := startContainer(ctx, testcontainers.ContainerRequest{
			Image:        PostgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "featurelab",
				"POSTGRES_USER":     "featurelab",
				"POSTGRES_PASSWORD": "featurelab",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		}, "5432/tcp")
		if err != nil {
			return nil, err
		}

		cfg := pg.Config{
			ConnectionString: fmt.Sprintf("postgres://featurelab:featurelab@%s/featurelab?sslmode=disable", addr),
			MaxOpenConns:     10,
			RetryAttempts:    10,
			RetryInterval:    500 * time.Millisecond,
			MigrationsTable:  "schema_migrations",
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, pool, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
}

var redisAddr shared[string]

// RedisAddr returns host:port of a shared Redis container.
func RedisAddr(t *testing.T) string {
	t.Helper()
	return redisAddr.get(t, func(ctx context.Context) (string, error) {
		return startContainer(ctx, testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		}, "6379/tcp")
	})
}

var mongoURI shared[string]

// MongoURI returns a connection string for a shared MongoDB container.
func MongoURI(t *testing.T) string {
	t.Helper()
	return mongoURI.get(t, func(ctx context.Context) (string, error) {
		addr, err := startContainer(ctx, testcontainers.ContainerRequest{
			Image:        MongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		}, "27017/tcp")
		if err != nil {
			return "", err
		}
		return "mongodb://" + addr, nil
	})
}
