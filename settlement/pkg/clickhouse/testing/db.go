package clickhousetesting

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/samu-project/rewards/settlement/pkg/clickhouse"
	"github.com/samu-project/rewards/utils/pkg/retry"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:25.3"
	}
	return nil
}

// DB is a ClickHouse container shared by the tests of one package.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	addr      string
	container *tcch.ClickHouseContainer
}

func (db *DB) Addr() string { return db.addr }

// Config returns client settings for database on this container.
func (db *DB) Config(database string) clickhouse.Config {
	return clickhouse.Config{
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

func (db *DB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	retryCfg := retry.Config{MaxAttempts: 3, BaseBackoff: 750 * time.Millisecond, MaxBackoff: 3 * time.Second, Retryable: isRetryableContainerStartErr}
	container, err := retry.DoValue(ctx, retryCfg, func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port("9000/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		addr:      fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		container: container,
	}, nil
}

// NewTestClient creates a fresh database, applies migrations to it and returns
// a client bound to it. The database is dropped when the test ends.
func NewTestClient(t *testing.T, db *DB, migrations fs.FS) clickhouse.Client {
	t.Helper()

	retryCfg := retry.Config{MaxAttempts: 3, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 2 * time.Second, Retryable: isRetryableConnectionErr}
	admin, err := retry.DoValue(t.Context(), retryCfg, func() (clickhouse.Client, error) {
		return clickhouse.NewClient(t.Context(), db.log, db.Config(db.cfg.Database))
	})
	require.NoError(t, err)

	database := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, clickhouse.CreateDatabase(t.Context(), admin, database))
	require.NoError(t, clickhouse.Up(t.Context(), db.log, db.Config(database), migrations))

	client, err := clickhouse.NewClient(t.Context(), db.log, db.Config(database))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Close()
		if err := admin.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", database)); err != nil {
			t.Logf("failed to drop %s: %v", database, err)
		}
		_ = admin.Close()
	})
	return client
}

func isRetryableContainerStartErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded")
}

func isRetryableConnectionErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "handshake") ||
		strings.Contains(s, "failed to ping") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "dial tcp")
}
