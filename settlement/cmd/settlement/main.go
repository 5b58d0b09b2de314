package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/samu-project/rewards/settlement/pkg/archive"
	"github.com/samu-project/rewards/settlement/pkg/audit"
	"github.com/samu-project/rewards/settlement/pkg/clickhouse"
	"github.com/samu-project/rewards/settlement/pkg/memstore"
	"github.com/samu-project/rewards/settlement/pkg/metrics"
	"github.com/samu-project/rewards/settlement/pkg/pgstore"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	"github.com/samu-project/rewards/settlement/pkg/server"
	"github.com/samu-project/rewards/settlement/pkg/solrpc"
	"github.com/samu-project/rewards/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
	sinkBufferSize     = 4096
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment wins over it.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json (or set LOG_FORMAT env var)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to serve the settlement API on (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics, empty to disable")
	programIDFlag := flag.String("program-id", "", "program id the config and record addresses derive from (or set PROGRAM_ID env var)")
	toleranceFlag := flag.Uint16("tolerance-bps", rewards.ToleranceBPS, "allowed per-role deviation in basis points of the pool")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	rateLimitFlag := flag.Float64("rate-limit", 1, "mutating requests per second allowed per client IP")
	rateBurstFlag := flag.Int("rate-burst", 10, "burst of mutating requests allowed per client IP")

	// Postgres configuration; without a host the service keeps state in memory.
	postgresHostFlag := flag.String("postgres-host", "", "Postgres host (or set POSTGRES_HOST env var)")
	postgresPortFlag := flag.String("postgres-port", "5432", "Postgres port (or set POSTGRES_PORT env var)")
	postgresDatabaseFlag := flag.String("postgres-database", "rewards", "Postgres database (or set POSTGRES_DATABASE env var)")
	postgresUsernameFlag := flag.String("postgres-username", "rewards", "Postgres username (or set POSTGRES_USERNAME env var)")
	postgresPasswordFlag := flag.String("postgres-password", "", "Postgres password (or set POSTGRES_PASSWORD env var)")
	postgresSSLModeFlag := flag.String("postgres-sslmode", "disable", "Postgres sslmode (or set POSTGRES_SSLMODE env var)")
	postgresMigrateFlag := flag.Bool("postgres-migrate", false, "apply Postgres migrations on startup (or set POSTGRES_RUN_MIGRATIONS=true)")

	// ClickHouse configuration for the audit ledger
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// S3 archive of settlement documents
	archiveBucketFlag := flag.String("archive-bucket", "", "S3 bucket for settlement documents (or set ARCHIVE_BUCKET env var)")
	archivePrefixFlag := flag.String("archive-prefix", "settlement", "key prefix inside the archive bucket")
	s3EndpointFlag := flag.String("s3-endpoint", "", "custom S3 endpoint, e.g. for MinIO (or set S3_ENDPOINT env var)")

	// Chain account resolution
	solanaRPCFlag := flag.String("solana-rpc-url", "", "Solana RPC URL to resolve token accounts on chain (or set SOLANA_RPC_URL env var)")

	// In-memory development seed
	devPoolAccountFlag := flag.String("dev-pool-account", "", "in-memory mode: pool token account to seed under the pool authority")
	devRewardMintFlag := flag.String("dev-reward-mint", "", "in-memory mode: mint of the seeded pool account")
	devPoolBalanceFlag := flag.Uint64("dev-pool-balance", 0, "in-memory mode: balance of the seeded pool account")

	flag.Parse()

	overrideString(listenAddrFlag, "LISTEN_ADDR")
	overrideString(logFormatFlag, "LOG_FORMAT")
	overrideString(programIDFlag, "PROGRAM_ID")
	overrideString(postgresHostFlag, "POSTGRES_HOST")
	overrideString(postgresPortFlag, "POSTGRES_PORT")
	overrideString(postgresDatabaseFlag, "POSTGRES_DATABASE")
	overrideString(postgresUsernameFlag, "POSTGRES_USERNAME")
	overrideString(postgresPasswordFlag, "POSTGRES_PASSWORD")
	overrideString(postgresSSLModeFlag, "POSTGRES_SSLMODE")
	overrideBool(postgresMigrateFlag, "POSTGRES_RUN_MIGRATIONS")
	overrideString(clickhouseAddrFlag, "CLICKHOUSE_ADDR_TCP")
	overrideString(clickhouseDatabaseFlag, "CLICKHOUSE_DATABASE")
	overrideString(clickhouseUsernameFlag, "CLICKHOUSE_USERNAME")
	overrideString(clickhousePasswordFlag, "CLICKHOUSE_PASSWORD")
	overrideBool(clickhouseSecureFlag, "CLICKHOUSE_SECURE")
	overrideString(archiveBucketFlag, "ARCHIVE_BUCKET")
	overrideString(s3EndpointFlag, "S3_ENDPOINT")
	overrideString(solanaRPCFlag, "SOLANA_RPC_URL")

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(os.Stdout, format, *verboseFlag)

	if *programIDFlag == "" {
		return errors.New("--program-id is required")
	}
	programID, err := solana.PublicKeyFromBase58(*programIDFlag)
	if err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: env, Release: version}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry enabled", "environment", env)
	}

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	readyChecks := map[string]server.ReadyCheck{}

	var store rewards.Store
	var memStore *memstore.Store
	if *postgresHostFlag != "" {
		poolCfg := pgstore.PoolConfig{
			Host:     *postgresHostFlag,
			Port:     *postgresPortFlag,
			Database: *postgresDatabaseFlag,
			Username: *postgresUsernameFlag,
			Password: *postgresPasswordFlag,
			SSLMode:  *postgresSSLModeFlag,
		}
		pool, err := pgstore.Connect(ctx, log, poolCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if *postgresMigrateFlag {
			if err := pgstore.Migrate(ctx, log, poolCfg.ConnString()); err != nil {
				return err
			}
		}
		pgStore, err := pgstore.NewStore(pgstore.StoreConfig{Logger: log, Pool: pool})
		if err != nil {
			return err
		}
		store = pgStore
		readyChecks["postgres"] = pool.Ping
	} else {
		log.Warn("no postgres host configured, keeping settlement state in memory")
		memStore = memstore.New()
		store = memStore
	}

	sinks := rewards.MultiSink{rewards.LogSink{Logger: log}}
	var asyncSinks []*rewards.AsyncSink
	var stats server.StatsProvider

	if *clickhouseAddrFlag != "" {
		chCfg := clickhouse.Config{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		}
		if err := clickhouse.Up(ctx, log, chCfg, audit.Migrations()); err != nil {
			return err
		}
		chClient, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer chClient.Close()

		auditSink, err := audit.NewSink(audit.SinkConfig{Logger: log, Client: chClient})
		if err != nil {
			return err
		}
		async := rewards.NewAsyncSink(log, "clickhouse", auditSink, sinkBufferSize)
		asyncSinks = append(asyncSinks, async)
		sinks = append(sinks, async)

		view, err := audit.NewView(audit.ViewConfig{Logger: log, Client: chClient})
		if err != nil {
			return err
		}
		stats = view
		readyChecks["clickhouse"] = chClient.Ping
	}

	if *archiveBucketFlag != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if *s3EndpointFlag != "" {
				o.BaseEndpoint = aws.String(*s3EndpointFlag)
				o.UsePathStyle = true
			}
		})
		arch, err := archive.New(archive.Config{Logger: log, Client: s3Client, Bucket: *archiveBucketFlag, Prefix: *archivePrefixFlag})
		if err != nil {
			return err
		}
		async := rewards.NewAsyncSink(log, "s3", arch, sinkBufferSize)
		asyncSinks = append(asyncSinks, async)
		sinks = append(sinks, async)
	}

	var accounts rewards.AccountResolver
	if *solanaRPCFlag != "" {
		resolver, err := solrpc.NewResolver(solrpc.Config{Logger: log, RPC: solanarpc.New(*solanaRPCFlag)})
		if err != nil {
			return err
		}
		accounts = resolver
		log.Info("resolving token accounts on chain and mirroring them into the ledger", "rpc_url", *solanaRPCFlag)
	}

	governor, err := rewards.NewGovernor(rewards.GovernorConfig{
		Logger:    log,
		Store:     store,
		Events:    sinks,
		ProgramID: programID,
	})
	if err != nil {
		return err
	}
	engine, err := rewards.NewEngine(rewards.EngineConfig{
		Logger:    log,
		Store:     store,
		Events:    sinks,
		ProgramID: programID,
		Tolerance: &rewards.TolerancePolicy{BPS: *toleranceFlag},
		Accounts:  accounts,
	})
	if err != nil {
		return err
	}
	log.Info("pool authority derived", "address", engine.Authority().Address().String())

	if memStore != nil && *devPoolAccountFlag != "" {
		if err := seedPool(memStore, engine, *devPoolAccountFlag, *devRewardMintFlag, *devPoolBalanceFlag); err != nil {
			return err
		}
	}

	srv, err := server.New(server.Config{
		Logger:         log,
		ListenAddr:     *listenAddrFlag,
		VersionInfo:    server.VersionInfo{Version: version, Commit: commit, Date: date},
		Governor:       governor,
		Engine:         engine,
		Store:          store,
		Stats:          stats,
		ReadyChecks:    readyChecks,
		AllowedOrigins: *allowedOriginsFlag,
		RateLimit:      rate.Limit(*rateLimitFlag),
		RateBurst:      *rateBurstFlag,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	for _, s := range asyncSinks {
		g.Go(func() error { return s.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("settlement service stopped")
	return nil
}

func seedPool(store *memstore.Store, engine *rewards.Engine, account, mint string, balance uint64) error {
	address, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return fmt.Errorf("invalid dev pool account: %w", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("invalid dev reward mint: %w", err)
	}
	store.PutTokenAccount(rewards.TokenAccount{
		Address: address,
		Mint:    mintKey,
		Owner:   engine.Authority().Address(),
		Amount:  balance,
	})
	return nil
}

func overrideString(flagValue *string, env string) {
	if v := os.Getenv(env); v != "" {
		*flagValue = v
	}
}

func overrideBool(flagValue *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*flagValue = b
		}
	}
}
