package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/arena/internal/blob/s3"
	"github.com/alanyoungcy/arena/internal/cache/redis"
	"github.com/alanyoungcy/arena/internal/config"
	"github.com/alanyoungcy/arena/internal/crypto"
	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/mirror"
	"github.com/alanyoungcy/arena/internal/notify"
	"github.com/alanyoungcy/arena/internal/platform/alpaca"
	"github.com/alanyoungcy/arena/internal/platform/binance"
	"github.com/alanyoungcy/arena/internal/server/handler"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/alanyoungcy/arena/internal/store/postgres"
)

const (
	priceCacheTTL = 24 * time.Hour
	streamMaxLen  = 10000
)

// Dependencies bundles every concrete collaborator the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores. The write-side stores are wrapped by the mirror.
	Markets      domain.MarketSnapshotStore
	Orders       domain.OrderStore
	ClientOrders domain.ClientOrderStore
	Fills        domain.FillStore
	Equity       domain.EquityStore
	Checkpoints  domain.CheckpointStore
	AgentStates  domain.AgentStateStore
	Audit        domain.AuditStore

	// Caches and bus. RateLimiter and LockManager are nil without Redis.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Mirror      *mirror.Sink

	// Blob storage, nil unless the archive is enabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Broker is nil in modes that never reach the brokerage.
	Broker *alpaca.Client
	Prices domain.PriceSource

	Notifier *notify.Notifier
	Checks   map[string]handler.Check
}

// Wire constructs all dependency implementations from cfg and returns them
// with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Primary store ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		st := pg.Stores()
		deps.Markets = st.Markets
		deps.Orders = st.Orders
		deps.ClientOrders = st.ClientOrders
		deps.Fills = st.Fills
		deps.Equity = st.Equity
		deps.Checkpoints = st.Checkpoints
		deps.AgentStates = st.AgentStates
		deps.Audit = st.Audit
		deps.Checks["postgres"] = pg.Ping

	default:
		logger.Warn("using in-memory store, nothing survives a restart")
		mem := memstore.New()
		deps.Markets = mem.Markets()
		deps.Orders = mem.Orders()
		deps.ClientOrders = mem.ClientOrders()
		deps.Fills = mem.Fills()
		deps.Equity = mem.Equity()
		deps.Checkpoints = mem.Checkpoints()
		deps.AgentStates = mem.AgentStates()
		deps.Audit = mem.Audit()
		deps.PriceCache = mem.Prices()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.PriceCache = redis.NewPriceCache(rc, priceCacheTTL)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc, streamMaxLen)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.SignalBus = mirror.NewLocalBus(1000)
	}

	// --- Mirror: every successful write is also published to the bus ---
	deps.Mirror = mirror.NewSink(deps.SignalBus, mirror.Config{}, logger)
	deps.Orders = mirror.Orders{OrderStore: deps.Orders, Sink: deps.Mirror}
	deps.Fills = mirror.Fills{FillStore: deps.Fills, Sink: deps.Mirror}
	deps.Equity = mirror.Equity{EquityStore: deps.Equity, Sink: deps.Mirror}
	deps.Markets = mirror.Markets{MarketSnapshotStore: deps.Markets, Sink: deps.Mirror}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobReader = s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.Orders, deps.Equity, deps.Markets, deps.Audit)
		deps.Checks["s3"] = sc.Health
	}

	// --- Broker and price source ---
	if cfg.NeedsBroker() {
		secret, err := crypto.LoadSecret(crypto.SecretSource{
			Raw:           cfg.Broker.SecretKey,
			EncryptedPath: cfg.Broker.EncryptedSecretPath,
			Password:      cfg.Broker.SecretPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: broker secret: %w", err))
		}
		deps.Broker = alpaca.NewClient(alpaca.Config{
			KeyID:      cfg.Broker.KeyID,
			SecretKey:  secret,
			TradingURL: cfg.Broker.TradingURL,
			DataURL:    cfg.Broker.DataURL,
			Timeout:    cfg.Broker.Timeout.Duration,
		})
		deps.Prices = deps.Broker
		deps.Checks["broker"] = deps.Broker.Ping
	}
	if strings.EqualFold(cfg.MarketData.Provider, "binance") {
		bn := binance.NewClient(cfg.MarketData.BinanceURL)
		deps.Prices = bn
		deps.Checks["market_data"] = bn.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, "arena", logger)

	return deps, cleanup, nil
}
