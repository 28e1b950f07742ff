package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bettogether/internal/asset"
	memblob "github.com/alanyoungcy/bettogether/internal/blob/memory"
	s3blob "github.com/alanyoungcy/bettogether/internal/blob/s3"
	memcache "github.com/alanyoungcy/bettogether/internal/cache/memory"
	"github.com/alanyoungcy/bettogether/internal/cache/redis"
	"github.com/alanyoungcy/bettogether/internal/chain"
	"github.com/alanyoungcy/bettogether/internal/config"
	"github.com/alanyoungcy/bettogether/internal/crypto"
	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/notify"
	"github.com/alanyoungcy/bettogether/internal/oracle"
	"github.com/alanyoungcy/bettogether/internal/registry"
	"github.com/alanyoungcy/bettogether/internal/server/handler"
	"github.com/alanyoungcy/bettogether/internal/service"
	"github.com/alanyoungcy/bettogether/internal/settlement"
	"github.com/alanyoungcy/bettogether/internal/store/memory"
	"github.com/alanyoungcy/bettogether/internal/store/postgres"
	"github.com/alanyoungcy/bettogether/internal/yield"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.MarketArchiver

	Notifier *notify.Notifier
	Markets  *service.MarketService
	// Simulator is nil when markets settle on chain.
	Simulator *service.Simulator

	// Backend names where funds live: "chain" or "memory".
	Backend string
	Checks  map[string]handler.HealthCheck
}

// collaborators are the settlement engine's outside world.
type collaborators struct {
	asset   domain.BaseAsset
	bridges domain.BridgeProvider
	oracle  domain.OracleGateway
	custody registry.CustodyFunc

	// in-memory only
	ledger *asset.Ledger
	pool   *yield.SimulatedPool
	manual *oracle.Manual
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL read model ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	} else {
		deps.MarketStore = memory.NewMarketStore()
		deps.PositionStore = memory.NewPositionStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Market.SnapshotTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.MarketCache = memcache.NewMarketCache()
		deps.LockManager = memcache.NewLockManager()
		deps.SignalBus = memcache.NewSignalBus(int(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = memcache.NewRateLimiter()
	}

	// --- Archive storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, cfg.S3.PartSizeMB<<20)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	} else {
		blobs := memblob.NewStore()
		deps.BlobWriter = blobs
		deps.BlobReader = blobs
	}
	deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.AuditStore, cfg.Archive.Prefix)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Settlement collaborators ---
	var (
		collab *collaborators
		err    error
	)
	if cfg.Chain.Enabled {
		var client *chain.Client
		collab, client, err = wireChain(ctx, cfg, logger)
		if err != nil {
			return fail("chain", err)
		}
		closers = append(closers, client.Close)
		deps.Backend = "chain"
	} else {
		collab = wireMemory(cfg)
		deps.Backend = "memory"
	}

	publisher := service.NewEventPublisher(deps.SignalBus, deps.AuditStore, deps.Notifier, notify.Amounts{
		Symbol:   cfg.Asset.Symbol,
		Decimals: int32(cfg.Asset.Decimals),
	}, logger)

	reg, err := registry.New(registry.Config{
		Asset:            collab.asset,
		Bridges:          collab.bridges,
		Oracle:           collab.oracle,
		Custody:          collab.custody,
		Sink:             publisher,
		Policy:           policyFor(cfg.Market.Policy),
		MinBettingPeriod: cfg.Market.MinBettingPeriod.Duration,
		Logger:           logger,
	})
	if err != nil {
		return fail("registry", err)
	}

	deps.Markets, err = service.NewMarketService(service.MarketDeps{
		Registry:  reg,
		Tokens:    asset.NewOutcomeTokens(),
		Markets:   deps.MarketStore,
		Positions: deps.PositionStore,
		Cache:     deps.MarketCache,
		Locks:     deps.LockManager,
		Archiver:  deps.Archiver,
		Logger:    logger,
	})
	if err != nil {
		return fail("market service", err)
	}
	if collab.ledger != nil {
		deps.Simulator = service.NewSimulator(deps.Markets, collab.ledger, collab.pool, collab.manual, logger)
	}

	return deps, cleanup, nil
}

// wireChain dials the RPC endpoint with the operator key and binds the
// ERC-20, Aave and Realitio contracts. The operator wallet custodies every
// market.
func wireChain(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*collaborators, *chain.Client, error) {
	op, err := crypto.LoadOperator(crypto.KeySource{
		RawHex:   cfg.Wallet.PrivateKey,
		FilePath: cfg.Wallet.EncryptedKeyPath,
		Password: cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, err
	}
	client, err := chain.Dial(ctx, chain.ClientConfig{
		RPCURL:         cfg.Chain.RPCURL,
		GasLimit:       cfg.Chain.GasLimit,
		GasPaddingPct:  cfg.Chain.GasPaddingPct,
		ReceiptPoll:    cfg.Chain.ReceiptPoll.Duration,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
	}, op, logger)
	if err != nil {
		return nil, nil, err
	}

	assetAddr := common.HexToAddress(cfg.Asset.Address)
	token, err := asset.NewERC20(client, assetAddr)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	pool, err := yield.NewAavePool(client, token, yield.AaveConfig{
		LendingPool:     common.HexToAddress(cfg.Chain.LendingPool),
		LendingPoolCore: common.HexToAddress(cfg.Chain.LendingPoolCore),
		AToken:          common.HexToAddress(cfg.Chain.AToken),
		Reserve:         assetAddr,
	}, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	realitio, err := oracle.NewRealitio(client, oracle.RealitioConfig{
		Address:    common.HexToAddress(cfg.Chain.Realitio),
		TemplateID: cfg.Chain.RealitioTemplateID,
		Timeout:    cfg.Chain.AnswerTimeout.Duration,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.InfoContext(ctx, "wire: settling on chain",
		slog.String("operator", op.Address().Hex()),
		slog.String("asset", assetAddr.Hex()),
		slog.String("chain_id", client.ChainID().String()),
	)
	return &collaborators{
		asset:   token,
		bridges: pool,
		oracle:  realitio,
		custody: registry.FixedCustody(op.Address()),
	}, client, nil
}

// wireMemory builds the in-process ledger, yield pool and oracle. Every
// market gets its own derived custody account.
func wireMemory(cfg *config.Config) *collaborators {
	ledger := asset.NewLedger(cfg.Asset.Symbol, cfg.Asset.Decimals)
	pool := yield.NewSimulatedPool(ledger, common.HexToAddress(cfg.Asset.Reserve))
	manual := oracle.NewManual(common.Address{})
	return &collaborators{
		asset:   ledger,
		bridges: pool,
		oracle:  manual,
		custody: registry.DerivedCustody,
		ledger:  ledger,
		pool:    pool,
		manual:  manual,
	}
}

func policyFor(name string) func(domain.CreateMarketParams) settlement.Authorizer {
	if strings.EqualFold(name, "open") {
		return func(domain.CreateMarketParams) settlement.Authorizer { return settlement.OpenPolicy{} }
	}
	return func(p domain.CreateMarketParams) settlement.Authorizer { return settlement.OwnerPolicy{Owner: p.Owner} }
}
