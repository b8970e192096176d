package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/otcdesk/api"
	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/config"
	"github.com/Aidin1998/otcdesk/internal/credit"
	"github.com/Aidin1998/otcdesk/internal/custody"
	"github.com/Aidin1998/otcdesk/internal/database"
	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/internal/pricing"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/Aidin1998/otcdesk/internal/settlement"
	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/Aidin1998/otcdesk/pkg/logger"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/Aidin1998/otcdesk/pkg/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("otcdesk stopped with error", zap.Error(err))
	}
	zapLogger.Info("otcdesk stopped")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Tracing:     cfg.Telemetry.Tracing,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			zapLogger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(cfg, zapLogger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	feed, closeFeed, err := buildFeed(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}
	defer closeFeed()
	converter := marketdata.NewConverter(feed)

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		zapLogger.Info("publishing domain events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	defer publisher.Close()
	emitter := messaging.NewEmitter(publisher, zapLogger)

	clientSvc := clients.NewService(db, zapLogger)
	screener := compliance.NewScreener(db)
	gate := compliance.NewGate(db, converter, screener, zapLogger)
	ledger := credit.NewLedger(db, converter, zapLogger)
	repo := otc.NewRepository(db, zapLogger)
	desk := otc.NewDesk(repo, clientSvc, gate, pricing.NewEngine(feed, zapLogger), emitter, otc.DeskConfig{
		HouseClientID: cfg.HouseClientID,
		QuoteValidity: cfg.Pricing.QuoteValidity,
	}, zapLogger)

	if err := ensureHouse(ctx, clientSvc, gate, cfg.HouseClientID); err != nil {
		return fmt.Errorf("house client: %w", err)
	}

	router := buildRails(cfg, db, zapLogger)
	custodySvc := custody.NewService(db, gate, converter, router, emitter, custody.Policy{
		MultisigThresholdUSD:  cfg.Custody.MultisigThresholdUSD,
		RequiredSignatures:    cfg.Custody.RequiredSignatures,
		SmallWithdrawalCapUSD: cfg.Custody.SmallWithdrawalCapUSD,
	}, zapLogger)
	orch := settlement.NewOrchestrator(db, repo, ledger, screener, custodySvc, router, emitter,
		settlement.Config{CompletionDelay: cfg.Settlement.CompletionDelay}, zapLogger)
	defer orch.Scheduler().Stop()

	sources := custody.SourceSet{}
	if cfg.Ethereum.RPCURL != "" {
		evm, client, err := custody.DialEVM(cfg.Ethereum.RPCURL)
		if err != nil {
			return fmt.Errorf("dial ethereum: %w", err)
		}
		defer client.Close()
		for _, cur := range []string{"ETH", "USDT", "USDC"} {
			sources[cur] = evm
		}
	}
	deposits := custody.NewDeposits(db, sources, emitter, zapLogger)
	sweeper := custody.NewSweeper(db, converter, router, custody.SweepConfig{
		ThresholdUSD:  cfg.Custody.SweepThresholdUSD,
		ColdAddresses: cfg.Custody.ColdAddresses,
	}, emitter, zapLogger)

	server := api.NewServer(api.Services{
		DB:          db,
		Clients:     clientSvc,
		Desk:        desk,
		Settlements: orch,
		Credit:      ledger,
		Compliance:  gate,
		Custody:     custodySvc,
		Deposits:    deposits,
		Sweeper:     sweeper,
	}, zapLogger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		return server.Start(gctx, addr, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error { return desk.RunQuoteSweeper(gctx, cfg.Pricing.QuoteSweep) })
	g.Go(func() error {
		return settlement.NewMonitor(orch, cfg.Settlement.GracePeriod, cfg.Settlement.MonitorInterval, zapLogger).Run(gctx)
	})
	g.Go(func() error {
		return custody.NewWorker(sweeper, deposits, cfg.Custody.SweepInterval, cfg.Custody.DepositScanInterval, zapLogger).Run(gctx)
	})
	if cfg.Kafka.Enabled && cfg.Kafka.ConfirmationTopic != "" {
		reader := settlement.NewConfirmationReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ConfirmationTopic)
		consumer := settlement.NewConfirmationConsumer(orch, reader, zapLogger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}

// buildFeed returns the price feed: redis when enabled, otherwise a static
// feed, wrapped in a short-lived cache.
func buildFeed(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (marketdata.Feed, func(), error) {
	var upstream marketdata.Feed = marketdata.NewStaticFeed()
	closers := []func(){}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		upstream = marketdata.NewRedisFeed(client, zapLogger)
		closers = append(closers, func() { _ = client.Close() })
		zapLogger.Info("reading market data from redis", zap.String("address", cfg.Redis.Address))
	} else {
		zapLogger.Warn("redis disabled, pricing from the static feed and USD fallback rates")
	}

	cached, err := marketdata.NewCachedFeed(upstream, cfg.Pricing.CacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("market data cache: %w", err)
	}
	closers = append(closers, cached.Close)
	return cached, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

// buildRails routes crypto legs through the hot wallet and fiat legs through
// the bank API behind a circuit breaker, or the simulated rail.
func buildRails(cfg *config.Config, db *gorm.DB, zapLogger *zap.Logger) *rails.Router {
	router := rails.NewRouter(zapLogger).
		Register(rails.NewCryptoAdapter(custody.NewHotWalletProvider(db, zapLogger)), models.MethodCrypto)

	var fiat rails.Gateway
	if cfg.Rails.Simulated || cfg.Rails.BankAPIURL == "" {
		zapLogger.Warn("bank rails simulated")
		fiat = rails.NewSimulated(cfg.Settlement.CompletionDelay)
	} else {
		fiat = rails.NewBreaker(rails.NewBankAdapter(rails.BankConfig{
			BaseURL:           cfg.Rails.BankAPIURL,
			APIKey:            cfg.Rails.BankAPIKey,
			RequestsPerSecond: cfg.Rails.RequestsPerSecond,
		}, zapLogger), rails.BreakerConfig{
			Name:             "bank",
			MaxFailures:      5,
			Timeout:          30 * time.Second,
			SuccessThreshold: 2,
		}, zapLogger)
	}
	return router.Register(fiat, models.MethodWire, models.MethodSWIFT, models.MethodFedwire)
}

// ensureHouse creates the desk's own fully verified client on first start.
func ensureHouse(ctx context.Context, cs *clients.Service, gate *compliance.Gate, houseID string) error {
	if _, err := cs.Get(ctx, houseID); err == nil {
		return nil
	} else if !errors.Is(err, errors.NotFound) {
		return err
	}
	if _, err := cs.Create(ctx, clients.NewClient{
		ID:            houseID,
		Name:          "OTC Desk House Account",
		Email:         "house@otcdesk.io",
		Tier:          models.TierInstitutional,
		Institutional: true,
	}); err != nil && !errors.Is(err, errors.Conflict) {
		return err
	}
	_, err := gate.VerifyUser(ctx, houseID, compliance.VerifyDocument)
	return err
}
