package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"SwapPilot/internal/agent"
	"SwapPilot/internal/config"
	"SwapPilot/internal/events"
	"SwapPilot/internal/executor"
	"SwapPilot/internal/flywheel"
	"SwapPilot/internal/jobs"
	"SwapPilot/internal/monitor"
	"SwapPilot/internal/observability/metrics"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/storage/mysql"
	"SwapPilot/internal/storage/redis"
	"SwapPilot/internal/strategy"
	"SwapPilot/internal/trade"
	"SwapPilot/internal/web3"
	"SwapPilot/internal/web3/ethereum"
	"SwapPilot/pkg/logger"
)

// App 持有装配完成的组件，守护进程与命令行工具共用。
type App struct {
	Config   *config.Config
	Agents   *agent.Service
	Jobs     *jobs.Registry
	Metrics  *metrics.Metrics
	closers  []func() error
	dispatch *events.Dispatcher
}

// Close 按装配的逆序释放资源。
func (a *App) Close() error {
	var errs []error
	if a.dispatch != nil {
		errs = append(errs, a.dispatch.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

type stores struct {
	agents    agent.Store
	intents   trade.Store
	buyback   order.Store
	sentiment order.Store
}

// Build 根据配置装配全部组件并注册任务。
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	st, err := a.openStores(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Agents = agent.NewService(st.agents)

	publisher, err := a.openEvents(cfg.Events)
	if err != nil {
		return nil, err
	}

	keys, err := settlement.LoadKeyRing(cfg.Signing.DelegatedKeyEnvs, cfg.Treasury.PrivateKeyEnv)
	if err != nil {
		return nil, err
	}

	client, err := settlement.NewClient(cfg.Settlement.BaseURL, cfg.Settlement.Timeout(),
		settlement.WithRateLimit(cfg.Settlement.RequestsPerSecond))
	if err != nil {
		return nil, err
	}
	signer := settlement.NewSigner(settlement.Domain{
		ChainID:           cfg.Settlement.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Settlement.SettlementAddress),
	})
	pipeline := settlement.NewPipeline(client, signer, cfg.Settlement.AppData)

	minTrade, err := decimal.NewFromString(cfg.Strategy.MinTradeUSD)
	if err != nil {
		return nil, fmt.Errorf("解析 min_trade_usd 失败: %w", err)
	}
	generator := strategy.NewGenerator(a.Agents, st.intents,
		strategy.WithMinTradeUSD(minTrade),
		strategy.WithBatchLimit(cfg.Strategy.BatchLimit),
		strategy.WithPublisher(publisher))

	exec := executor.New(st.intents, pipeline, keys,
		executor.WithBatchLimit(cfg.Executor.BatchLimit),
		executor.WithMaxAttempts(cfg.Executor.MaxAttempts),
		executor.WithPublisher(publisher))

	mon := monitor.New(client, []monitor.Source{
		monitor.NewTradeSource(st.intents, st.agents),
		monitor.NewOrderSource(st.buyback),
		monitor.NewOrderSource(st.sentiment),
	},
		monitor.WithWorkers(cfg.Monitor.Workers),
		monitor.WithBatchLimit(cfg.Monitor.BatchLimit),
		monitor.WithPublisher(publisher),
		monitor.WithRecorder(a.Metrics))

	locker, err := a.openLocker(ctx, cfg.Lock)
	if err != nil {
		return nil, err
	}
	a.Jobs = jobs.NewRegistry(locker, jobs.WithLockTTL(cfg.Lock.TTL()), jobs.WithRecorder(a.Metrics))
	a.Jobs.Register(jobs.NameSignals, func(ctx context.Context) (any, error) { return generator.Run(ctx) })
	a.Jobs.Register(jobs.NameExecute, func(ctx context.Context) (any, error) { return exec.Run(ctx) })
	a.Jobs.Register(jobs.NameMonitor, func(ctx context.Context) (any, error) { return mon.Run(ctx) })

	if err := a.registerFlywheel(ctx, cfg, keys, pipeline, st, publisher); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg config.StorageConfig) (*stores, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		logger.L().Warn("使用内存存储，进程退出后数据将丢失")
		return &stores{
			agents:    agent.NewMemoryStore(),
			intents:   trade.NewMemoryStore(),
			buyback:   order.NewMemoryStore(order.FamilyBuyback),
			sentiment: order.NewMemoryStore(order.FamilySentiment),
		}, nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return mysqlStores(db)
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func mysqlStores(db *sql.DB) (*stores, error) {
	agents, err := agent.NewMySQLStore(db)
	if err != nil {
		return nil, err
	}
	intents, err := trade.NewMySQLStore(db)
	if err != nil {
		return nil, err
	}
	buyback, err := order.NewMySQLStore(db, order.FamilyBuyback)
	if err != nil {
		return nil, err
	}
	sentiment, err := order.NewMySQLStore(db, order.FamilySentiment)
	if err != nil {
		return nil, err
	}
	return &stores{agents: agents, intents: intents, buyback: buyback, sentiment: sentiment}, nil
}

func (a *App) openEvents(cfg config.EventsConfig) (events.Publisher, error) {
	var sink events.Sink
	switch strings.ToLower(cfg.Driver) {
	case "none":
		return events.Discard, nil
	case "", "log":
		sink = events.LogSink{}
	case "rabbitmq":
		s, err := events.NewRabbitMQSink(events.RabbitMQConfig{URL: cfg.URL, Exchange: cfg.Exchange})
		if err != nil {
			return nil, err
		}
		sink = s
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
	a.dispatch = events.NewDispatcher(sink, cfg.Buffer)
	return a.dispatch, nil
}

func (a *App) openLocker(ctx context.Context, cfg config.LockConfig) (jobs.Locker, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return jobs.NewMemoryLocker(), nil
	case "redis":
		locker, err := redis.NewLocker(ctx, redis.LockConfig{
			Address:  cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, locker.Close)
		return locker, nil
	default:
		return nil, fmt.Errorf("未知的任务锁驱动: %s", cfg.Driver)
	}
}

func (a *App) registerFlywheel(ctx context.Context, cfg *config.Config, keys *settlement.KeyRing, pipeline *settlement.Pipeline, st *stores, publisher events.Publisher) error {
	if strings.TrimSpace(cfg.Chain.RPCURL) == "" {
		logger.L().Warn("未配置链上 RPC，金库任务将跳过")
		a.Jobs.Register(jobs.NameHarvest, func(context.Context) (any, error) {
			return &flywheel.HarvestResult{Skipped: true, Reason: "chain rpc not configured"}, nil
		})
		a.Jobs.Register(jobs.NameBuyback, func(context.Context) (any, error) {
			return &flywheel.BuybackResult{Skipped: true, Reason: "chain rpc not configured"}, nil
		})
		return nil
	}

	chain, err := ethereum.NewClient(ctx, ethereum.Config{
		RPCURL:      cfg.Chain.RPCURL,
		CallTimeout: cfg.Chain.Timeout(),
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { chain.Close(); return nil })

	assets, err := web3.LoadRevenueAssets(cfg.Chain.AssetsFile)
	if err != nil {
		return err
	}

	minSwap := new(big.Int)
	if raw := strings.TrimSpace(cfg.Treasury.MinSwapAmount); raw != "" {
		if _, ok := minSwap.SetString(raw, 10); !ok {
			return fmt.Errorf("解析 min_swap_amount 失败: %s", raw)
		}
	}
	harvester := flywheel.NewHarvester(flywheel.HarvestConfig{
		Enabled:           cfg.Treasury.HarvestEnabled,
		FeeLocker:         cfg.Treasury.FeeLocker,
		IntermediateToken: cfg.Treasury.IntermediateToken,
		SettlementToken:   cfg.Treasury.SettlementToken,
		VaultRelayer:      cfg.Settlement.VaultRelayer,
		MinSwapAmount:     minSwap,
		Assets:            assets.Assets,
	}, chain, keys, pipeline, st.sentiment, publisher)

	threshold, err := decimal.NewFromString(cfg.Treasury.BuybackThreshold)
	if err != nil && cfg.Treasury.BuybackThreshold != "" {
		return fmt.Errorf("解析 buyback_threshold 失败: %w", err)
	}
	percent, err := decimal.NewFromString(cfg.Treasury.BuybackPercent)
	if err != nil {
		return fmt.Errorf("解析 buyback_percent 失败: %w", err)
	}
	buyback := flywheel.NewBuyback(flywheel.BuybackConfig{
		Enabled:         cfg.Treasury.BuybackEnabled,
		SettlementToken: cfg.Treasury.SettlementToken,
		TargetToken:     cfg.Treasury.TargetToken,
		Decimals:        cfg.Treasury.SettlementDecimal,
		Threshold:       threshold,
		Percent:         percent,
	}, chain, keys, pipeline, st.buyback, publisher)

	a.Jobs.Register(jobs.NameHarvest, func(ctx context.Context) (any, error) { return harvester.Run(ctx) })
	a.Jobs.Register(jobs.NameBuyback, func(ctx context.Context) (any, error) { return buyback.Run(ctx) })
	logger.L().Info("金库任务已装配", slog.Int("assets", len(assets.Assets)))
	return nil
}
