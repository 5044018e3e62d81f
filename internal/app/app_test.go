package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"SwapPilot/internal/agent"
	"SwapPilot/internal/config"
	"SwapPilot/internal/flywheel"
	"SwapPilot/internal/jobs"
	"SwapPilot/internal/strategy"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Storage:    config.StorageConfig{Driver: "memory"},
		Settlement: config.SettlementConfig{BaseURL: "http://127.0.0.1:1", ChainID: 8453, RequestsPerSecond: 5},
		Strategy:   config.StrategyConfig{MinTradeUSD: "10", BatchLimit: 100},
		Executor:   config.ExecutorConfig{BatchLimit: 10, MaxAttempts: 3},
		Monitor:    config.MonitorConfig{Workers: 2, BatchLimit: 50},
		Treasury:   config.TreasuryConfig{BuybackPercent: "50"},
		Lock:       config.LockConfig{Driver: "memory"},
		Events:     config.EventsConfig{Driver: "none"},
	}
}

func TestBuildRegistersAllJobs(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	want := []string{jobs.NameBuyback, jobs.NameExecute, jobs.NameHarvest, jobs.NameMonitor, jobs.NameSignals}
	got := a.Jobs.Names()
	if len(got) != len(want) {
		t.Fatalf("unexpected jobs %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected jobs %v", got)
		}
	}
}

func TestFlywheelSkipsWithoutChain(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	out, err := a.Jobs.Run(context.Background(), jobs.NameHarvest)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if res := out.(*flywheel.HarvestResult); !res.Skipped || res.Reason == "" {
		t.Fatalf("expected skipped harvest, got %+v", res)
	}
	out, err = a.Jobs.Run(context.Background(), jobs.NameBuyback)
	if err != nil {
		t.Fatalf("buyback: %v", err)
	}
	if res := out.(*flywheel.BuybackResult); !res.Skipped {
		t.Fatalf("expected skipped buyback, got %+v", res)
	}
}

func TestSignalsQueueIntentForFundedAgent(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Agents.Store().Create(ctx, &agent.Agent{
		ID:                "agent-1",
		Owner:             "0x00000000000000000000000000000000000000a1",
		Strategy:          agent.StrategyDCA,
		Risk:              agent.Risk{MaxDrawdownPct: decimal.NewFromInt(50), MaxPositionSizePct: decimal.NewFromInt(10)},
		SellToken:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		BuyToken:          "0x4200000000000000000000000000000000000006",
		SellTokenDecimals: 6,
		TradingEnabled:    true,
		Status:            agent.StatusDeploying,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if _, err := a.Agents.Fund(ctx, "agent-1", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	out, err := a.Jobs.Run(ctx, jobs.NameSignals)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if sum := out.(*strategy.Summary); sum.Queued != 1 {
		t.Fatalf("expected 1 queued intent, got %+v", sum)
	}
}

func TestBuildRejectsUnknownDrivers(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "postgres"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected unsupported storage driver error")
	}

	cfg = memoryConfig()
	cfg.Lock.Driver = "zookeeper"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected unsupported lock driver error")
	}
}
