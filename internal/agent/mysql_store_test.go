package agent

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"testing"

	"github.com/shopspring/decimal"

	"SwapPilot/internal/storage/mysql/mysqltest"
)

var agentColumnNames = []string{
	"id", "owner_address", "name", "strategy", "max_drawdown_pct", "max_position_size_pct",
	"allocated_budget", "remaining_budget", "budget_currency", "sell_token", "buy_token", "sell_token_decimals",
	"trading_enabled", "status", "pnl_usd", "pnl_pct", "trade_count", "created_at", "updated_at",
}

func agentRow(id string, status Status) []driver.Value {
	return []driver.Value{
		id, "0xowner", "", "dca", "15", "25",
		"1000", "400", "USDC", "0xsell", "0xbuy", int64(6),
		int64(1), string(status), "0", "-3.5", int64(2), int64(10), int64(20),
	}
}

func TestMySQLStoreListTradable(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Query(`SELECT `+agentColumns+` FROM agents
        WHERE status = ? AND trading_enabled = 1 ORDER BY created_at ASC, id ASC LIMIT ?`, mysqltest.Rows{
			Columns: agentColumnNames,
			Values:  [][]driver.Value{agentRow("a1", StatusActive), agentRow("a2", StatusActive)},
		}),
	)
	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	agents, err := store.ListTradable(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	drv.AssertConsumed(t)
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	first := agents[0]
	if !first.TradingEnabled || first.Status != StatusActive || first.Strategy != StrategyDCA {
		t.Fatalf("unexpected agent %+v", first)
	}
	if !first.Budget.Remaining.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("unexpected remaining %s", first.Budget.Remaining)
	}
	if !first.Stats.PnLPct.Equal(decimal.RequireFromString("-3.5")) {
		t.Fatalf("unexpected pnl %s", first.Stats.PnLPct)
	}
}

func TestMySQLStoreDebitBudget(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Exec(`UPDATE agents SET remaining_budget = GREATEST(remaining_budget - ?, 0),
        trade_count = trade_count + 1, updated_at = ? WHERE id = ?`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec(`UPDATE agents SET remaining_budget = GREATEST(remaining_budget - ?, 0),
        trade_count = trade_count + 1, updated_at = ? WHERE id = ?`, mysqltest.Result{RowsAffected: 0}),
	)
	store, _ := NewMySQLStore(db)

	if err := store.DebitBudget(context.Background(), "a1", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := store.DebitBudget(context.Background(), "missing", decimal.NewFromInt(100)); !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLStoreUpdateStatusStale(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Exec(`UPDATE agents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, mysqltest.Rows{
			Columns: agentColumnNames,
			Values:  [][]driver.Value{agentRow("a1", StatusPaused)},
		}),
	)
	store, _ := NewMySQLStore(db)

	err := store.UpdateStatus(context.Background(), "a1", StatusActive, StatusPaused)
	if !stdErrors.Is(err, ErrStaleAgent) {
		t.Fatalf("expected stale agent error, got %v", err)
	}
	drv.AssertConsumed(t)
}
