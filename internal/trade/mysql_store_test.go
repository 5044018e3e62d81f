package trade

import (
	"context"
	"database/sql/driver"
	stdErrors "errors"
	"reflect"
	"testing"

	"github.com/go-sql-driver/mysql"

	"SwapPilot/internal/storage/mysql/mysqltest"
)

const insertIntentSQL = `INSERT INTO trade_intents (` + intentColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func TestMySQLCreateMapsActiveKeyViolation(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'agent-x' for key 'trade_intents.uk_trade_intents_active_agent'"}
	pk := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'i1' for key 'trade_intents.PRIMARY'"}
	db, drv := mysqltest.New(t,
		mysqltest.Exec(insertIntentSQL, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec(insertIntentSQL, mysqltest.Result{}).WithError(dup),
		mysqltest.Exec(insertIntentSQL, mysqltest.Result{}).WithError(pk),
	)
	store, _ := NewMySQLStore(db)
	ctx := context.Background()

	if err := store.CreateIfNoActive(ctx, newIntent("i1", "agent-x")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.CreateIfNoActive(ctx, newIntent("i2", "agent-x")); !stdErrors.Is(err, ErrActiveIntentExists) {
		t.Fatalf("expected active intent conflict, got %v", err)
	}
	err := store.CreateIfNoActive(ctx, newIntent("i1", "agent-y"))
	if err == nil || stdErrors.Is(err, ErrActiveIntentExists) {
		t.Fatalf("primary key collisions are plain conflicts, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMySQLHasActive(t *testing.T) {
	db, drv := mysqltest.New(t,
		mysqltest.Query(`SELECT COUNT(*) FROM trade_intents WHERE agent_id = ? AND status IN (?, ?, ?, ?, ?)`, mysqltest.Rows{
			Columns: []string{"count"},
			Values:  [][]driver.Value{{int64(1)}},
		}),
	)
	store, _ := NewMySQLStore(db)
	active, err := store.HasActive(context.Background(), "agent-x")
	if err != nil || !active {
		t.Fatalf("expected active, got %v %v", active, err)
	}
	drv.AssertConsumed(t)
}

func TestBuildListQuery(t *testing.T) {
	opts := buildListOptions([]ListOption{
		WithStatuses(StatusSubmitted, StatusOpen, "bogus"),
		WithOrderUID(),
		WithLimit(25),
	})
	stmt, args := buildListQuery(opts)
	want := `SELECT ` + intentColumns + ` FROM trade_intents WHERE status IN (?, ?) AND order_uid IS NOT NULL ORDER BY next_run_at ASC, created_at ASC, id ASC LIMIT ?`
	if mysqltest.NormalizeSQL(stmt) != mysqltest.NormalizeSQL(want) {
		t.Fatalf("unexpected statement:\n%s", mysqltest.NormalizeSQL(stmt))
	}
	if !reflect.DeepEqual(args, []any{StatusSubmitted, StatusOpen, 25}) {
		t.Fatalf("unexpected args %#v", args)
	}
}

func TestMySQLListScansSnapshot(t *testing.T) {
	columns := []string{"id", "agent_id", "owner_address", "sell_token", "buy_token", "sell_amount", "sell_amount_usd", "status",
		"order_uid", "quote_snapshot", "executed_buy_amount", "savings", "error_reason", "attempts",
		"created_at", "updated_at", "next_run_at", "filled_at"}
	db, drv := mysqltest.New(t,
		mysqltest.Query(`SELECT `+intentColumns+` FROM trade_intents WHERE status IN (?) AND next_run_at <= ? ORDER BY next_run_at ASC, created_at ASC, id ASC LIMIT ?`, mysqltest.Rows{
			Columns: columns,
			Values: [][]driver.Value{{
				"i1", "a", "0xowner", "0xusdc", "0xweth", "100000000", "100", "quoted",
				nil, `{"sellAmount":"100000000","buyAmount":"1000","feeAmount":"0","validTo":1,"kind":"sell"}`, "", "", "", int64(2),
				int64(1), int64(1), int64(1), int64(0),
			}},
		}),
	)
	store, _ := NewMySQLStore(db)
	intents, err := store.List(context.Background(), WithStatuses(StatusQuoted), WithDueBefore(10))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(intents) != 1 || intents[0].Quote == nil || intents[0].Quote.BuyAmount != "1000" || intents[0].OrderUID != "" {
		t.Fatalf("unexpected intents %+v", intents)
	}
	if intents[0].Attempts != 2 || intents[0].Status != StatusQuoted {
		t.Fatalf("unexpected intent %+v", intents[0])
	}
	drv.AssertConsumed(t)
}

func TestMySQLTransitionRejectsBackwards(t *testing.T) {
	db, drv := mysqltest.New(t)
	store, _ := NewMySQLStore(db)
	if err := store.Transition(context.Background(), "i1", StatusFilled, Update{Status: StatusOpen}); err == nil {
		t.Fatalf("expected rejection without touching the database")
	}
	drv.AssertConsumed(t)
}
