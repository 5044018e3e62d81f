package trade

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/order"
)

func newIntent(id, agentID string) *Intent {
	return &Intent{
		ID:            id,
		AgentID:       agentID,
		Owner:         "0xowner",
		SellToken:     "0xusdc",
		BuyToken:      "0xweth",
		SellAmount:    "100000000",
		SellAmountUSD: decimal.NewFromInt(100),
	}
}

func TestCreateIfNoActiveIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CreateIfNoActive(ctx, newIntent(fmt.Sprintf("i-%d", i), "agent-x"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case stdErrors.Is(err, ErrActiveIntentExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 || conflicts != 31 {
		t.Fatalf("expected exactly one active intent, created=%d conflicts=%d", created, conflicts)
	}
	active, _ := store.List(ctx, WithAgent("agent-x"), WithStatuses(ActiveStatuses...))
	if len(active) != 1 {
		t.Fatalf("expected 1 active intent, got %d", len(active))
	}
}

func TestTerminalIntentFreesAgent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateIfNoActive(ctx, newIntent("i1", "a")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Transition(ctx, "i1", StatusQueued, Update{Status: StatusFailed, ErrorReason: "quote failed"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if active, _ := store.HasActive(ctx, "a"); active {
		t.Fatalf("failed intent must not count as active")
	}
	if err := store.CreateIfNoActive(ctx, newIntent("i2", "a")); err != nil {
		t.Fatalf("second create after terminal should succeed: %v", err)
	}
}

func TestTransitionForwardOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.CreateIfNoActive(ctx, newIntent("i1", "a")); err != nil {
		t.Fatalf("create: %v", err)
	}

	quote := &order.Snapshot{SellAmount: "100000000", BuyAmount: "1000", FeeAmount: "0", ValidTo: 1700000000, Kind: "sell"}
	steps := []Update{
		{Status: StatusQuoted, Quote: quote},
		{Status: StatusSigned},
		{Status: StatusSubmitted, OrderUID: "0xuid"},
		{Status: StatusOpen},
		{Status: StatusFilled, ExecutedBuyAmount: "1050", Savings: "50", FilledAt: 42},
	}
	from := StatusQueued
	for _, step := range steps {
		if err := store.Transition(ctx, "i1", from, step); err != nil {
			t.Fatalf("%s -> %s: %v", from, step.Status, err)
		}
		from = step.Status
	}

	got, _ := store.Get(ctx, "i1")
	if got.OrderUID != "0xuid" || got.Quote == nil || got.Quote.BuyAmount != "1000" {
		t.Fatalf("uid and quote should be preserved: %+v", got)
	}
	if got.Savings != "50" || got.FilledAt != 42 {
		t.Fatalf("unexpected fill fields: %+v", got)
	}

	err := store.Transition(ctx, "i1", StatusFilled, Update{Status: StatusCancelled})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidTransition {
		t.Fatalf("terminal intents are immutable, got %v", err)
	}
	if CanTransition(StatusSigned, StatusQuoted) {
		t.Fatalf("backwards transition allowed")
	}
}

func TestTransitionDetectsStaleStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateIfNoActive(ctx, newIntent("i1", "a"))
	if err := store.Transition(ctx, "i1", StatusQuoted, Update{Status: StatusSigned}); !stdErrors.Is(err, ErrStaleIntent) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if err := store.Transition(ctx, "missing", StatusQueued, Update{Status: StatusQuoted}); !stdErrors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordFailureAndDueFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	intent := newIntent("i1", "a")
	intent.NextRunAt = 100
	_ = store.CreateIfNoActive(ctx, intent)

	if err := store.RecordFailure(ctx, "i1", StatusQueued, "quote timeout", 500); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	due, _ := store.List(ctx, WithStatuses(StatusQueued), WithDueBefore(200))
	if len(due) != 0 {
		t.Fatalf("intent should be deferred until 500")
	}
	due, _ = store.List(ctx, WithStatuses(StatusQueued), WithDueBefore(500))
	if len(due) != 1 || due[0].Attempts != 1 || due[0].ErrorReason != "quote timeout" {
		t.Fatalf("unexpected due intents %+v", due)
	}
	if due[0].Status != StatusQueued {
		t.Fatalf("failure must leave the status unchanged")
	}
}

func TestCreateRejectsInvalidIntent(t *testing.T) {
	store := NewMemoryStore()
	bad := newIntent("i1", "a")
	bad.SellAmount = "0"
	if err := store.CreateIfNoActive(context.Background(), bad); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
