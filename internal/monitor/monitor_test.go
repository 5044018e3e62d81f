package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"SwapPilot/internal/agent"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/trade"
)

type fakeStatusAPI struct {
	mu       sync.Mutex
	statuses map[string]*settlement.OrderStatus
	fail     map[string]bool
	polls    int
}

func (f *fakeStatusAPI) Quote(context.Context, settlement.QuoteRequest) (*settlement.Quote, error) {
	return nil, errors.New("not used")
}

func (f *fakeStatusAPI) Submit(context.Context, settlement.SignedOrder) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeStatusAPI) Status(_ context.Context, uid string) (*settlement.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.fail[uid] {
		return nil, errors.New("timeout")
	}
	status, ok := f.statuses[uid]
	if !ok {
		return &settlement.OrderStatus{UID: uid, Status: settlement.StatusOpen}, nil
	}
	clone := *status
	return &clone, nil
}

func (f *fakeStatusAPI) set(uid string, status *settlement.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[uid] = status
}

func newAPI() *fakeStatusAPI {
	return &fakeStatusAPI{statuses: map[string]*settlement.OrderStatus{}, fail: map[string]bool{}}
}

var fixedNow = time.Unix(1700000000, 0)

func seedOrder(t *testing.T, store *order.MemoryStore, id, uid string, status order.Status, minBuy string) {
	t.Helper()
	err := store.Create(context.Background(), &order.Order{
		ID:         id,
		UID:        uid,
		SellToken:  "0xsell",
		BuyToken:   "0xbuy",
		SellAmount: "100",
		Quote:      &order.Snapshot{SellAmount: "100", BuyAmount: minBuy, ValidTo: 1700000600, Kind: "sell"},
		Status:     status,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestReconcileRules(t *testing.T) {
	open := Tracked{ID: "1", UID: "u", Status: order.StatusOpen, MinBuyAmount: "1000"}
	cases := []struct {
		name    string
		current Tracked
		remote  settlement.OrderStatus
		want    order.Status
		changed bool
	}{
		{"fulfilled", open, settlement.OrderStatus{Status: settlement.StatusFulfilled, ExecutedBuyAmount: "1050"}, order.StatusFilled, true},
		{"partial execution counts as filled", open, settlement.OrderStatus{Status: settlement.StatusOpen, ExecutedBuyAmount: "10"}, order.StatusFilled, true},
		{"cancelled", open, settlement.OrderStatus{Status: settlement.StatusCancelled}, order.StatusCancelled, true},
		{"invalidated", open, settlement.OrderStatus{Status: settlement.StatusOpen, Invalidated: true}, order.StatusCancelled, true},
		{"expired", open, settlement.OrderStatus{Status: settlement.StatusExpired}, order.StatusExpired, true},
		{"still open", open, settlement.OrderStatus{Status: settlement.StatusOpen, ExecutedBuyAmount: "0"}, order.StatusOpen, false},
		{"pending becomes open", Tracked{Status: order.StatusPending}, settlement.OrderStatus{Status: settlement.StatusOpen}, order.StatusOpen, true},
		{"presignature keeps pending", Tracked{Status: order.StatusPending}, settlement.OrderStatus{Status: settlement.StatusPresignaturePending}, order.StatusPending, false},
		{"terminal never reopens", Tracked{Status: order.StatusFilled}, settlement.OrderStatus{Status: settlement.StatusOpen}, order.StatusFilled, false},
	}
	for _, tc := range cases {
		remote := tc.remote
		got, changed := Reconcile(tc.current, &remote, fixedNow)
		if got.Status != tc.want || changed != tc.changed {
			t.Fatalf("%s: got %s/%v, want %s/%v", tc.name, got.Status, changed, tc.want, tc.changed)
		}
	}
}

func TestFilledOrderRecordsSavings(t *testing.T) {
	api := newAPI()
	api.set("0xuid", &settlement.OrderStatus{Status: settlement.StatusFulfilled, ExecutedBuyAmount: "1050"})
	store := order.NewMemoryStore(order.FamilyBuyback)
	seedOrder(t, store, "b1", "0xuid", order.StatusOpen, "1000")

	m := New(api, []Source{NewOrderSource(store)}, WithClock(func() time.Time { return fixedNow }))
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fs := summary[order.FamilyBuyback]; fs.Checked != 1 || fs.Updated != 1 {
		t.Fatalf("unexpected summary %+v", fs)
	}
	got, _ := store.Get(context.Background(), "b1")
	if got.Status != order.StatusFilled || got.Savings != "50" || got.ExecutedBuyAmount != "1050" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.FilledAt != fixedNow.Unix() {
		t.Fatalf("filled timestamp not stamped")
	}
}

func TestSecondRunProducesNoWrites(t *testing.T) {
	api := newAPI()
	api.set("0xa", &settlement.OrderStatus{Status: settlement.StatusFulfilled, ExecutedBuyAmount: "5"})
	store := order.NewMemoryStore(order.FamilySentiment)
	seedOrder(t, store, "s1", "0xa", order.StatusOpen, "1")
	seedOrder(t, store, "s2", "0xb", order.StatusOpen, "1")

	m := New(api, []Source{NewOrderSource(store)})
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	writes := store.Writes()
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if store.Writes() != writes {
		t.Fatalf("second run wrote %d rows", store.Writes()-writes)
	}
	if fs := summary[order.FamilySentiment]; fs.Checked != 1 || fs.Updated != 0 {
		t.Fatalf("only the open order should be checked again: %+v", fs)
	}
}

func TestRowFailureDoesNotStopOthers(t *testing.T) {
	api := newAPI()
	api.fail["0xbad"] = true
	api.set("0xgood", &settlement.OrderStatus{Status: settlement.StatusExpired})
	store := order.NewMemoryStore(order.FamilyBuyback)
	seedOrder(t, store, "bad", "0xbad", order.StatusOpen, "1")
	seedOrder(t, store, "good", "0xgood", order.StatusOpen, "1")

	m := New(api, []Source{NewOrderSource(store)}, WithWorkers(2))
	summary, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	fs := summary[order.FamilyBuyback]
	if fs.Checked != 2 || fs.Errors != 1 || fs.Updated != 1 {
		t.Fatalf("unexpected summary %+v", fs)
	}
	got, _ := store.Get(context.Background(), "good")
	if got.Status != order.StatusExpired || got.ErrorReason == "" {
		t.Fatalf("expired order should carry a reason: %+v", got)
	}
}

func TestTradeFillDebitsAgentBudget(t *testing.T) {
	ctx := context.Background()
	agents := agent.NewMemoryStore()
	err := agents.Create(ctx, &agent.Agent{
		ID:                "agent-1",
		Strategy:          agent.StrategyDCA,
		Budget:            agent.Budget{Allocated: decimal.NewFromInt(1000), Remaining: decimal.NewFromInt(60)},
		SellToken:         "0xsell",
		BuyToken:          "0xbuy",
		SellTokenDecimals: 6,
		Status:            agent.StatusActive,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	intents := trade.NewMemoryStore()
	if err := intents.CreateIfNoActive(ctx, &trade.Intent{
		ID: "i1", AgentID: "agent-1", SellAmount: "100000000", SellAmountUSD: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if err := intents.Transition(ctx, "i1", trade.StatusQueued, trade.Update{
		Status:   trade.StatusSubmitted,
		OrderUID: "0xtrade",
		Quote:    &order.Snapshot{BuyAmount: "1000"},
	}); err != nil {
		t.Fatalf("submit intent: %v", err)
	}

	api := newAPI()
	api.set("0xtrade", &settlement.OrderStatus{Status: settlement.StatusFulfilled, ExecutedBuyAmount: "1050"})
	m := New(api, []Source{NewTradeSource(intents, agents)})
	summary, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fs := summary[order.FamilyTradeQueue]; fs.Updated != 1 || fs.Errors != 0 {
		t.Fatalf("unexpected summary %+v", fs)
	}

	intent, _ := intents.Get(ctx, "i1")
	if intent.Status != trade.StatusFilled || intent.Savings != "50" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	a, _ := agents.Get(ctx, "agent-1")
	if !a.Budget.Remaining.IsZero() {
		t.Fatalf("budget should be clamped at zero, got %s", a.Budget.Remaining)
	}
	if a.Stats.TradeCount != 1 {
		t.Fatalf("trade count should increase, got %d", a.Stats.TradeCount)
	}

	// 已成交的意图不再被轮询，也不会重复扣减。
	writes := intents.Writes()
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if intents.Writes() != writes {
		t.Fatalf("filled intent must not be written again")
	}
}

func TestSubmittedIntentMovesToOpen(t *testing.T) {
	ctx := context.Background()
	intents := trade.NewMemoryStore()
	_ = intents.CreateIfNoActive(ctx, &trade.Intent{ID: "i1", AgentID: "a", SellAmount: "1"})
	_ = intents.Transition(ctx, "i1", trade.StatusQueued, trade.Update{Status: trade.StatusSubmitted, OrderUID: "0xopen"})

	m := New(newAPI(), []Source{NewTradeSource(intents, agent.NewMemoryStore())})
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := intents.Get(ctx, "i1")
	if got.Status != trade.StatusOpen {
		t.Fatalf("expected open, got %s", got.Status)
	}
}

type recorder struct {
	families map[string][3]int
}

func (r *recorder) ObserveReconcile(family string, checked, updated, errs int) {
	r.families[family] = [3]int{checked, updated, errs}
}

func TestRecorderReceivesCounts(t *testing.T) {
	store := order.NewMemoryStore(order.FamilyBuyback)
	seedOrder(t, store, "b1", "0x1", order.StatusPending, "1")
	rec := &recorder{families: map[string][3]int{}}

	m := New(newAPI(), []Source{NewOrderSource(store)}, WithRecorder(rec))
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.families[string(order.FamilyBuyback)]; got != [3]int{1, 1, 0} {
		t.Fatalf("unexpected recorded counts %v", got)
	}
}
