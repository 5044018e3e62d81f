package flywheel

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/order"
	"SwapPilot/internal/settlement"
	"SwapPilot/internal/web3"
)

const (
	usdc   = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	weth   = "0x4200000000000000000000000000000000000006"
	pilot  = "0x0000000000000000000000000000000000000001"
	locker = "0x00000000000000000000000000000000000000F1"
	lp     = "0x00000000000000000000000000000000000000F2"
	vault  = "0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"
)

type fakeChain struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	fees       map[common.Address]*big.Int
	allowance  *big.Int
	balanceErr error
	collectErr error
	approved   []*big.Int
	claimed    []common.Address
	collected  int
}

func (f *fakeChain) TokenBalance(_ context.Context, token, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if b, ok := f.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	if f.allowance == nil {
		return new(big.Int), nil
	}
	return f.allowance, nil
}

func (f *fakeChain) Approve(_ context.Context, _ *ecdsa.PrivateKey, _, _ common.Address, amount *big.Int) (common.Hash, error) {
	f.approved = append(f.approved, amount)
	return common.Hash{1}, nil
}

func (f *fakeChain) AvailableFees(_ context.Context, _, _, token common.Address) (*big.Int, error) {
	if v, ok := f.fees[token]; ok {
		return v, nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) CollectFees(context.Context, *ecdsa.PrivateKey, common.Address, common.Address) (common.Hash, error) {
	f.collected++
	return common.Hash{}, f.collectErr
}

func (f *fakeChain) ClaimFees(_ context.Context, _ *ecdsa.PrivateKey, _, _, token common.Address) (common.Hash, error) {
	f.claimed = append(f.claimed, token)
	return common.Hash{2}, nil
}

func (f *fakeChain) Close() {}

var _ web3.Chain = (*fakeChain)(nil)

type fakeAPI struct {
	quotes   []settlement.QuoteRequest
	quoteErr error
}

func (f *fakeAPI) Quote(_ context.Context, req settlement.QuoteRequest) (*settlement.Quote, error) {
	f.quotes = append(f.quotes, req)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &settlement.Quote{
		SellAmount: req.SellAmountBeforeFee,
		BuyAmount:  "777",
		FeeAmount:  "0",
		ValidTo:    1700000600,
		Kind:       settlement.KindSell,
	}, nil
}

func (f *fakeAPI) Submit(context.Context, settlement.SignedOrder) (string, error) {
	return "0xflywheel", nil
}

func (f *fakeAPI) Status(context.Context, string) (*settlement.OrderStatus, error) {
	return nil, errors.New("not used")
}

func newPipeline(api settlement.API) *settlement.Pipeline {
	return settlement.NewPipeline(api, settlement.NewSigner(settlement.Domain{
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
	}), "")
}

func treasuryRing(t *testing.T) *settlement.KeyRing {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ring := settlement.NewKeyRing()
	ring.SetTreasury(key)
	return ring
}

func buybackConfig() BuybackConfig {
	return BuybackConfig{
		Enabled:         true,
		SettlementToken: usdc,
		TargetToken:     pilot,
		Decimals:        0,
		Threshold:       decimal.NewFromInt(100),
		Percent:         decimal.NewFromInt(50),
	}
}

func TestSpendAmountFloors(t *testing.T) {
	if got := SpendAmount(big.NewInt(999), decimal.RequireFromString("33.3")); got.Int64() != 332 {
		t.Fatalf("expected 332, got %s", got)
	}
	if got := SpendAmount(big.NewInt(1000), decimal.NewFromInt(50)); got.Int64() != 500 {
		t.Fatalf("expected 500, got %s", got)
	}
}

func TestBuybackBelowThresholdSkips(t *testing.T) {
	chain := &fakeChain{balances: map[common.Address]*big.Int{common.HexToAddress(usdc): big.NewInt(80)}}
	api := &fakeAPI{}
	orders := order.NewMemoryStore(order.FamilyBuyback)
	b := NewBuyback(buybackConfig(), chain, treasuryRing(t), newPipeline(api), orders, nil)

	res, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Skipped || res.Reason == "" {
		t.Fatalf("expected skipped result, got %+v", res)
	}
	if len(api.quotes) != 0 {
		t.Fatalf("no quote should be requested")
	}
	if list, _ := orders.List(context.Background(), 0); len(list) != 0 {
		t.Fatalf("no order should be created, got %d", len(list))
	}
}

func TestBuybackAtThresholdSubmits(t *testing.T) {
	chain := &fakeChain{balances: map[common.Address]*big.Int{common.HexToAddress(usdc): big.NewInt(100)}}
	api := &fakeAPI{}
	orders := order.NewMemoryStore(order.FamilyBuyback)
	b := NewBuyback(buybackConfig(), chain, treasuryRing(t), newPipeline(api), orders, nil)

	res, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped || res.Spend != "50" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(api.quotes) != 1 || api.quotes[0].SellAmountBeforeFee != "50" || api.quotes[0].BuyToken != pilot {
		t.Fatalf("unexpected quote requests %+v", api.quotes)
	}
	stored, err := orders.Get(context.Background(), res.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != order.StatusOpen || stored.UID != "0xflywheel" || stored.Quote == nil || stored.Quote.BuyAmount != "777" {
		t.Fatalf("unexpected stored order %+v", stored)
	}
}

func TestBuybackFailureRecordsFailedOrder(t *testing.T) {
	chain := &fakeChain{balances: map[common.Address]*big.Int{common.HexToAddress(usdc): big.NewInt(500)}}
	api := &fakeAPI{quoteErr: xerrors.New(xerrors.CodeQuoteFailed, "no route")}
	orders := order.NewMemoryStore(order.FamilyBuyback)
	b := NewBuyback(buybackConfig(), chain, treasuryRing(t), newPipeline(api), orders, nil)

	res, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Order == nil || res.Order.Status != order.StatusFailed || res.Order.Error == "" {
		t.Fatalf("expected failed order, got %+v", res.Order)
	}
	if len(api.quotes) != 1 {
		t.Fatalf("failure must not retry within the invocation, got %d quotes", len(api.quotes))
	}
	if pending, _ := orders.ListPending(context.Background(), 0); len(pending) != 0 {
		t.Fatalf("failed order must not be polled")
	}
}

func TestBuybackSkipsWhenDisabledOrUnconfigured(t *testing.T) {
	cfg := buybackConfig()
	cfg.Enabled = false
	b := NewBuyback(cfg, &fakeChain{}, treasuryRing(t), newPipeline(&fakeAPI{}), order.NewMemoryStore(order.FamilyBuyback), nil)
	if res, _ := b.Run(context.Background()); !res.Skipped {
		t.Fatalf("disabled buyback should skip")
	}

	b = NewBuyback(buybackConfig(), &fakeChain{}, settlement.NewKeyRing(), newPipeline(&fakeAPI{}), order.NewMemoryStore(order.FamilyBuyback), nil)
	res, err := b.Run(context.Background())
	if err != nil || !res.Skipped || res.Reason != "treasury key not configured" {
		t.Fatalf("missing key should skip without error: %+v %v", res, err)
	}
}

func TestBuybackWithoutThresholdSkips(t *testing.T) {
	chain := &fakeChain{balances: map[common.Address]*big.Int{common.HexToAddress(usdc): big.NewInt(5)}}
	api := &fakeAPI{}
	orders := order.NewMemoryStore(order.FamilyBuyback)
	cfg := buybackConfig()
	cfg.Threshold = decimal.Decimal{}
	b := NewBuyback(cfg, chain, treasuryRing(t), newPipeline(api), orders, nil)

	res, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Skipped || res.Reason != "buyback threshold not configured" {
		t.Fatalf("expected unconfigured threshold skip, got %+v", res)
	}
	if len(api.quotes) != 0 {
		t.Fatalf("no quote should be requested")
	}
	if list, _ := orders.List(context.Background(), 0); len(list) != 0 {
		t.Fatalf("no order should be created, got %d", len(list))
	}
}

func TestBuybackBalanceReadFailureSkips(t *testing.T) {
	chain := &fakeChain{balanceErr: errors.New("rpc unavailable")}
	api := &fakeAPI{}
	orders := order.NewMemoryStore(order.FamilyBuyback)
	b := NewBuyback(buybackConfig(), chain, treasuryRing(t), newPipeline(api), orders, nil)

	res, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("balance read failure should not surface as error: %v", err)
	}
	if !res.Skipped || res.Reason != "balance read failed" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(api.quotes) != 0 {
		t.Fatalf("no quote should be requested")
	}
	if list, _ := orders.List(context.Background(), 0); len(list) != 0 {
		t.Fatalf("no order should be created, got %d", len(list))
	}
}

func harvestConfig() HarvestConfig {
	return HarvestConfig{
		Enabled:           true,
		FeeLocker:         locker,
		IntermediateToken: weth,
		SettlementToken:   usdc,
		VaultRelayer:      vault,
		MinSwapAmount:     big.NewInt(1000),
		Assets: []web3.RevenueAsset{
			{Name: "pilot", Token: pilot, Locker: lp, FeeTokens: []string{weth, pilot}},
		},
	}
}

func TestHarvesterClaimsAndSwaps(t *testing.T) {
	chain := &fakeChain{
		balances:   map[common.Address]*big.Int{common.HexToAddress(weth): big.NewInt(5000)},
		fees:       map[common.Address]*big.Int{common.HexToAddress(weth): big.NewInt(4000)},
		collectErr: errors.New("already collected"),
	}
	api := &fakeAPI{}
	orders := order.NewMemoryStore(order.FamilySentiment)
	h := NewHarvester(harvestConfig(), chain, treasuryRing(t), newPipeline(api), orders, nil)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Assets != 1 || res.Claimed != 1 || res.Errors != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if chain.collected != 1 {
		t.Fatalf("collect should be attempted once")
	}
	if len(chain.claimed) != 1 || chain.claimed[0] != common.HexToAddress(weth) {
		t.Fatalf("only the positive fee token should be claimed: %v", chain.claimed)
	}
	if len(chain.approved) != 1 || chain.approved[0].Cmp(math.MaxBig256) != 0 {
		t.Fatalf("expected max approval, got %v", chain.approved)
	}
	if len(api.quotes) != 1 || api.quotes[0].SellToken != weth || api.quotes[0].SellAmountBeforeFee != "5000" {
		t.Fatalf("unexpected quotes %+v", api.quotes)
	}
	if res.Order == nil || res.Order.Status != order.StatusOpen {
		t.Fatalf("expected open sentiment order, got %+v", res.Order)
	}
	stored, _ := orders.Get(context.Background(), res.Order.ID)
	if stored.Family != order.FamilySentiment {
		t.Fatalf("unexpected family %s", stored.Family)
	}
}

func TestHarvesterBelowFloorDoesNotSwap(t *testing.T) {
	chain := &fakeChain{
		balances:  map[common.Address]*big.Int{common.HexToAddress(weth): big.NewInt(10)},
		allowance: math.MaxBig256,
	}
	api := &fakeAPI{}
	h := NewHarvester(harvestConfig(), chain, treasuryRing(t), newPipeline(api), order.NewMemoryStore(order.FamilySentiment), nil)

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Claimed != 0 || res.Order != nil || len(api.quotes) != 0 {
		t.Fatalf("nothing should be claimed or swapped: %+v", res)
	}
	if chain.collected != 0 {
		t.Fatalf("collect should only run when fees are claimable")
	}
}

func TestHarvesterSkipsWithoutLocker(t *testing.T) {
	cfg := harvestConfig()
	cfg.FeeLocker = ""
	h := NewHarvester(cfg, &fakeChain{}, treasuryRing(t), newPipeline(&fakeAPI{}), order.NewMemoryStore(order.FamilySentiment), nil)
	res, err := h.Run(context.Background())
	if err != nil || !res.Skipped {
		t.Fatalf("expected skip, got %+v %v", res, err)
	}
}

func TestHarvesterWithoutClaimsLeavesBalance(t *testing.T) {
	chain := &fakeChain{
		balances:  map[common.Address]*big.Int{common.HexToAddress(weth): big.NewInt(5000)},
		allowance: math.MaxBig256,
	}
	api := &fakeAPI{}
	orders := order.NewMemoryStore(order.FamilySentiment)
	h := NewHarvester(harvestConfig(), chain, treasuryRing(t), newPipeline(api), orders, nil)

	for i := 0; i < 2; i++ {
		res, err := h.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Claimed != 0 || res.Order != nil {
			t.Fatalf("run %d: nothing should be swapped without a claim: %+v", i, res)
		}
	}
	if len(api.quotes) != 0 || len(chain.approved) != 0 {
		t.Fatalf("unexpected quotes %+v or approvals %v", api.quotes, chain.approved)
	}
	if list, _ := orders.List(context.Background(), 0); len(list) != 0 {
		t.Fatalf("no sentiment order should be created, got %d", len(list))
	}
}
