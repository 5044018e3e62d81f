package settlement

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SwapPilot/internal/errors"
)

const (
	usdc = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	weth = "0x4200000000000000000000000000000000000006"
)

func testSigner() *Signer {
	return NewSigner(Domain{
		ChainID:           8453,
		VerifyingContract: common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
	})
}

func testOrder(receiver string) Order {
	return Order{
		SellToken:         usdc,
		BuyToken:          weth,
		Receiver:          receiver,
		SellAmount:        "9990000",
		BuyAmount:         "4000000000000000",
		ValidTo:           1700000000,
		AppData:           ZeroAppData,
		FeeAmount:         "0",
		Kind:              KindSell,
		PartiallyFillable: false,
		SellTokenBalance:  BalanceERC20,
		BuyTokenBalance:   BalanceERC20,
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	signer := testSigner()
	order := testOrder(owner.Hex())

	sig, err := signer.Sign(order, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := hexutil.Decode(sig.Hex)
	if err != nil || len(raw) != 65 {
		t.Fatalf("expected 65-byte signature, got %d (%v)", len(raw), err)
	}
	if v := raw[64]; v != 27 && v != 28 {
		t.Fatalf("unexpected v %d", v)
	}
	if sig.Owner != owner {
		t.Fatalf("unexpected owner %s", sig.Owner.Hex())
	}
	recovered, err := signer.Recover(order, sig.Hex)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != owner {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), owner.Hex())
	}
}

func TestDigestIsDeterministicAndFieldSensitive(t *testing.T) {
	signer := testSigner()
	order := testOrder(weth)

	first, err := signer.Digest(order)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, _ := signer.Digest(order)
	if first != second {
		t.Fatalf("digest should be deterministic")
	}

	changed := order
	changed.BuyAmount = "4000000000000001"
	other, _ := signer.Digest(changed)
	if other == first {
		t.Fatalf("buy amount must affect the digest")
	}

	otherChain := NewSigner(Domain{ChainID: 1, VerifyingContract: signer.Domain().VerifyingContract})
	crossChain, _ := otherChain.Digest(order)
	if crossChain == first {
		t.Fatalf("chain id must affect the digest")
	}
}

func TestSignRejectsMalformedOrder(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := testSigner()

	bad := testOrder("not-an-address")
	if _, err := signer.Sign(bad, key); xerrors.CodeOf(err) != xerrors.CodeSigningFailed {
		t.Fatalf("expected signing failure, got %v", err)
	}
	bad = testOrder(weth)
	bad.AppData = "0x1234"
	if _, err := signer.Sign(bad, key); xerrors.CodeOf(err) != xerrors.CodeSigningFailed {
		t.Fatalf("short appData should be rejected, got %v", err)
	}
	if _, err := signer.Sign(testOrder(weth), nil); xerrors.CodeOf(err) != xerrors.CodeSigningFailed {
		t.Fatalf("nil key should be rejected, got %v", err)
	}
}

func TestComputeUIDLayout(t *testing.T) {
	digest := common.HexToHash("0x" + strings.Repeat("ab", 32))
	owner := common.HexToAddress("0x" + strings.Repeat("cd", 20))

	uid := ComputeUID(digest, owner, 0x01020304)
	raw, err := hexutil.Decode(uid)
	if err != nil {
		t.Fatalf("decode uid: %v", err)
	}
	if len(raw) != 56 {
		t.Fatalf("expected 56 bytes, got %d", len(raw))
	}
	if common.BytesToHash(raw[:32]) != digest {
		t.Fatalf("digest prefix mismatch")
	}
	if common.BytesToAddress(raw[32:52]) != owner {
		t.Fatalf("owner segment mismatch")
	}
	if !strings.HasSuffix(uid, "01020304") {
		t.Fatalf("validTo must be big-endian suffix: %s", uid)
	}
}
