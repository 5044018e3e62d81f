package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRevenueAssets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	content := `assets:
  - name: pilot
    token: "0x0000000000000000000000000000000000000001"
    locker: "0x0000000000000000000000000000000000000002"
    fee_tokens:
      - "0x4200000000000000000000000000000000000006"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	assets, err := LoadRevenueAssets(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(assets.Assets) != 1 {
		t.Fatalf("expected one asset, got %d", len(assets.Assets))
	}
	asset := assets.Assets[0]
	if _, ok := asset.LockerAddress(); !ok {
		t.Fatalf("locker should be configured")
	}
	if fees := asset.FeeTokenAddresses(); len(fees) != 1 || fees[0].Hex() != "0x4200000000000000000000000000000000000006" {
		t.Fatalf("unexpected fee tokens %v", fees)
	}
}

func TestLoadRevenueAssetsRejectsBadAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte("assets:\n  - name: x\n    token: nope\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRevenueAssets(path); err == nil {
		t.Fatalf("expected invalid address error")
	}
	empty, err := LoadRevenueAssets("")
	if err != nil || len(empty.Assets) != 0 {
		t.Fatalf("empty path should yield no assets: %v", err)
	}
}
