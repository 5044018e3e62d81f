package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// RevenueAssets models the structure of configs/assets.yaml.
type RevenueAssets struct {
	Assets []RevenueAsset `yaml:"assets"`
}

// RevenueAsset describes a deployed asset whose trading fees accrue to the
// treasury. Locker is the LP locker used for the collect step; when empty the
// collect step is skipped and only the fee locker claim runs.
type RevenueAsset struct {
	Name      string   `yaml:"name"`
	Token     string   `yaml:"token"`
	Locker    string   `yaml:"locker"`
	FeeTokens []string `yaml:"fee_tokens"`
}

// TokenAddress returns the asset token as an address.
func (a RevenueAsset) TokenAddress() common.Address {
	return common.HexToAddress(a.Token)
}

// LockerAddress returns the LP locker address and whether one is configured.
func (a RevenueAsset) LockerAddress() (common.Address, bool) {
	if strings.TrimSpace(a.Locker) == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(a.Locker), true
}

// FeeTokenAddresses returns the fee tokens as addresses.
func (a RevenueAsset) FeeTokenAddresses() []common.Address {
	out := make([]common.Address, 0, len(a.FeeTokens))
	for _, token := range a.FeeTokens {
		out = append(out, common.HexToAddress(token))
	}
	return out
}

// LoadRevenueAssets parses the YAML file listing revenue assets. An empty path
// yields an empty list.
func LoadRevenueAssets(path string) (RevenueAssets, error) {
	if strings.TrimSpace(path) == "" {
		return RevenueAssets{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return RevenueAssets{}, fmt.Errorf("读取收益资产配置失败: %w", err)
	}

	var assets RevenueAssets
	if err := yaml.Unmarshal(content, &assets); err != nil {
		return RevenueAssets{}, fmt.Errorf("解析收益资产配置失败: %w", err)
	}
	for i, asset := range assets.Assets {
		if !common.IsHexAddress(asset.Token) {
			return RevenueAssets{}, fmt.Errorf("收益资产 %d (%s) 的地址非法: %q", i, asset.Name, asset.Token)
		}
		if asset.Locker != "" && !common.IsHexAddress(asset.Locker) {
			return RevenueAssets{}, fmt.Errorf("收益资产 %s 的 locker 地址非法: %q", asset.Name, asset.Locker)
		}
		for _, token := range asset.FeeTokens {
			if !common.IsHexAddress(token) {
				return RevenueAssets{}, fmt.Errorf("收益资产 %s 的手续费代币地址非法: %q", asset.Name, token)
			}
		}
	}
	return assets, nil
}
