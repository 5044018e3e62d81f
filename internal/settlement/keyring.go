package settlement

import (
	"crypto/ecdsa"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SwapPilot/internal/errors"
)

// KeyRing 保存 agent 所有者地址到委托签名私钥的映射，以及金库私钥。
type KeyRing struct {
	mu       sync.RWMutex
	keys     map[common.Address]*ecdsa.PrivateKey
	treasury *ecdsa.PrivateKey
}

// NewKeyRing 创建空的 KeyRing。
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// LoadKeyRing 从环境变量读取委托私钥。envByOwner 的键是所有者地址，值是环境变量名。
// 私钥对应的地址无需等于所有者地址，委托签名者可以代表所有者下单。
func LoadKeyRing(envByOwner map[string]string, treasuryEnv string) (*KeyRing, error) {
	ring := NewKeyRing()
	for owner, envName := range envByOwner {
		if !common.IsHexAddress(owner) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "委托签名配置中的地址非法: "+owner)
		}
		raw := strings.TrimSpace(os.Getenv(envName))
		if raw == "" {
			continue
		}
		key, err := ParsePrivateKey(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析委托私钥失败",
				xerrors.WithMetadata("env", envName))
		}
		ring.Add(common.HexToAddress(owner), key)
	}
	if treasuryEnv = strings.TrimSpace(treasuryEnv); treasuryEnv == "" {
		return ring, nil
	}
	if raw := strings.TrimSpace(os.Getenv(treasuryEnv)); raw != "" {
		key, err := ParsePrivateKey(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析金库私钥失败")
		}
		ring.SetTreasury(key)
	}
	return ring, nil
}

// ParsePrivateKey 解析可带 0x 前缀的十六进制私钥。
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
}

// Add 为所有者注册委托私钥。
func (k *KeyRing) Add(owner common.Address, key *ecdsa.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[owner] = key
}

// SetTreasury 设置金库私钥。
func (k *KeyRing) SetTreasury(key *ecdsa.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.treasury = key
}

// ForOwner 返回所有者的委托私钥。
func (k *KeyRing) ForOwner(owner string) (*ecdsa.PrivateKey, error) {
	if !common.IsHexAddress(owner) {
		return nil, xerrors.New(xerrors.CodeSigningFailed, "所有者地址非法: "+owner)
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[common.HexToAddress(owner)]
	if !ok {
		return nil, xerrors.New(xerrors.CodeSigningFailed, "未配置委托签名私钥",
			xerrors.WithMetadata("owner", owner))
	}
	return key, nil
}

// Treasury 返回金库私钥。
func (k *KeyRing) Treasury() (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.treasury == nil {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "未配置金库私钥")
	}
	return k.treasury, nil
}
