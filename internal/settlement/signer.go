package settlement

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	xerrors "SwapPilot/internal/errors"
)

const (
	domainName    = "Gnosis Protocol"
	domainVersion = "v2"
)

// orderTypes 是 GPv2 Order 的 EIP-712 类型定义，字段顺序属于协议的一部分。
var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

// Domain 是 EIP-712 签名域。
type Domain struct {
	ChainID           int64
	VerifyingContract common.Address
}

// Signature 是一次签名的结果。
type Signature struct {
	// Hex 是 0x 前缀的 65 字节 r||s||v，v 取 27 或 28。
	Hex    string
	Digest common.Hash
	Owner  common.Address
}

// Signer 对规范订单生成 EIP-712 签名。
type Signer struct {
	domain Domain
}

// NewSigner 创建 Signer。
func NewSigner(domain Domain) *Signer {
	return &Signer{domain: domain}
}

// Domain 返回签名域。
func (s *Signer) Domain() Domain {
	return s.domain
}

// TypedData 构造订单的 EIP-712 结构。
func (s *Signer) TypedData(order Order) apitypes.TypedData {
	appData := order.AppData
	if appData == "" {
		appData = ZeroAppData
	}
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(s.domain.ChainID),
			VerifyingContract: s.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":         order.SellToken,
			"buyToken":          order.BuyToken,
			"receiver":          order.Receiver,
			"sellAmount":        order.SellAmount,
			"buyAmount":         order.BuyAmount,
			"validTo":           strconv.FormatUint(uint64(order.ValidTo), 10),
			"appData":           appData,
			"feeAmount":         order.FeeAmount,
			"kind":              order.Kind,
			"partiallyFillable": order.PartiallyFillable,
			"sellTokenBalance":  order.SellTokenBalance,
			"buyTokenBalance":   order.BuyTokenBalance,
		},
	}
}

// Digest 计算订单的 EIP-712 摘要。
func (s *Signer) Digest(order Order) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(s.TypedData(order))
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeSigningFailed, err, "计算订单摘要失败")
	}
	return common.BytesToHash(hash), nil
}

// Sign 使用给定私钥对订单签名。
func (s *Signer) Sign(order Order, key *ecdsa.PrivateKey) (*Signature, error) {
	if key == nil {
		return nil, xerrors.New(xerrors.CodeSigningFailed, "签名私钥为空")
	}
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	digest, err := s.Digest(order)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailed, err, "订单签名失败")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return &Signature{
		Hex:    hexutil.Encode(sig),
		Digest: digest,
		Owner:  crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Recover 从 65 字节签名中恢复签名者地址。
func (s *Signer) Recover(order Order, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("签名格式错误")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest, err := s.Digest(order)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复签名者失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ComputeUID 按 digest(32) || owner(20) || validTo(4, big-endian) 计算订单 UID。
func ComputeUID(digest common.Hash, owner common.Address, validTo uint32) string {
	uid := make([]byte, 0, 56)
	uid = append(uid, digest.Bytes()...)
	uid = append(uid, owner.Bytes()...)
	uid = binary.BigEndian.AppendUint32(uid, validTo)
	return hexutil.Encode(uid)
}

func validateOrder(order Order) error {
	for name, addr := range map[string]string{
		"sellToken": order.SellToken,
		"buyToken":  order.BuyToken,
		"receiver":  order.Receiver,
	} {
		if !common.IsHexAddress(addr) {
			return xerrors.New(xerrors.CodeSigningFailed, "订单字段 "+name+" 不是合法地址",
				xerrors.WithMetadata(name, addr))
		}
	}
	if order.AppData != "" && len(strings.TrimPrefix(order.AppData, "0x")) != 64 {
		return xerrors.New(xerrors.CodeSigningFailed, "appData 必须为 32 字节")
	}
	return nil
}
