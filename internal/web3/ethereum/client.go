package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/web3"
	"SwapPilot/pkg/logger"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	RPCURL string
	// CallTimeout bounds every individual RPC call.
	CallTimeout time.Duration
	// ReceiptTimeout bounds how long a write waits to be mined.
	ReceiptTimeout time.Duration
}

// Backend mirrors the subset of ethclient.Client used by Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements web3.Chain for EVM compatible chains.
type Client struct {
	backend        Backend
	rpcClient      *gethrpc.Client
	callTimeout    time.Duration
	receiptTimeout time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainCallFailed, err, "连接以太坊节点失败")
	}

	client := NewClientWithBackend(ethclient.NewClient(rpcClient), cfg)
	client.rpcClient = rpcClient
	return client, nil
}

// NewClientWithBackend wraps an existing backend, mainly for tests.
func NewClientWithBackend(backend Backend, cfg Config) *Client {
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	return &Client{
		backend:        backend,
		callTimeout:    callTimeout,
		receiptTimeout: receiptTimeout,
		pollInterval:   time.Second,
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// TokenBalance returns the ERC-20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, erc20ABI, token, "balanceOf", owner)
}

// Allowance returns the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, erc20ABI, token, "allowance", owner, spender)
}

// Approve sets spender's allowance and waits for the transaction to be mined.
func (c *Client) Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 approve 调用失败: %w", err)
	}
	return c.transact(ctx, key, token, data, "approve")
}

// AvailableFees reads the claimable fee balance from the fee locker.
func (c *Client) AvailableFees(ctx context.Context, locker, feeOwner, token common.Address) (*big.Int, error) {
	return c.callUint(ctx, feeLockerABI, locker, "availableFees", feeOwner, token)
}

// CollectFees asks the LP locker to move accrued fees for asset into the fee locker.
func (c *Client) CollectFees(ctx context.Context, key *ecdsa.PrivateKey, locker, asset common.Address) (common.Hash, error) {
	data, err := lpLockerABI.Pack("collectRewards", asset)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 collectRewards 调用失败: %w", err)
	}
	return c.transact(ctx, key, locker, data, "collectRewards")
}

// ClaimFees withdraws claimable fees in token from the fee locker.
func (c *Client) ClaimFees(ctx context.Context, key *ecdsa.PrivateKey, locker, feeOwner, token common.Address) (common.Hash, error) {
	data, err := feeLockerABI.Pack("claim", feeOwner, token)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 claim 调用失败: %w", err)
	}
	return c.transact(ctx, key, locker, data, "claim")
}

func (c *Client) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	out, err := c.backend.CallContract(callCtx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainCallFailed, err, "合约调用失败",
			xerrors.WithMetadata("method", method),
			xerrors.WithMetadata("contract", to.Hex()))
	}
	values, err := contract.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeChainCallFailed, err, "解析合约返回值失败",
			xerrors.WithMetadata("method", method))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainCallFailed, "合约返回值类型不是 uint256",
			xerrors.WithMetadata("method", method))
	}
	return value, nil
}

func (c *Client) transact(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte, method string) (common.Hash, error) {
	if key == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeSigningFailed, "交易签名私钥为空")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	tx, err := c.buildTx(ctx, from, to, data)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainCallFailed, err, "构造交易失败",
			xerrors.WithMetadata("method", method))
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeSigningFailed, err, "交易签名失败")
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err = c.backend.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainCallFailed, err, "发送交易失败",
			xerrors.WithMetadata("method", method))
	}

	logger.L().Info("交易已广播",
		slog.String("method", method),
		slog.String("to", to.Hex()),
		slog.String("tx", signed.Hash().Hex()))

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return signed.Hash(), err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return signed.Hash(), xerrors.New(xerrors.CodeChainCallFailed, "交易执行失败",
			xerrors.WithMetadata("method", method),
			xerrors.WithMetadata("tx", signed.Hash().Hex()),
			xerrors.WithRetryable(false))
	}
	return signed.Hash(), nil
}

func (c *Client) buildTx(ctx context.Context, from, to common.Address, data []byte) (*coretypes.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, from)
	if err != nil {
		return nil, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(callCtx)
	if err != nil {
		return nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(callCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(callCtx, gethcore.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("估算 gas 失败: %w", err)
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	return coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * 6 / 5,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	}), nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.pollInterval
	policy.MaxInterval = 8 * c.pollInterval

	receipt, err := backoff.Retry(ctx, func() (*coretypes.Receipt, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		receipt, err := c.backend.TransactionReceipt(callCtx, hash)
		if err != nil {
			if !errors.Is(err, gethcore.NotFound) {
				logger.L().Debug("查询交易回执失败，稍后重试", slog.String("tx", hash.Hex()), slog.Any("error", err))
			}
			return nil, err
		}
		return receipt, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(c.receiptTimeout))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待交易上链超时",
			xerrors.WithMetadata("tx", hash.Hex()))
	}
	return receipt, nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	id, err := c.backend.ChainID(callCtx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainCallFailed, err, "获取链 ID 失败")
	}
	c.chainID = id
	return id, nil
}

var _ web3.Chain = (*Client)(nil)
