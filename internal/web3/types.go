package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Chain is the narrow set of on-chain reads and writes the treasury jobs
// depend on. Write methods block until the transaction is mined and return an
// error when it reverts.
type Chain interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error)

	// AvailableFees reads the fee locker balance claimable by feeOwner in token.
	AvailableFees(ctx context.Context, locker, feeOwner, token common.Address) (*big.Int, error)
	// CollectFees moves accrued LP fees for asset into the fee locker.
	CollectFees(ctx context.Context, key *ecdsa.PrivateKey, locker, asset common.Address) (common.Hash, error)
	// ClaimFees withdraws feeOwner's claimable token balance from the fee locker.
	ClaimFees(ctx context.Context, key *ecdsa.PrivateKey, locker, feeOwner, token common.Address) (common.Hash, error)

	Close()
}
