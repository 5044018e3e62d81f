package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const feeLockerABIJSON = `[
	{"type":"function","name":"availableFees","stateMutability":"view","inputs":[{"name":"feeOwner","type":"address"},{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"feeOwner","type":"address"},{"name":"token","type":"address"}],"outputs":[]}
]`

const lpLockerABIJSON = `[
	{"type":"function","name":"collectRewards","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"}],"outputs":[]}
]`

var (
	erc20ABI     = mustParseABI(erc20ABIJSON)
	feeLockerABI = mustParseABI(feeLockerABIJSON)
	lpLockerABI  = mustParseABI(lpLockerABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
