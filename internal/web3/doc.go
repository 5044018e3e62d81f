// Package web3 holds the chain-facing pieces of the treasury flywheel: the
// revenue asset configuration and the Chain interface used for ERC-20 balance,
// allowance and approval calls plus fee locker collect/claim transactions.
// The EVM implementation lives in the ethereum subpackage.
package web3
