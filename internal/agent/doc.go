// Package agent models autonomous trading configurations: their strategy,
// risk limits, budget and lifecycle. Status only changes through explicit
// actions (fund, activate, pause, resume, stop) or an automatic drawdown
// pause, and the remaining budget always stays within [0, allocated].
package agent
