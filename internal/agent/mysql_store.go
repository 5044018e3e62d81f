package agent

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	xerrors "SwapPilot/internal/errors"
)

// MySQLStore 使用 MySQL 保存 agent。表结构由 deploy/migrations 创建。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已建立的连接池创建 MySQLStore。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

const agentColumns = `id, owner_address, name, strategy, max_drawdown_pct, max_position_size_pct,
        allocated_budget, remaining_budget, budget_currency, sell_token, buy_token, sell_token_decimals,
        trading_enabled, status, pnl_usd, pnl_pct, trade_count, created_at, updated_at`

// Create 插入新的 agent。
func (s *MySQLStore) Create(ctx context.Context, agent *Agent) error {
	if err := agent.Validate(); err != nil {
		return err
	}
	now := time.Now().Unix()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = StatusDeploying
	}

	const stmt = `INSERT INTO agents (` + agentColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		agent.ID,
		strings.ToLower(agent.Owner),
		agent.Name,
		agent.Strategy,
		agent.Risk.MaxDrawdownPct,
		agent.Risk.MaxPositionSizePct,
		agent.Budget.Allocated,
		agent.Budget.Remaining,
		agent.Budget.Currency,
		agent.SellToken,
		agent.BuyToken,
		agent.SellTokenDecimals,
		agent.TradingEnabled,
		agent.Status,
		agent.Stats.PnLUSD,
		agent.Stats.PnLPct,
		agent.Stats.TradeCount,
		agent.CreatedAt,
		agent.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "agent 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入 agent 失败")
	}
	return nil
}

// Get 查询指定 agent。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 agent 失败")
	}
	return agent, nil
}

// ListTradable 实现 Store 接口。
func (s *MySQLStore) ListTradable(ctx context.Context, limit int) ([]*Agent, error) {
	return s.query(ctx, `SELECT `+agentColumns+` FROM agents
        WHERE status = ? AND trading_enabled = 1 ORDER BY created_at ASC, id ASC LIMIT ?`, StatusActive, normalizeLimit(limit))
}

// List 返回全部 agent。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Agent, error) {
	return s.query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC LIMIT ?`, normalizeLimit(limit))
}

func (s *MySQLStore) query(ctx context.Context, stmt string, args ...any) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 agent 列表失败")
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 agent 失败")
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 agent 失败")
	}
	return agents, nil
}

// UpdateStatus 实现 Store 接口。
func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, expected, next Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		next, time.Now().Unix(), id, expected)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 agent 状态失败")
	}
	return s.requireAffected(ctx, res, id)
}

// AddFunds 实现 Store 接口。
func (s *MySQLStore) AddFunds(ctx context.Context, id string, amount decimal.Decimal, expected, next Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET allocated_budget = allocated_budget + ?, remaining_budget = remaining_budget + ?,
        status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		amount, amount, next, time.Now().Unix(), id, expected)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加 agent 预算失败")
	}
	return s.requireAffected(ctx, res, id)
}

// DebitBudget 实现 Store 接口。
func (s *MySQLStore) DebitBudget(ctx context.Context, id string, amount decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET remaining_budget = GREATEST(remaining_budget - ?, 0),
        trade_count = trade_count + 1, updated_at = ? WHERE id = ?`,
		amount, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扣减 agent 预算失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// SetTradingEnabled 实现 Store 接口。
func (s *MySQLStore) SetTradingEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET trading_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 agent 交易开关失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// Close 由连接池的所有者负责关闭，这里无需操作。
func (s *MySQLStore) Close() error {
	return nil
}

// requireAffected 区分条件更新未命中时是记录不存在还是状态已变化。
func (s *MySQLStore) requireAffected(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrStaleAgent
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	if err := row.Scan(
		&agent.ID,
		&agent.Owner,
		&agent.Name,
		&agent.Strategy,
		&agent.Risk.MaxDrawdownPct,
		&agent.Risk.MaxPositionSizePct,
		&agent.Budget.Allocated,
		&agent.Budget.Remaining,
		&agent.Budget.Currency,
		&agent.SellToken,
		&agent.BuyToken,
		&agent.SellTokenDecimals,
		&agent.TradingEnabled,
		&agent.Status,
		&agent.Stats.PnLUSD,
		&agent.Stats.PnLPct,
		&agent.Stats.TradeCount,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &agent, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}

var _ Store = (*MySQLStore)(nil)
