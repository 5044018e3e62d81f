package trade

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "SwapPilot/internal/errors"
	"SwapPilot/internal/order"
)

// activeAgentKey 是 trade_intents 上基于生成列 active_agent_id 的唯一索引。
const activeAgentKey = "uk_trade_intents_active_agent"

// MySQLStore 使用 MySQL 保存交易意图。表结构由 deploy/migrations 创建。
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

const intentColumns = `id, agent_id, owner_address, sell_token, buy_token, sell_amount, sell_amount_usd, status,
        order_uid, quote_snapshot, executed_buy_amount, savings, error_reason, attempts,
        created_at, updated_at, next_run_at, filled_at`

// CreateIfNoActive 依赖唯一索引完成原子去重，无需先查询再插入。
func (s *MySQLStore) CreateIfNoActive(ctx context.Context, intent *Intent) error {
	if err := intent.validate(); err != nil {
		return err
	}
	snapshot, err := order.EncodeSnapshot(intent.Quote)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码报价快照失败")
	}
	now := time.Now().Unix()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	if intent.NextRunAt == 0 {
		intent.NextRunAt = now
	}

	const stmt = `INSERT INTO trade_intents (` + intentColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		intent.ID,
		intent.AgentID,
		strings.ToLower(intent.Owner),
		intent.SellToken,
		intent.BuyToken,
		intent.SellAmount,
		intent.SellAmountUSD,
		intent.Status,
		nullString(intent.OrderUID),
		snapshot,
		intent.ExecutedBuyAmount,
		intent.Savings,
		intent.ErrorReason,
		intent.Attempts,
		intent.CreatedAt,
		intent.UpdatedAt,
		intent.NextRunAt,
		intent.FilledAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			if strings.Contains(mysqlErr.Message, activeAgentKey) {
				return ErrActiveIntentExists
			}
			return xerrors.New(xerrors.CodeConflict, "intent 已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易意图失败")
	}
	return nil
}

// HasActive 实现 Store 接口。
func (s *MySQLStore) HasActive(ctx context.Context, agentID string) (bool, error) {
	const stmt = `SELECT COUNT(*) FROM trade_intents WHERE agent_id = ? AND status IN (?, ?, ?, ?, ?)`
	args := []any{agentID}
	for _, status := range ActiveStatuses {
		args = append(args, status)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询未终结意图失败")
	}
	return count > 0, nil
}

// Get 查询指定意图。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM trade_intents WHERE id = ?`, id)
	intent, err := scanIntent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易意图失败")
	}
	return intent, nil
}

// List 实现 Store 接口，按 next_run_at、created_at 升序返回。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Intent, error) {
	options := buildListOptions(opts)
	stmt, args := buildListQuery(options)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易意图列表失败")
	}
	defer rows.Close()

	var intents []*Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易意图失败")
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易意图失败")
	}
	return intents, nil
}

func buildListQuery(opts ListOptions) (string, []any) {
	var (
		builder    strings.Builder
		conditions []string
		args       []any
	)
	builder.WriteString(`SELECT ` + intentColumns + ` FROM trade_intents`)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.DueBefore > 0 {
		conditions = append(conditions, "next_run_at <= ?")
		args = append(args, opts.DueBefore)
	}
	if opts.RequireUID {
		conditions = append(conditions, "order_uid IS NOT NULL")
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY next_run_at ASC, created_at ASC, id ASC LIMIT ?")
	args = append(args, opts.Limit)
	return builder.String(), args
}

// Transition 实现 Store 接口。
func (s *MySQLStore) Transition(ctx context.Context, id string, from Status, update Update) error {
	if !CanTransition(from, update.Status) {
		return xerrors.New(xerrors.CodeInvalidTransition, "intent 状态 "+string(from)+" 不能变为 "+string(update.Status))
	}
	snapshot, err := order.EncodeSnapshot(update.Quote)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码报价快照失败")
	}

	const stmt = `UPDATE trade_intents SET status = ?, order_uid = COALESCE(?, order_uid), quote_snapshot = COALESCE(?, quote_snapshot),
        executed_buy_amount = ?, savings = ?, error_reason = ?, filled_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		update.Status,
		nullString(update.OrderUID),
		snapshot,
		update.ExecutedBuyAmount,
		update.Savings,
		update.ErrorReason,
		update.FilledAt,
		time.Now().Unix(),
		id,
		from,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易意图状态失败")
	}
	return s.requireAffected(ctx, res, id)
}

// RecordFailure 实现 Store 接口。
func (s *MySQLStore) RecordFailure(ctx context.Context, id string, from Status, reason string, nextRunAt int64) error {
	const stmt = `UPDATE trade_intents SET attempts = attempts + 1, error_reason = ?, next_run_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt, reason, nextRunAt, time.Now().Unix(), id, from)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录交易意图失败信息失败")
	}
	return s.requireAffected(ctx, res, id)
}

// Close 由连接池的所有者负责关闭。
func (s *MySQLStore) Close() error {
	return nil
}

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
	return ErrStaleIntent
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*Intent, error) {
	var (
		intent   Intent
		uid      sql.NullString
		snapshot sql.NullString
	)
	if err := row.Scan(
		&intent.ID,
		&intent.AgentID,
		&intent.Owner,
		&intent.SellToken,
		&intent.BuyToken,
		&intent.SellAmount,
		&intent.SellAmountUSD,
		&intent.Status,
		&uid,
		&snapshot,
		&intent.ExecutedBuyAmount,
		&intent.Savings,
		&intent.ErrorReason,
		&intent.Attempts,
		&intent.CreatedAt,
		&intent.UpdatedAt,
		&intent.NextRunAt,
		&intent.FilledAt,
	); err != nil {
		return nil, err
	}
	intent.OrderUID = uid.String
	quote, err := order.DecodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	intent.Quote = quote
	return &intent, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

var _ Store = (*MySQLStore)(nil)
