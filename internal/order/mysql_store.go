package order

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	json "github.com/goccy/go-json"

	xerrors "SwapPilot/internal/errors"
)

// MySQLStore 将一个订单族保存在独立的表中。
type MySQLStore struct {
	db     *sql.DB
	family Family
	table  string
}

var familyTables = map[Family]string{
	FamilyBuyback:   "buyback_orders",
	FamilySentiment: "sentiment_orders",
}

// NewMySQLStore 创建 MySQLStore。trade_queue 族保存在 trade_intents 中，不在此处理。
func NewMySQLStore(db *sql.DB, family Family) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	table, ok := familyTables[family]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的订单族: "+string(family))
	}
	return &MySQLStore{db: db, family: family, table: table}, nil
}

const orderColumns = `id, order_uid, sell_token, buy_token, sell_amount, quote_snapshot, status,
        executed_buy_amount, savings, error_reason, created_at, updated_at, filled_at`

// Family 实现 Store 接口。
func (s *MySQLStore) Family() Family { return s.family }

// Create 插入新订单。
func (s *MySQLStore) Create(ctx context.Context, order *Order) error {
	if order == nil || order.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	snapshot, err := EncodeSnapshot(order.Quote)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码报价快照失败")
	}
	now := time.Now().Unix()
	order.Family = s.family
	order.CreatedAt = now
	order.UpdatedAt = now

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table, orderColumns)
	_, err = s.db.ExecContext(ctx, stmt,
		order.ID,
		nullString(order.UID),
		order.SellToken,
		order.BuyToken,
		order.SellAmount,
		snapshot,
		order.Status,
		order.ExecutedBuyAmount,
		order.Savings,
		order.ErrorReason,
		order.CreatedAt,
		order.UpdatedAt,
		order.FilledAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "订单已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订单失败")
	}
	return nil
}

// Get 查询指定订单。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, orderColumns, s.table), id)
	o, err := s.scan(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单失败")
	}
	return o, nil
}

// ListPending 实现 Store 接口。
func (s *MySQLStore) ListPending(ctx context.Context, limit int) ([]*Order, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE status IN (?, ?) AND order_uid IS NOT NULL
        ORDER BY updated_at ASC, id ASC LIMIT ?`, orderColumns, s.table)
	return s.query(ctx, stmt, StatusPending, StatusOpen, normalizeLimit(limit))
}

// List 实现 Store 接口。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Order, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC LIMIT ?`, orderColumns, s.table)
	return s.query(ctx, stmt, normalizeLimit(limit))
}

func (s *MySQLStore) query(ctx context.Context, stmt string, args ...any) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单列表失败")
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := s.scan(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单失败")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订单失败")
	}
	return orders, nil
}

// Transition 实现 Store 接口。
func (s *MySQLStore) Transition(ctx context.Context, id string, from Status, outcome Outcome) error {
	if !CanTransition(from, outcome.Status) {
		return xerrors.New(xerrors.CodeInvalidTransition, "订单状态 "+string(from)+" 不能变为 "+string(outcome.Status))
	}
	stmt := fmt.Sprintf(`UPDATE %s SET status = ?, executed_buy_amount = ?, savings = ?, error_reason = ?, filled_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`, s.table)
	res, err := s.db.ExecContext(ctx, stmt,
		outcome.Status,
		outcome.ExecutedBuyAmount,
		outcome.Savings,
		outcome.ErrorReason,
		outcome.FilledAt,
		time.Now().Unix(),
		id,
		from,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订单状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrStaleOrder
	}
	return nil
}

// Close 由连接池的所有者负责关闭。
func (s *MySQLStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *MySQLStore) scan(row rowScanner) (*Order, error) {
	var (
		o        Order
		uid      sql.NullString
		snapshot sql.NullString
	)
	if err := row.Scan(
		&o.ID,
		&uid,
		&o.SellToken,
		&o.BuyToken,
		&o.SellAmount,
		&snapshot,
		&o.Status,
		&o.ExecutedBuyAmount,
		&o.Savings,
		&o.ErrorReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.FilledAt,
	); err != nil {
		return nil, err
	}
	o.Family = s.family
	o.UID = uid.String
	quote, err := DecodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	o.Quote = quote
	return &o, nil
}

// EncodeSnapshot 将报价快照编码为可落库的 JSON。
func EncodeSnapshot(snapshot *Snapshot) (sql.NullString, error) {
	if snapshot == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// DecodeSnapshot 解析落库的报价快照。
func DecodeSnapshot(value sql.NullString) (*Snapshot, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(value.String), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}

var _ Store = (*MySQLStore)(nil)
