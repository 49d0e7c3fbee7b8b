package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/quote"
	"lp-rfq/internal/store"
	"lp-rfq/internal/streamer"
)

// timeLayout 固定小数位，保证按字符串比较即按时间排序。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Logger 将报价流更新、报价源表现与执行记录写入 SQLite。
type Logger struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewLogger 初始化历史记录服务，创建所需表结构。
func NewLogger(ctx context.Context, st *store.Store, logger *zap.Logger) (*Logger, error) {
	if st == nil {
		return nil, errors.New("history: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Logger{db: st.DB(), logger: logger, now: time.Now}, nil
}

// LogUpdate 记录一次报价流更新。同一报价 ID 只记录一次，重复时连同报价源明细一起跳过。
func (l *Logger) LogUpdate(ctx context.Context, u streamer.Update) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := u.Best
	res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO quotes (
	quote_id, session, side, base_asset, quote_asset, target_asset, amount,
	client_price, provider_price, provider, markup_bps,
	client_gives_amount, client_gives_asset, client_receives_amount, client_receives_asset,
	validity_ms, is_improvement, locked_provider, poll_number, epoch, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, u.Session, string(q.Side), q.BaseAsset, q.QuoteAsset, q.TargetAsset, q.Amount.String(),
		q.ClientPrice.String(), q.ProviderPrice.String(), q.Provider, q.MarkupBps.String(),
		q.ClientGivesAmount.String(), q.ClientGivesAsset, q.ClientReceivesAmount.String(), q.ClientReceivesAsset,
		q.Validity.Milliseconds(), boolToInt(u.Improvement), u.LockedProvider, u.Poll, u.Epoch,
		q.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: 写入报价失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return nil
	}

	for _, pq := range u.Quotes {
		if err = insertProviderQuote(ctx, tx, q.ID, pq); err != nil {
			return err
		}
		won := pq.Provider == q.Provider
		if err = l.updatePerformance(ctx, tx, pq, won); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("history: 提交事务失败: %w", err)
	}
	return nil
}

func insertProviderQuote(ctx context.Context, tx *sql.Tx, quoteID string, pq quote.ProviderQuote) error {
	var (
		diagnostics sql.NullString
		latency     sql.NullFloat64
	)
	if pq.Diagnostics != nil {
		raw, err := json.Marshal(pq.Diagnostics)
		if err != nil {
			return fmt.Errorf("history: 序列化诊断信息失败: %w", err)
		}
		diagnostics = sql.NullString{String: string(raw), Valid: true}
		latency = sql.NullFloat64{Float64: float64(pq.Diagnostics.Latency) / float64(time.Millisecond), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
INSERT INTO provider_quotes (
	quote_id, provider, price, quantity, validity_ms, response_time_ms, side, diagnostics, timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quoteID, pq.Provider, pq.Price.String(), pq.Quantity.String(), pq.Validity.Milliseconds(),
		latency, string(pq.Side), diagnostics, pq.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: 写入报价源报价失败: %w", err)
	}
	return nil
}

// updatePerformance 累计报价次数、胜出次数、平均响应时间与最高最低价。
func (l *Logger) updatePerformance(ctx context.Context, tx *sql.Tx, pq quote.ProviderQuote, won bool) error {
	var (
		total, wins int
		avg         sql.NullFloat64
		best, worst string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT total_quotes, total_wins, avg_response_time_ms, best_price, worst_price FROM provider_performance WHERE provider = ?`,
		pq.Provider,
	).Scan(&total, &wins, &avg, &best, &worst)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		total, wins = 0, 0
		best, worst = pq.Price.String(), pq.Price.String()
	case err != nil:
		return fmt.Errorf("history: 查询报价源表现失败: %w", err)
	}

	if pq.Diagnostics != nil {
		ms := float64(pq.Diagnostics.Latency) / float64(time.Millisecond)
		if avg.Valid {
			avg.Float64 = (avg.Float64*float64(total) + ms) / float64(total+1)
		} else {
			avg = sql.NullFloat64{Float64: ms, Valid: true}
		}
	}

	total++
	if won {
		wins++
	}
	bestPrice := decimal.Min(decimal.RequireFromString(best), pq.Price)
	worstPrice := decimal.Max(decimal.RequireFromString(worst), pq.Price)
	winRate := float64(wins) / float64(total) * 100

	_, err = tx.ExecContext(ctx, `
INSERT INTO provider_performance (
	provider, total_quotes, total_wins, win_rate, avg_response_time_ms, best_price, worst_price, last_updated
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
	total_quotes = excluded.total_quotes,
	total_wins = excluded.total_wins,
	win_rate = excluded.win_rate,
	avg_response_time_ms = excluded.avg_response_time_ms,
	best_price = excluded.best_price,
	worst_price = excluded.worst_price,
	last_updated = excluded.last_updated`,
		pq.Provider, total, wins, winRate, avg, bestPrice.String(), worstPrice.String(),
		l.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: 更新报价源表现失败: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
