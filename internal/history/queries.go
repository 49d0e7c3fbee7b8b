package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/quote"
)

// QuoteRow 为一条已记录的客户报价。
type QuoteRow struct {
	QuoteID        string          `json:"quote_id"`
	Session        string          `json:"session"`
	Side           quote.Side      `json:"side"`
	BaseAsset      string          `json:"base_asset"`
	QuoteAsset     string          `json:"quote_asset"`
	TargetAsset    string          `json:"target_asset"`
	Amount         decimal.Decimal `json:"amount"`
	ClientPrice    decimal.Decimal `json:"client_price"`
	ProviderPrice  decimal.Decimal `json:"provider_price"`
	Provider       string          `json:"provider"`
	MarkupBps      decimal.Decimal `json:"markup_bps"`
	Validity       time.Duration   `json:"validity"`
	Improvement    bool            `json:"is_improvement"`
	LockedProvider string          `json:"locked_provider"`
	Poll           int             `json:"poll_number"`
	Epoch          int             `json:"epoch"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ProviderStats 为报价源的累计表现。
type ProviderStats struct {
	Provider        string          `json:"provider"`
	TotalQuotes     int             `json:"total_quotes"`
	TotalWins       int             `json:"total_wins"`
	WinRate         float64         `json:"win_rate"`
	AvgResponseTime time.Duration   `json:"avg_response_time"`
	BestPrice       decimal.Decimal `json:"best_price"`
	WorstPrice      decimal.Decimal `json:"worst_price"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// Filter 限定报价历史查询范围，零值字段不生效。
type Filter struct {
	Provider string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// RecentQuotes 返回最近的客户报价。
func (l *Logger) RecentQuotes(ctx context.Context, limit int) ([]QuoteRow, error) {
	return l.QuoteHistory(ctx, Filter{Limit: limit})
}

// QuoteHistory 按条件查询客户报价，按时间倒序。
func (l *Logger) QuoteHistory(ctx context.Context, f Filter) ([]QuoteRow, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `SELECT quote_id, session, side, base_asset, quote_asset, target_asset, amount,
	client_price, provider_price, provider, markup_bps, validity_ms, is_improvement,
	locked_provider, poll_number, epoch, created_at
FROM quotes WHERE 1 = 1`
	args := make([]interface{}, 0, 4)
	if f.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, f.Provider)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.Until.UTC().Format(timeLayout))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: 查询报价失败: %w", err)
	}
	defer rows.Close()

	out := make([]QuoteRow, 0, f.Limit)
	for rows.Next() {
		var (
			r                                                QuoteRow
			side, amount, clientPrice, providerPrice, markup string
			validityMs                                       int64
			improvement                                      int
			created                                          string
		)
		if err := rows.Scan(&r.QuoteID, &r.Session, &side, &r.BaseAsset, &r.QuoteAsset, &r.TargetAsset, &amount,
			&clientPrice, &providerPrice, &r.Provider, &markup, &validityMs, &improvement,
			&r.LockedProvider, &r.Poll, &r.Epoch, &created,
		); err != nil {
			return nil, fmt.Errorf("history: 解析报价失败: %w", err)
		}
		r.Side = quote.Side(side)
		r.Amount = toDecimal(amount)
		r.ClientPrice = toDecimal(clientPrice)
		r.ProviderPrice = toDecimal(providerPrice)
		r.MarkupBps = toDecimal(markup)
		r.Validity = time.Duration(validityMs) * time.Millisecond
		r.Improvement = improvement == 1
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: 读取报价失败: %w", err)
	}
	return out, nil
}

// ProviderStats 返回全部报价源表现，按胜率倒序。
func (l *Logger) ProviderStats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT provider, total_quotes, total_wins, win_rate, avg_response_time_ms, best_price, worst_price, last_updated
FROM provider_performance ORDER BY win_rate DESC, provider ASC`)
	if err != nil {
		return nil, fmt.Errorf("history: 查询报价源表现失败: %w", err)
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var (
			s                   ProviderStats
			avg                 sql.NullFloat64
			best, worst, update string
		)
		if err := rows.Scan(&s.Provider, &s.TotalQuotes, &s.TotalWins, &s.WinRate, &avg, &best, &worst, &update); err != nil {
			return nil, fmt.Errorf("history: 解析报价源表现失败: %w", err)
		}
		if avg.Valid {
			s.AvgResponseTime = time.Duration(avg.Float64 * float64(time.Millisecond))
		}
		s.BestPrice = toDecimal(best)
		s.WorstPrice = toDecimal(worst)
		s.LastUpdated = parseTime(update)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: 读取报价源表现失败: %w", err)
	}
	return out, nil
}

func toDecimal(v string) decimal.Decimal {
	return parseDecimal(sql.NullString{String: v, Valid: true})
}
