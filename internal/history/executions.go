package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lp-rfq/internal/execution"
	"lp-rfq/internal/quote"
)

var _ execution.Recorder = (*Logger)(nil)

// LogExecution 写入执行记录。
func (l *Logger) LogExecution(ctx context.Context, rec execution.Record) error {
	var (
		side, quantity, quoteQty                             sql.NullString
		executedQty, executedQuoteQty, avgPrice, commission  sql.NullString
		commissionAsset, pnlAmount, pnlAsset, pnlNet, pnlBps sql.NullString
		errorMessage                                         sql.NullString
	)
	if h := rec.Hedge; h != nil {
		side = nullString(string(h.Side))
		quantity = nullDecimal(h.Quantity)
		quoteQty = nullDecimal(h.QuoteQty)
	}
	if f := rec.Fill; f != nil {
		executedQty = nullString(f.ExecutedQty.String())
		executedQuoteQty = nullString(f.ExecutedQuoteQty.String())
		avgPrice = nullString(f.AvgPrice.String())
		commission = nullString(f.Commission.String())
		commissionAsset = nullString(f.CommissionAsset)
	}
	if p := rec.PnL; p != nil {
		pnlAmount = nullString(p.Gross.String())
		pnlAsset = nullString(p.Asset)
		pnlNet = nullString(p.Net.String())
		pnlBps = nullString(p.Bps.String())
	}
	if rec.Error != "" {
		errorMessage = nullString(rec.Error)
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO executions (
	execution_id, quote_id, status, provider, exchange_side,
	quantity, quote_qty, executed_qty, executed_quote_qty,
	avg_price, commission, commission_asset,
	pnl_amount, pnl_asset, pnl_after_fees, pnl_bps,
	error_message, executed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.QuoteID, string(rec.Status), rec.Provider, side,
		quantity, quoteQty, executedQty, executedQuoteQty,
		avgPrice, commission, commissionAsset,
		pnlAmount, pnlAsset, pnlNet, pnlBps,
		errorMessage, rec.ExecutedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("history: 写入执行记录失败: %w", err)
	}
	return nil
}

// Executions 返回最近的执行记录，按时间倒序。
func (l *Logger) Executions(ctx context.Context, limit int) ([]execution.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT execution_id, quote_id, status, provider, exchange_side,
	quantity, quote_qty, executed_qty, executed_quote_qty,
	avg_price, commission, commission_asset,
	pnl_amount, pnl_asset, pnl_after_fees, pnl_bps,
	error_message, executed_at
FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: 查询执行记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]execution.Record, 0, limit)
	for rows.Next() {
		var (
			rec                                                  execution.Record
			status, executedAt                                   string
			side, quantity, quoteQty                             sql.NullString
			executedQty, executedQuoteQty, avgPrice, commission  sql.NullString
			commissionAsset, pnlAmount, pnlAsset, pnlNet, pnlBps sql.NullString
			errorMessage                                         sql.NullString
		)
		if err := rows.Scan(&rec.ExecutionID, &rec.QuoteID, &status, &rec.Provider, &side,
			&quantity, &quoteQty, &executedQty, &executedQuoteQty,
			&avgPrice, &commission, &commissionAsset,
			&pnlAmount, &pnlAsset, &pnlNet, &pnlBps,
			&errorMessage, &executedAt,
		); err != nil {
			return nil, fmt.Errorf("history: 解析执行记录失败: %w", err)
		}

		rec.Status = execution.Status(status)
		rec.Error = errorMessage.String
		rec.ExecutedAt = parseTime(executedAt)
		if side.Valid {
			rec.Hedge = &execution.HedgeOrder{
				Side:     quote.Side(side.String),
				Quantity: parseNullDecimal(quantity),
				QuoteQty: parseNullDecimal(quoteQty),
			}
		}
		if executedQty.Valid {
			rec.Fill = &execution.Fill{
				Side:             quote.Side(side.String),
				ExecutedQty:      parseDecimal(executedQty),
				ExecutedQuoteQty: parseDecimal(executedQuoteQty),
				AvgPrice:         parseDecimal(avgPrice),
				Commission:       parseDecimal(commission),
				CommissionAsset:  commissionAsset.String,
			}
		}
		if pnlAmount.Valid {
			rec.PnL = &execution.PnL{
				Gross: parseDecimal(pnlAmount),
				Asset: pnlAsset.String,
				Net:   parseDecimal(pnlNet),
				Bps:   parseDecimal(pnlBps),
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: 读取执行记录失败: %w", err)
	}
	return records, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: true}
}

func nullDecimal(v decimal.NullDecimal) sql.NullString {
	if !v.Valid {
		return sql.NullString{}
	}
	return nullString(v.Decimal.String())
}

func parseDecimal(v sql.NullString) decimal.Decimal {
	if !v.Valid {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseNullDecimal(v sql.NullString) decimal.NullDecimal {
	if !v.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(parseDecimal(v))
}

func parseTime(v string) time.Time {
	ts, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}
