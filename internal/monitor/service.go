package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lp-rfq/internal/aggregator"
	"lp-rfq/internal/execution"
	"lp-rfq/internal/quote"
	"lp-rfq/internal/store"
	"lp-rfq/internal/streamer"
)

var (
	_ aggregator.OutcomeSink = (*Service)(nil)
	_ execution.Reporter     = (*Service)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	return &Service{db: st.DB(), logger: logger, now: time.Now}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// ObserveOutcomes 记录一轮询价中失败的报价源。无报价不算失败。
func (s *Service) ObserveOutcomes(ctx context.Context, req quote.Request, outcomes []aggregator.Outcome) {
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		payload := ProviderFailurePayload{
			Session:  req.Session,
			Provider: o.Provider,
			Side:     req.Side,
			Pair:     req.BaseAsset + req.QuoteAsset,
			Error:    o.Err.Error(),
			Latency:  o.Latency.Milliseconds(),
		}
		if err := s.Record(ctx, Event{Type: EventProviderFailure, Payload: payload}); err != nil {
			s.logger.Warn("记录报价源失败事件失败", zap.String("provider", o.Provider), zap.Error(err))
		}
	}
}

// RecordLockChange 记录锁定报价的变化，previous 为切换前的报价源，首次锁定时为空。
func (s *Service) RecordLockChange(ctx context.Context, previous string, u streamer.Update) {
	payload := LockChangePayload{
		Session:     u.Session,
		QuoteID:     u.Best.ID,
		Provider:    u.LockedProvider,
		Previous:    previous,
		ClientPrice: u.Best.ClientPrice,
		Poll:        u.Poll,
		Epoch:       u.Epoch,
	}
	if err := s.Record(ctx, Event{Type: EventLockChange, Timestamp: u.At, Payload: payload}); err != nil {
		s.logger.Warn("记录锁定变化事件失败", zap.Error(err))
	}
}

// ReportExecution 记录执行结果。
func (s *Service) ReportExecution(ctx context.Context, rec execution.Record) {
	if err := s.Record(ctx, Event{
		Type:      EventExecution,
		Timestamp: rec.ExecutedAt,
		Payload:   ExecutionPayload{Record: rec},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{Type: EventError, Payload: payload}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var typ, payload, created string
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
