package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/quote"
	"lp-rfq/internal/streamer"
)

const writeWait = 5 * time.Second

// UpdateMessage 为推送给订阅者的报价流更新。
type UpdateMessage struct {
	Session        string          `json:"session"`
	QuoteID        string          `json:"quote_id"`
	Side           quote.Side      `json:"side"`
	Symbol         string          `json:"symbol"`
	Provider       string          `json:"provider"`
	ClientPrice    decimal.Decimal `json:"client_price"`
	ProviderPrice  decimal.Decimal `json:"provider_price"`
	ValidityMs     int64           `json:"time_remaining_ms"`
	Poll           int             `json:"poll"`
	Epoch          int             `json:"epoch"`
	Improvement    bool            `json:"is_improvement"`
	LockedProvider string          `json:"locked_provider"`
	Quotes         []FeedQuote     `json:"quotes"`
	At             time.Time       `json:"at"`
}

// FeedQuote 为单个报价源报价的展示字段。
type FeedQuote struct {
	Provider string          `json:"provider"`
	Price    decimal.Decimal `json:"price"`
	Locked   bool            `json:"locked"`
}

// NewUpdateMessage 将报价流更新转换为推送消息。
func NewUpdateMessage(u streamer.Update) UpdateMessage {
	msg := UpdateMessage{
		Session:        u.Session,
		QuoteID:        u.Best.ID,
		Side:           u.Best.Side,
		Symbol:         u.Best.Symbol(),
		Provider:       u.Best.Provider,
		ClientPrice:    u.Best.ClientPrice,
		ProviderPrice:  u.Best.ProviderPrice,
		ValidityMs:     u.Best.TimeRemaining(u.At).Milliseconds(),
		Poll:           u.Poll,
		Epoch:          u.Epoch,
		Improvement:    u.Improvement,
		LockedProvider: u.LockedProvider,
		Quotes:         make([]FeedQuote, 0, len(u.Quotes)),
		At:             u.At,
	}
	for _, pq := range u.Quotes {
		msg.Quotes = append(msg.Quotes, FeedQuote{
			Provider: pq.Provider,
			Price:    pq.Price,
			Locked:   pq.Provider == u.LockedProvider,
		})
	}
	return msg
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed 将报价流更新广播给 websocket 订阅者。发送缓冲已满的订阅者会被断开，不阻塞报价流。
type Feed struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	buffer   int
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewFeed 创建推送中心，buffer 为每个订阅者的待发送消息上限。
func NewFeed(buffer int, logger *zap.Logger) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish 推送一次更新。
func (f *Feed) Publish(u streamer.Update) {
	raw, err := json.Marshal(NewUpdateMessage(u))
	if err != nil {
		f.logger.Warn("序列化推送消息失败", zap.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.send <- raw:
		default:
			f.logger.Warn("订阅者过慢，已断开")
			delete(f.subs, sub)
			close(sub.send)
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close 断开全部订阅者。
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.send)
	}
}

// ServeHTTP 升级为 websocket 连接并注册订阅者。
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket 升级失败", zap.Error(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, f.buffer)}
	f.add(sub)

	go f.writeLoop(sub)
	f.readLoop(sub)
}

func (f *Feed) add(sub *subscriber) {
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
}

func (f *Feed) remove(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; ok {
		delete(f.subs, sub)
		close(sub.send)
	}
}

func (f *Feed) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for raw := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			f.remove(sub)
			return
		}
	}
	_ = sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readLoop 只用于感知客户端断开。
func (f *Feed) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			f.remove(sub)
			return
		}
	}
}
