package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lp-rfq/internal/aggregator"
	"lp-rfq/internal/quote"
)

// State 为报价流所处阶段。
type State string

const (
	StateIdle    State = "IDLE"
	StateLocked  State = "LOCKED"
	StateExpired State = "EXPIRED"
	StateStopped State = "STOPPED"
	StateAborted State = "ABORTED"
)

// ErrAlreadyStreaming 表示同一 Streamer 上已有活动的报价流。
var ErrAlreadyStreaming = errors.New("streamer: 已有报价流在运行")

var (
	bpsDivisor = decimal.NewFromInt(10000)
	errStopped = errors.New("streamer: 已停止")
)

// QuoteSource 为报价流所需的询价能力，由 aggregator.Aggregator 实现。
type QuoteSource interface {
	GetAllQuotes(ctx context.Context, req quote.Request) (aggregator.Result, error)
	GetQuotesExcluding(ctx context.Context, excluded string, req quote.Request) (aggregator.Result, error)
}

// Options 控制轮询节奏与锁定策略。
type Options struct {
	PollInterval time.Duration
	// Duration 为 0 时不限时长，直到过期或被停止。
	Duration       time.Duration
	AutoRefresh    bool
	ImprovementBps decimal.Decimal
}

// DefaultOptions 返回默认参数。
func DefaultOptions() Options {
	return Options{
		PollInterval:   500 * time.Millisecond,
		Duration:       30 * time.Second,
		AutoRefresh:    true,
		ImprovementBps: decimal.NewFromInt(1),
	}
}

// Lock 为当前锁定的报价，整体替换，不做局部修改。
type Lock struct {
	Provider      string
	Quote         quote.Aggregated
	ProviderQuote quote.ProviderQuote
	Epoch         int
}

// Update 为每轮轮询发出的一条更新。
type Update struct {
	Session string
	// Quotes 为展示用的报价列表，包含未被轮询的锁定方冻结报价。
	Quotes         []quote.ProviderQuote
	Best           quote.Aggregated
	Poll           int
	Epoch          int
	Improvement    bool
	LockedProvider string
	At             time.Time
}

// Streamer 锁定最优报价并持续轮询其他报价源寻找改进。
type Streamer struct {
	source QuoteSource
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	state   State
	err     error
	lock    *Lock
	stop    chan struct{}
	stopped bool
	running bool
}

// New 创建报价流。
func New(source QuoteSource, opts Options, logger *zap.Logger) (*Streamer, error) {
	if source == nil {
		return nil, errors.New("streamer: 报价来源不能为空")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("streamer: 轮询间隔必须大于0, got %s", opts.PollInterval)
	}
	if opts.Duration < 0 {
		return nil, fmt.Errorf("streamer: 持续时间不能为负, got %s", opts.Duration)
	}
	if opts.ImprovementBps.IsNegative() {
		return nil, fmt.Errorf("streamer: 改进阈值不能为负, got %s", opts.ImprovementBps)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{
		source: source,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		after:  time.After,
		state:  StateIdle,
	}, nil
}

// State 返回当前阶段。
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err 返回导致报价流结束的错误，正常结束时为 nil。
func (s *Streamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Locked 返回当前锁定报价的快照。
func (s *Streamer) Locked() (Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return Lock{}, false
	}
	return *s.lock, true
}

// Stop 请求停止报价流，最迟在下一次轮询前生效。
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil && !s.stopped {
		close(s.stop)
		s.stopped = true
	}
}

// Stream 完成首轮询价并锁定最优报价，随后在后台持续轮询。
// 首轮无任何报价时返回 ErrNoQuotesAvailable，不建立锁定。
// 返回的通道无缓冲，消费方处理慢会推迟下一轮轮询；报价流结束时通道关闭。
func (s *Streamer) Stream(ctx context.Context, req quote.Request) (<-chan Update, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyStreaming
	}
	s.running = true
	stop := make(chan struct{})
	s.stop, s.stopped = stop, false
	s.state, s.err, s.lock = StateIdle, nil, nil
	s.mu.Unlock()

	sess := &session{req: req}
	first, err := s.acquire(ctx, sess)
	if err != nil {
		s.finish(StateAborted, err)
		return nil, err
	}

	s.logger.Info("报价流已锁定",
		zap.String("session", req.Session),
		zap.String("request", req.String()),
		zap.String("provider", first.LockedProvider),
		zap.String("client_price", first.Best.ClientPrice.String()),
	)

	out := make(chan Update)
	go s.run(ctx, stop, sess, first, out)
	return out, nil
}

// Run 驱动一次完整报价流，将每条更新交给 handler。handler 返回错误时停止报价流。
func (s *Streamer) Run(ctx context.Context, req quote.Request, handler func(Update) error) error {
	updates, err := s.Stream(ctx, req)
	if err != nil {
		return err
	}

	var handlerErr error
	for u := range updates {
		if handlerErr != nil {
			continue
		}
		if err := handler(u); err != nil {
			handlerErr = fmt.Errorf("streamer: 处理更新失败: %w", err)
			s.Stop()
		}
	}
	if handlerErr != nil {
		return handlerErr
	}
	return s.Err()
}

type session struct {
	req   quote.Request
	lock  Lock
	poll  int
	epoch int
}

func (s *Streamer) run(ctx context.Context, stop <-chan struct{}, sess *session, first Update, out chan<- Update) {
	defer close(out)

	start := s.now()
	if !s.emit(ctx, stop, out, first) {
		s.finish(StateStopped, nil)
		return
	}
	if s.durationElapsed(start) {
		s.finish(StateStopped, nil)
		return
	}

	for {
		if err := s.wait(ctx, stop); err != nil {
			s.finish(StateStopped, nil)
			return
		}

		update, state, err := s.step(ctx, sess)
		if isDone(ctx, stop) {
			s.finish(StateStopped, nil)
			return
		}
		if state != StateLocked {
			s.logger.Info("报价流结束",
				zap.String("session", sess.req.Session),
				zap.String("state", string(state)),
				zap.Error(err),
			)
			s.finish(state, err)
			return
		}

		if !s.emit(ctx, stop, out, update) {
			s.finish(StateStopped, nil)
			return
		}
		if s.durationElapsed(start) {
			s.finish(StateStopped, nil)
			return
		}
	}
}

// step 完成一轮：过期检查、询价竞争方、再次过期检查、改进判断。
func (s *Streamer) step(ctx context.Context, sess *session) (Update, State, error) {
	if sess.lock.Quote.TimeRemaining(s.now()) <= 0 {
		return s.expire(ctx, sess)
	}

	sess.poll++
	res, err := s.source.GetQuotesExcluding(ctx, sess.lock.Provider, sess.req)
	if err != nil {
		// 竞争方询价失败视为本轮无竞争者，锁定保持不变
		s.logger.Warn("竞争报价获取失败",
			zap.String("session", sess.req.Session),
			zap.String("locked", sess.lock.Provider),
			zap.Error(err),
		)
		res = aggregator.Result{}
	}

	if sess.lock.Quote.TimeRemaining(s.now()) <= 0 {
		return s.expire(ctx, sess)
	}

	previous := sess.lock
	display := make([]quote.ProviderQuote, 0, len(res.Quotes)+1)
	display = append(display, res.Quotes...)
	if previous.ProviderQuote.Price.IsPositive() {
		display = append(display, previous.ProviderQuote)
	}

	if res.Best == nil || !s.improves(sess.req.Side, previous.Quote.ClientPrice, res.Best.ClientPrice) {
		return s.update(sess, display, false), StateLocked, nil
	}

	s.setLock(sess, Lock{
		Provider:      res.Best.Provider,
		Quote:         *res.Best,
		ProviderQuote: findQuote(res.Quotes, res.Best.Provider),
		Epoch:         sess.epoch,
	})
	s.logger.Info("报价改进，切换锁定",
		zap.String("session", sess.req.Session),
		zap.String("from", previous.Provider),
		zap.String("to", res.Best.Provider),
		zap.String("old_price", previous.Quote.ClientPrice.String()),
		zap.String("new_price", res.Best.ClientPrice.String()),
		zap.Int("poll", sess.poll),
	)
	return s.update(sess, display, true), StateLocked, nil
}

// expire 处理锁定报价过期：未开启自动刷新时结束，否则重新向全部报价源询价，刷新无报价时中止。
func (s *Streamer) expire(ctx context.Context, sess *session) (Update, State, error) {
	if !s.opts.AutoRefresh {
		return Update{}, StateExpired, nil
	}
	sess.epoch++
	update, err := s.acquire(ctx, sess)
	if err != nil {
		return Update{}, StateAborted, err
	}
	s.logger.Info("锁定报价已过期，自动刷新",
		zap.String("session", sess.req.Session),
		zap.String("provider", update.LockedProvider),
		zap.Int("epoch", sess.epoch),
	)
	return update, StateLocked, nil
}

// acquire 向全部报价源询价并锁定最优报价，轮询计数重置为 1。
func (s *Streamer) acquire(ctx context.Context, sess *session) (Update, error) {
	res, err := s.source.GetAllQuotes(ctx, sess.req)
	if err != nil {
		return Update{}, err
	}
	if res.Best == nil {
		return Update{}, fmt.Errorf("%w: %s", quote.ErrNoQuotesAvailable, sess.req.String())
	}

	sess.poll = 1
	s.setLock(sess, Lock{
		Provider:      res.Best.Provider,
		Quote:         *res.Best,
		ProviderQuote: findQuote(res.Quotes, res.Best.Provider),
		Epoch:         sess.epoch,
	})
	return s.update(sess, res.Quotes, true), nil
}

// improves 判断竞争报价是否严格优于锁定报价至少 ImprovementBps。
func (s *Streamer) improves(side quote.Side, locked, competitor decimal.Decimal) bool {
	threshold := locked.Mul(s.opts.ImprovementBps).Div(bpsDivisor)
	if side == quote.SideBuy {
		return competitor.LessThan(locked.Sub(threshold))
	}
	return competitor.GreaterThan(locked.Add(threshold))
}

func (s *Streamer) update(sess *session, display []quote.ProviderQuote, improvement bool) Update {
	quotes := make([]quote.ProviderQuote, len(display))
	copy(quotes, display)
	return Update{
		Session:        sess.req.Session,
		Quotes:         quotes,
		Best:           sess.lock.Quote,
		Poll:           sess.poll,
		Epoch:          sess.epoch,
		Improvement:    improvement,
		LockedProvider: sess.lock.Provider,
		At:             s.now(),
	}
}

func (s *Streamer) setLock(sess *session, lock Lock) {
	sess.lock = lock
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lock = &lock
	s.state = StateLocked
}

func (s *Streamer) finish(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.err = err
	s.running = false
}

func (s *Streamer) emit(ctx context.Context, stop <-chan struct{}, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Streamer) wait(ctx context.Context, stop <-chan struct{}) error {
	if isDone(ctx, stop) {
		return errStopped
	}
	select {
	case <-s.after(s.opts.PollInterval):
		return nil
	case <-stop:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Streamer) durationElapsed(start time.Time) bool {
	return s.opts.Duration > 0 && s.now().Sub(start) >= s.opts.Duration
}

func isDone(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func findQuote(quotes []quote.ProviderQuote, provider string) quote.ProviderQuote {
	for _, q := range quotes {
		if q.Provider == provider {
			return q
		}
	}
	return quote.ProviderQuote{Provider: provider}
}
