package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lp-rfq/internal/aggregator"
	"lp-rfq/internal/quote"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// After 立即推进时钟并返回已就绪的通道。
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type offer struct {
	provider string
	price    string
}

type round struct {
	best     string
	offers   []offer
	validity time.Duration
	latency  time.Duration
}

func roundOf(best string, offers ...offer) round {
	return round{best: best, offers: offers, validity: 10 * time.Second}
}

type scriptedSource struct {
	clock *fakeClock
	side  quote.Side

	mu            sync.Mutex
	all           []round
	competitors   []round
	competitorErr error
	allCalls      int
	excluded      []string
}

func (s *scriptedSource) GetAllQuotes(ctx context.Context, req quote.Request) (aggregator.Result, error) {
	s.mu.Lock()
	s.allCalls++
	var r *round
	if len(s.all) > 0 {
		r = &s.all[0]
		s.all = s.all[1:]
	}
	s.mu.Unlock()
	return s.materialize(r), nil
}

func (s *scriptedSource) GetQuotesExcluding(ctx context.Context, excluded string, req quote.Request) (aggregator.Result, error) {
	s.mu.Lock()
	s.excluded = append(s.excluded, excluded)
	if s.competitorErr != nil {
		s.mu.Unlock()
		return aggregator.Result{}, s.competitorErr
	}
	var r *round
	if len(s.competitors) > 0 {
		r = &s.competitors[0]
		s.competitors = s.competitors[1:]
	}
	s.mu.Unlock()
	return s.materialize(r), nil
}

func (s *scriptedSource) excludedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.excluded...)
}

func (s *scriptedSource) materialize(r *round) aggregator.Result {
	if r == nil {
		return aggregator.Result{Quotes: []quote.ProviderQuote{}}
	}
	s.clock.Advance(r.latency)
	now := s.clock.Now()

	res := aggregator.Result{Quotes: make([]quote.ProviderQuote, 0, len(r.offers))}
	for _, o := range r.offers {
		price := decimal.RequireFromString(o.price)
		res.Quotes = append(res.Quotes, quote.ProviderQuote{
			Provider:  o.provider,
			Price:     price,
			Quantity:  decimal.NewFromInt(1),
			Validity:  r.validity,
			Timestamp: now,
			Side:      s.side,
		})
		if o.provider == r.best {
			res.Best = &quote.Aggregated{
				ID:            "Q-" + o.provider + "-" + now.Format(time.RFC3339Nano),
				ClientPrice:   price,
				ProviderPrice: price,
				Provider:      o.provider,
				Side:          s.side,
				Validity:      r.validity,
				CreatedAt:     now,
			}
		}
	}
	return res
}

func newTestStreamer(t *testing.T, src *scriptedSource, opts Options) *Streamer {
	t.Helper()
	s, err := New(src, opts, nil)
	require.NoError(t, err)
	s.now = src.clock.Now
	s.after = src.clock.After
	return s
}

func testRequest(t *testing.T, side quote.Side) quote.Request {
	t.Helper()
	req, err := quote.NewRequest(side, decimal.NewFromInt(1), "BTC", "USDT", "BTC")
	require.NoError(t, err)
	return req
}

func testOptions() Options {
	return Options{
		PollInterval:   500 * time.Millisecond,
		ImprovementBps: decimal.NewFromInt(1),
	}
}

func collect(updates <-chan Update) []Update {
	var out []Update
	for u := range updates {
		out = append(out, u)
	}
	return out
}

func TestStream_PollCounterUntilExpiry(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"}, offer{"LP-B", "100020"})}
	s := newTestStreamer(t, src, testOptions())

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	got := collect(updates)

	require.Len(t, got, 20)
	for i, u := range got {
		assert.Equal(t, i+1, u.Poll)
		assert.Equal(t, 0, u.Epoch)
		assert.Equal(t, "LP-A", u.LockedProvider)
		assert.Equal(t, i == 0, u.Improvement)
	}
	assert.Len(t, got[0].Quotes, 2)
	assert.Equal(t, StateExpired, s.State())
	assert.NoError(t, s.Err())

	for _, name := range src.excludedCalls() {
		assert.Equal(t, "LP-A", name)
	}
	assert.Equal(t, 1, src.allCalls)
}

func TestStream_FrozenLockedQuoteIsDisplayed(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"}, offer{"LP-B", "100020"})}
	src.competitors = []round{roundOf("LP-B", offer{"LP-B", "100005"})}
	s := newTestStreamer(t, src, testOptions())

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	<-updates
	second := <-updates
	s.Stop()
	collect(updates)

	assert.False(t, second.Improvement)
	assert.Equal(t, 2, second.Poll)
	assert.Equal(t, "LP-A", second.LockedProvider)
	assert.True(t, second.Best.ClientPrice.Equal(decimal.NewFromInt(100000)))
	require.Len(t, second.Quotes, 2)
	assert.Equal(t, "LP-B", second.Quotes[0].Provider)
	assert.Equal(t, "LP-A", second.Quotes[1].Provider)
	assert.True(t, second.Quotes[1].Price.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, StateStopped, s.State())
}

func TestStream_ImprovementThresholdIsStrict(t *testing.T) {
	cases := []struct {
		name       string
		side       quote.Side
		competitor string
		switches   bool
	}{
		{"buy at boundary", quote.SideBuy, "99990", false},
		{"buy just inside boundary", quote.SideBuy, "99990.01", false},
		{"buy just beyond boundary", quote.SideBuy, "99989.99", true},
		{"sell at boundary", quote.SideSell, "100010", false},
		{"sell just inside boundary", quote.SideSell, "100009.99", false},
		{"sell just beyond boundary", quote.SideSell, "100010.01", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &scriptedSource{clock: newFakeClock(), side: tc.side}
			src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"})}
			src.competitors = []round{roundOf("LP-B", offer{"LP-B", tc.competitor})}
			s := newTestStreamer(t, src, testOptions())

			updates, err := s.Stream(context.Background(), testRequest(t, tc.side))
			require.NoError(t, err)
			<-updates
			second := <-updates
			s.Stop()
			collect(updates)

			assert.Equal(t, tc.switches, second.Improvement)
			if tc.switches {
				assert.Equal(t, "LP-B", second.LockedProvider)
				assert.True(t, second.Best.ClientPrice.Equal(decimal.RequireFromString(tc.competitor)))
			} else {
				assert.Equal(t, "LP-A", second.LockedProvider)
				assert.True(t, second.Best.ClientPrice.Equal(decimal.NewFromInt(100000)))
			}
		})
	}
}

func TestStream_SwitchCarriesOldLockForward(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"}, offer{"LP-B", "100050"}, offer{"LP-C", "100100"})}
	src.competitors = []round{
		roundOf("LP-B", offer{"LP-B", "99900"}, offer{"LP-C", "100100"}),
	}
	s := newTestStreamer(t, src, testOptions())

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	<-updates
	switched := <-updates
	third := <-updates
	s.Stop()
	collect(updates)

	assert.True(t, switched.Improvement)
	assert.Equal(t, "LP-B", switched.LockedProvider)
	providers := make([]string, 0, len(switched.Quotes))
	for _, q := range switched.Quotes {
		providers = append(providers, q.Provider)
	}
	assert.Equal(t, []string{"LP-B", "LP-C", "LP-A"}, providers)

	lock, ok := s.Locked()
	require.True(t, ok)
	assert.Equal(t, "LP-B", lock.Provider)
	assert.True(t, lock.ProviderQuote.Price.Equal(decimal.NewFromInt(99900)))

	excluded := src.excludedCalls()
	require.GreaterOrEqual(t, len(excluded), 2)
	assert.Equal(t, "LP-A", excluded[0])
	assert.Equal(t, "LP-B", excluded[1])

	assert.False(t, third.Improvement)
	assert.Equal(t, 3, third.Poll)
	assert.Equal(t, "LP-B", third.LockedProvider)
}

func TestStream_AutoRefreshResetsPollCounter(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	first := roundOf("LP-A", offer{"LP-A", "100000"}, offer{"LP-B", "100010"})
	first.validity = 3 * time.Second
	second := roundOf("LP-B", offer{"LP-A", "100020"}, offer{"LP-B", "100001"})
	second.validity = 3 * time.Second
	src.all = []round{first, second}

	opts := testOptions()
	opts.PollInterval = time.Second
	opts.Duration = 5 * time.Second
	opts.AutoRefresh = true
	s := newTestStreamer(t, src, opts)

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	got := collect(updates)

	type key struct{ epoch, poll int }
	var keys []key
	for _, u := range got {
		keys = append(keys, key{u.Epoch, u.Poll})
	}
	assert.Equal(t, []key{{0, 1}, {0, 2}, {0, 3}, {1, 1}, {1, 2}, {1, 3}}, keys)

	refreshed := got[3]
	assert.True(t, refreshed.Improvement)
	assert.Equal(t, "LP-B", refreshed.LockedProvider)
	assert.Len(t, refreshed.Quotes, 2)
	assert.Equal(t, 2, src.allCalls)
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
}

func TestStream_ExpiryDuringCompetitorPoll(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	initial := roundOf("LP-A", offer{"LP-A", "100000"})
	initial.validity = 3 * time.Second
	slow := roundOf("LP-B", offer{"LP-B", "90000"})
	slow.latency = 2500 * time.Millisecond
	src.all = []round{initial}
	src.competitors = []round{slow}

	opts := testOptions()
	opts.PollInterval = time.Second
	s := newTestStreamer(t, src, opts)

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	got := collect(updates)

	require.Len(t, got, 1)
	assert.Equal(t, "LP-A", got[0].LockedProvider)
	assert.Len(t, src.excludedCalls(), 1)
	assert.Equal(t, StateExpired, s.State())
}

func TestStream_AbortsWhenNoQuotes(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	s := newTestStreamer(t, src, testOptions())

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	assert.Nil(t, updates)
	assert.ErrorIs(t, err, quote.ErrNoQuotesAvailable)
	assert.Equal(t, StateAborted, s.State())
	_, ok := s.Locked()
	assert.False(t, ok)
}

func TestRun_RefreshWithoutQuotesAborts(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	initial := roundOf("LP-A", offer{"LP-A", "100000"})
	initial.validity = time.Second
	src.all = []round{initial}

	opts := testOptions()
	opts.AutoRefresh = true
	s := newTestStreamer(t, src, opts)

	var polls []int
	err := s.Run(context.Background(), testRequest(t, quote.SideBuy), func(u Update) error {
		polls = append(polls, u.Poll)
		return nil
	})

	assert.ErrorIs(t, err, quote.ErrNoQuotesAvailable)
	assert.Equal(t, []int{1, 2}, polls)
	assert.Equal(t, StateAborted, s.State())
	assert.ErrorIs(t, s.Err(), quote.ErrNoQuotesAvailable)
}

func TestRun_HandlerErrorStopsStream(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"})}
	s := newTestStreamer(t, src, testOptions())

	boom := errors.New("sink full")
	calls := 0
	err := s.Run(context.Background(), testRequest(t, quote.SideBuy), func(u Update) error {
		calls++
		if u.Poll == 3 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateStopped, s.State())
}

func TestStream_CompetitorFailureKeepsLock(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"})}
	src.competitorErr = quote.ErrUnsupportedPair
	s := newTestStreamer(t, src, testOptions())

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	<-updates
	second := <-updates
	s.Stop()
	collect(updates)

	assert.False(t, second.Improvement)
	assert.Equal(t, "LP-A", second.LockedProvider)
	require.Len(t, second.Quotes, 1)
	assert.Equal(t, "LP-A", second.Quotes[0].Provider)
}

func TestStream_ContextCancelStops(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{roundOf("LP-A", offer{"LP-A", "100000"})}
	s := newTestStreamer(t, src, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := s.Stream(ctx, testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	<-updates
	cancel()
	collect(updates)

	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
}

func TestStream_RejectsConcurrentStream(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock(), side: quote.SideBuy}
	src.all = []round{
		roundOf("LP-A", offer{"LP-A", "100000"}),
		roundOf("LP-A", offer{"LP-A", "100000"}),
	}
	s := newTestStreamer(t, src, testOptions())

	updates, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)

	_, err = s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	assert.ErrorIs(t, err, ErrAlreadyStreaming)

	s.Stop()
	collect(updates)

	again, err := s.Stream(context.Background(), testRequest(t, quote.SideBuy))
	require.NoError(t, err)
	first := <-again
	assert.Equal(t, 1, first.Poll)
	s.Stop()
	collect(again)
}

func TestNew_ValidatesOptions(t *testing.T) {
	src := &scriptedSource{clock: newFakeClock()}

	_, err := New(nil, testOptions(), nil)
	assert.Error(t, err)

	opts := testOptions()
	opts.PollInterval = 0
	_, err = New(src, opts, nil)
	assert.Error(t, err)

	opts = testOptions()
	opts.ImprovementBps = decimal.NewFromInt(-1)
	_, err = New(src, opts, nil)
	assert.Error(t, err)
}
