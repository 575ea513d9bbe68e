package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/buffer"
	"github.com/rickgao/coin-tracker/internal/model"
)

// scriptedSource returns canned results in order, repeating the last one.
type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	coins []api.Coin
	err   error
}

func (s *scriptedSource) GetAllCoins(context.Context) ([]api.Coin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].coins, s.results[i].err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func coins(codes ...string) []api.Coin {
	out := make([]api.Coin, len(codes))
	for i, c := range codes {
		out[i] = api.Coin{Code: c, Name: c + " coin", Price: decimal.NewFromInt(int64(i + 1))}
	}
	return out
}

func TestPoller_InitialFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins" {
			t.Errorf("path = %q, want /coins", r.URL.Path)
		}
		resp := map[string]any{
			"coins": []map[string]any{
				{"code": "btc", "name": "Bitcoin", "image_url": "https://icons.example.com/btc.png", "price": "64000.5"},
				{"code": "ETH", "name": "Ethereum", "price": 3100.25},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := api.NewClient(server.URL, api.WithTimeout(5*time.Second))
	q := buffer.New[model.PriceObservation](8)

	p := New(Config{Interval: 0, Timeout: 5 * time.Second}, client, q, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Interval 0 means the loop exits after the first fetch.
	p.wg.Wait()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	got := q.DrainTo(0)
	if len(got) != 2 {
		t.Fatalf("observations = %d, want 2", len(got))
	}
	if got[0].Symbol != "BTC" || got[1].Symbol != "ETH" {
		t.Errorf("symbols = %s, %s, want BTC, ETH", got[0].Symbol, got[1].Symbol)
	}
	for _, o := range got {
		if o.Source != model.SourceREST {
			t.Errorf("%s source = %q, want %q", o.Symbol, o.Source, model.SourceREST)
		}
	}
	if !got[1].Price.Equal(decimal.RequireFromString("3100.25")) {
		t.Errorf("ETH price = %s, want 3100.25", got[1].Price)
	}
	if s := p.Stats(); s.Polls != 1 || s.Observations != 2 {
		t.Errorf("stats = %+v, want 1 poll and 2 observations", s)
	}
}

func TestPoller_PeriodicRefresh(t *testing.T) {
	src := &scriptedSource{results: []result{{coins: coins("BTC")}}}
	q := buffer.New[model.PriceObservation](8)

	p := New(Config{Interval: 20 * time.Millisecond, Timeout: time.Second}, src, q, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if src.Calls() < 3 {
		t.Errorf("calls = %d, want at least 3", src.Calls())
	}
	if q.Len() != src.Calls() {
		t.Errorf("queued = %d, want one per call (%d)", q.Len(), src.Calls())
	}
}

func TestPoller_RetryAfterSkipsUntilDeadline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	retryAt := now.Add(time.Minute)

	src := &scriptedSource{results: []result{
		{err: &api.ConnectAfterError{RetryAt: retryAt}},
		{coins: coins("BTC", "ETH")},
	}}
	q := buffer.New[model.PriceObservation](8)

	p := New(Config{Interval: time.Hour, Timeout: time.Second}, src, q, nil)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	var clock atomic.Int64
	clock.Store(now.UnixNano())
	p.now = func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	p.poll()
	if got := p.Stats().RetryAt; !got.Equal(retryAt) {
		t.Fatalf("RetryAt = %v, want %v", got, retryAt)
	}

	// Before the deadline the source is not called.
	clock.Store(now.Add(30 * time.Second).UnixNano())
	p.poll()
	if src.Calls() != 1 {
		t.Errorf("calls = %d, want 1 while waiting", src.Calls())
	}
	if p.Stats().Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", p.Stats().Skipped)
	}

	clock.Store(retryAt.UnixNano())
	p.poll()
	if src.Calls() != 2 {
		t.Errorf("calls = %d, want 2 after deadline", src.Calls())
	}
	if q.Len() != 2 {
		t.Errorf("queued = %d, want 2", q.Len())
	}
	if !p.Stats().RetryAt.IsZero() {
		t.Error("RetryAt should clear after a successful fetch")
	}
}

func TestPoller_FailureIsLoggedAndCounted(t *testing.T) {
	src := &scriptedSource{results: []result{{err: errors.New("boom")}}}
	q := buffer.New[model.PriceObservation](8)

	p := New(Config{Interval: time.Hour, Timeout: time.Second}, src, q, nil)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	p.poll()
	p.poll()

	s := p.Stats()
	if s.Failures != 2 || s.Polls != 2 {
		t.Errorf("stats = %+v, want 2 polls and 2 failures", s)
	}
	if !s.RetryAt.IsZero() {
		t.Error("plain failures must not set RetryAt")
	}
	if q.Len() != 0 {
		t.Errorf("queued = %d, want 0", q.Len())
	}
}

func TestPoller_ClosedQueue(t *testing.T) {
	src := &scriptedSource{results: []result{{coins: coins("BTC")}}}
	q := buffer.New[model.PriceObservation](8)
	q.Close()

	p := New(Config{Interval: time.Hour, Timeout: time.Second}, src, q, nil)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	if _, err := p.fetch(); !errors.Is(err, buffer.ErrClosed) {
		t.Errorf("fetch err = %v, want buffer.ErrClosed", err)
	}
}
