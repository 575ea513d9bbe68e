package icon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

var (
	ErrEmptyURL   = errors.New("icon url is empty")
	ErrTooLarge   = errors.New("icon exceeds size limit")
	ErrSuperseded = errors.New("icon load superseded")
)

// Config holds loader configuration.
type Config struct {
	Timeout   time.Duration // Per-fetch timeout (default: 10s)
	MaxBytes  int64         // Largest icon accepted (default: 512 KiB)
	CacheSize int           // Icons kept in memory (default: 512)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		MaxBytes:  512 << 10,
		CacheSize: 512,
	}
}

// Icon is a fetched image.
type Icon struct {
	URL         string
	ContentType string
	Data        []byte
}

// Stats reports loader activity.
type Stats struct {
	Cached     int
	Hits       int64
	Fetches    int64 // Network requests actually made
	Failures   int64
	Superseded int64
}

type slot struct {
	url    string
	cancel context.CancelCauseFunc
	gen    uint64
}

// Loader fetches and caches icons.
type Loader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	group  singleflight.Group
	cache  *lru.Cache[string, Icon]

	mu    sync.Mutex // Guards slots
	slots map[string]*slot
	gen   uint64

	hits       atomic.Int64
	fetches    atomic.Int64
	failures   atomic.Int64
	superseded atomic.Int64
}

// NewLoader creates a Loader. A nil client uses http.DefaultClient.
func NewLoader(cfg Config, client *http.Client, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	cache, err := lru.NewWithEvict(cfg.CacheSize, func(url string, _ Icon) {
		logger.Debug("evicted icon", "url", url)
	})
	if err != nil {
		// Only a non-positive size fails, and that is defaulted above.
		panic(fmt.Sprintf("icon cache: %v", err))
	}
	return &Loader{
		cfg:    cfg,
		client: client,
		logger: logger,
		cache:  cache,
		slots:  make(map[string]*slot),
	}
}

// Cached returns the icon for url if it is in memory.
func (l *Loader) Cached(url string) (Icon, bool) {
	return l.cache.Get(url)
}

// Fetch returns the icon for url, from cache or network. Concurrent fetches
// of one URL share a single request. Cancelling ctx abandons the wait but
// lets the shared request finish and fill the cache.
func (l *Loader) Fetch(ctx context.Context, url string) (Icon, error) {
	if url == "" {
		return Icon{}, ErrEmptyURL
	}
	if ic, ok := l.Cached(url); ok {
		l.hits.Add(1)
		return ic, nil
	}

	ch := l.group.DoChan(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.Timeout)
		defer cancel()
		ic, err := l.download(fctx, url)
		if err != nil {
			return nil, err
		}
		l.cache.Add(url, ic)
		return ic, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Icon{}, res.Err
		}
		return res.Val.(Icon), nil
	case <-ctx.Done():
		return Icon{}, context.Cause(ctx)
	}
}

// Load fetches url for a display slot. Any load still running for the slot
// is cancelled first and returns ErrSuperseded.
func (l *Loader) Load(ctx context.Context, slotKey, url string) (Icon, error) {
	ctx, release := l.reserve(ctx, slotKey, url)
	defer release()
	return l.fetchSlot(ctx, url)
}

// LoadAsync is Load in a new goroutine. The slot is claimed before it
// returns, so successive calls for one slot supersede in call order.
func (l *Loader) LoadAsync(ctx context.Context, slotKey, url string, done func(Icon, error)) {
	ctx, release := l.reserve(ctx, slotKey, url)
	go func() {
		ic, err := l.fetchSlot(ctx, url)
		release()
		if done != nil {
			done(ic, err)
		}
	}()
}

func (l *Loader) reserve(ctx context.Context, slotKey, url string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	l.mu.Lock()
	if prev, ok := l.slots[slotKey]; ok {
		prev.cancel(ErrSuperseded)
	}
	l.gen++
	s := &slot{url: url, cancel: cancel, gen: l.gen}
	l.slots[slotKey] = s
	l.mu.Unlock()

	return ctx, func() {
		l.mu.Lock()
		if cur, ok := l.slots[slotKey]; ok && cur.gen == s.gen {
			delete(l.slots, slotKey)
		}
		l.mu.Unlock()
		cancel(nil)
	}
}

func (l *Loader) fetchSlot(ctx context.Context, url string) (Icon, error) {
	ic, err := l.Fetch(ctx, url)
	if errors.Is(err, ErrSuperseded) {
		l.superseded.Add(1)
	}
	return ic, err
}

// Cancel drops the slot's outstanding load, if any.
func (l *Loader) Cancel(slotKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[slotKey]; ok {
		s.cancel(ErrSuperseded)
		delete(l.slots, slotKey)
	}
}

// Pending returns the URL a slot is loading, if any.
func (l *Loader) Pending(slotKey string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[slotKey]
	if !ok {
		return "", false
	}
	return s.url, true
}

// Stats returns current counters.
func (l *Loader) Stats() Stats {
	return Stats{
		Cached:     l.cache.Len(),
		Hits:       l.hits.Load(),
		Fetches:    l.fetches.Load(),
		Failures:   l.failures.Load(),
		Superseded: l.superseded.Load(),
	}
}

func (l *Loader) download(ctx context.Context, url string) (Icon, error) {
	l.fetches.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		l.failures.Add(1)
		return Icon{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		l.failures.Add(1)
		return Icon{}, fmt.Errorf("fetch icon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.failures.Add(1)
		return Icon{}, fmt.Errorf("fetch icon: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBytes+1))
	if err != nil {
		l.failures.Add(1)
		return Icon{}, fmt.Errorf("read icon: %w", err)
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		l.failures.Add(1)
		return Icon{}, ErrTooLarge
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}

	l.logger.Debug("fetched icon", "url", url, "bytes", len(data))
	return Icon{URL: url, ContentType: ct, Data: data}, nil
}
