package icon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var png = []byte("\x89PNG\r\n\x1a\nfake-image-data")

// iconServer serves png for every path and counts requests per path.
type iconServer struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	block chan struct{} // When set, requests wait on it
	seen  chan string
}

func newIconServer(t *testing.T) *iconServer {
	t.Helper()
	s := &iconServer{hits: make(map[string]int), seen: make(chan string, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		block := s.block
		s.mu.Unlock()

		s.seen <- r.URL.Path
		if block != nil && !strings.HasPrefix(r.URL.Path, "/free") {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/huge"):
			w.Write(make([]byte, 4096))
		default:
			w.Header().Set("Content-Type", "image/png")
			w.Write(png)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *iconServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *iconServer) waitSeen(t *testing.T, path string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-s.seen:
			if p == path {
				return
			}
		case <-timeout:
			t.Fatalf("request for %s never arrived", path)
		}
	}
}

func TestFetch_CachesResult(t *testing.T) {
	srv := newIconServer(t)
	l := NewLoader(DefaultConfig(), srv.Client(), nil)

	for i := 0; i < 3; i++ {
		ic, err := l.Fetch(context.Background(), srv.URL+"/btc.png")
		if err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if string(ic.Data) != string(png) {
			t.Errorf("Data = %q, want png bytes", ic.Data)
		}
		if ic.ContentType != "image/png" {
			t.Errorf("ContentType = %q, want image/png", ic.ContentType)
		}
	}

	if got := srv.Hits("/btc.png"); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
	s := l.Stats()
	if s.Fetches != 1 || s.Hits != 2 || s.Cached != 1 {
		t.Errorf("stats = %+v, want 1 fetch, 2 hits, 1 cached", s)
	}
}

func TestFetch_SharesInFlightRequest(t *testing.T) {
	srv := newIconServer(t)
	srv.block = make(chan struct{})
	l := NewLoader(DefaultConfig(), srv.Client(), nil)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Fetch(context.Background(), srv.URL+"/eth.png"); err == nil {
				ok.Add(1)
			}
		}()
	}

	srv.waitSeen(t, "/eth.png")
	time.Sleep(50 * time.Millisecond)
	close(srv.block)
	wg.Wait()

	if ok.Load() != 5 {
		t.Errorf("successful fetches = %d, want 5", ok.Load())
	}
	if got := srv.Hits("/eth.png"); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := newIconServer(t)
	l := NewLoader(Config{MaxBytes: 1024}, srv.Client(), nil)

	if _, err := l.Fetch(context.Background(), ""); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("empty url err = %v, want ErrEmptyURL", err)
	}
	if _, err := l.Fetch(context.Background(), srv.URL+"/huge.png"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("huge err = %v, want ErrTooLarge", err)
	}
	if _, err := l.Fetch(context.Background(), srv.URL+"/missing.png"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("missing err = %v, want status 404", err)
	}
	if got := l.Stats(); got.Failures != 2 || got.Cached != 0 {
		t.Errorf("stats = %+v, want 2 failures and nothing cached", got)
	}
}

func TestLoad_NewURLSupersedesSlot(t *testing.T) {
	srv := newIconServer(t)
	srv.block = make(chan struct{})
	defer close(srv.block)
	l := NewLoader(DefaultConfig(), srv.Client(), nil)

	first := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "BTC", srv.URL+"/old.png")
		first <- err
	}()
	srv.waitSeen(t, "/old.png")

	done := make(chan error, 1)
	l.LoadAsync(context.Background(), "BTC", srv.URL+"/free-new.png", func(_ Icon, err error) {
		done <- err
	})

	select {
	case err := <-first:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("first load err = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first load was not cancelled")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("second load err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second load did not finish")
	}

	if _, ok := l.Cached(srv.URL + "/free-new.png"); !ok {
		t.Error("new icon should be cached")
	}
	if _, ok := l.Pending("BTC"); ok {
		t.Error("slot should be released after the load")
	}
	if got := l.Stats().Superseded; got != 1 {
		t.Errorf("Superseded = %d, want 1", got)
	}
}

func TestCancel_ReleasesSlot(t *testing.T) {
	srv := newIconServer(t)
	srv.block = make(chan struct{})
	defer close(srv.block)
	l := NewLoader(DefaultConfig(), srv.Client(), nil)

	done := make(chan error, 1)
	l.LoadAsync(context.Background(), "SOL", srv.URL+"/sol.png", func(_ Icon, err error) {
		done <- err
	})
	srv.waitSeen(t, "/sol.png")

	if url, ok := l.Pending("SOL"); !ok || url != srv.URL+"/sol.png" {
		t.Errorf("Pending = %q, %v", url, ok)
	}
	l.Cancel("SOL")

	select {
	case err := <-done:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("err = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled load did not return")
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	srv := newIconServer(t)
	l := NewLoader(Config{CacheSize: 2}, srv.Client(), nil)
	ctx := context.Background()

	a, b, c := srv.URL+"/a.png", srv.URL+"/b.png", srv.URL+"/c.png"
	for _, u := range []string{a, b} {
		if _, err := l.Fetch(ctx, u); err != nil {
			t.Fatalf("Fetch %s: %v", u, err)
		}
	}
	l.Cached(a) // a is now most recent
	if _, err := l.Fetch(ctx, c); err != nil {
		t.Fatalf("Fetch c: %v", err)
	}

	if _, ok := l.Cached(b); ok {
		t.Error("b should have been evicted")
	}
	for _, u := range []string{a, c} {
		if _, ok := l.Cached(u); !ok {
			t.Errorf("%s should be cached", u)
		}
	}
}
