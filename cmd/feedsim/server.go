package main

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/auth"
)

const (
	sessionBuffer = 256
	writeTimeout  = 5 * time.Second
	maxClockSkew  = 30 * time.Second
)

// feedServer serves the REST snapshot, the price stream and coin icons.
type feedServer struct {
	market *market
	pub    *rsa.PublicKey // nil accepts unsigned requests
	logger *slog.Logger
	now    func() time.Time

	upgrader websocket.Upgrader

	mu        sync.Mutex
	sessions  map[uuid.UUID]*session
	busyUntil time.Time

	frames atomic.Int64
}

type session struct {
	id   uuid.UUID
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

func newFeedServer(m *market, pub *rsa.PublicKey, logger *slog.Logger) *feedServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &feedServer{
		market:   m,
		pub:      pub,
		logger:   logger,
		now:      time.Now,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[uuid.UUID]*session),
	}
}

func (f *feedServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/coins", f.handleCoins)
	mux.HandleFunc("GET /stream", f.handleStream)
	mux.HandleFunc("GET /icons/{file}", f.handleIcon)
	return mux
}

// SetBusy makes the feed reject clients with Retry-After until t.
func (f *feedServer) SetBusy(until time.Time) {
	f.mu.Lock()
	f.busyUntil = until
	f.mu.Unlock()
}

// rejectIfBusy writes a 503 with Retry-After when the feed is busy.
func (f *feedServer) rejectIfBusy(w http.ResponseWriter) bool {
	f.mu.Lock()
	until := f.busyUntil
	f.mu.Unlock()

	now := f.now()
	if !now.Before(until) {
		return false
	}
	secs := int(math.Ceil(until.Sub(now).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	http.Error(w, "feed busy", http.StatusServiceUnavailable)
	return true
}

func (f *feedServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if f.pub == nil {
		return true
	}
	keyID, err := auth.Verify(f.pub, r.Header, r.Method, r.URL.Path, f.now(), maxClockSkew)
	if err != nil {
		f.logger.Warn("rejected request", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return false
	}
	f.logger.Debug("authorized request", "path", r.URL.Path, "key_id", keyID)
	return true
}

func (f *feedServer) handleCoins(w http.ResponseWriter, r *http.Request) {
	if !f.authorize(w, r) || f.rejectIfBusy(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.CoinsResponse{Coins: f.market.Snapshot()})
}

func (f *feedServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !f.authorize(w, r) || f.rejectIfBusy(w) {
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("upgrade failed", "error", err)
		return
	}

	s := &session{
		id:   uuid.New(),
		send: make(chan []byte, sessionBuffer),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	f.sessions[s.id] = s
	f.mu.Unlock()

	logger := f.logger.With("session", s.id)
	logger.Info("client connected", "remote", r.RemoteAddr)

	defer func() {
		f.mu.Lock()
		delete(f.sessions, s.id)
		f.mu.Unlock()
		conn.Close()
		logger.Info("client disconnected")
	}()

	// Reader only notices the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.close()
				return
			}
		}
	}()

	hello, _ := json.Marshal(api.Frame{Type: api.FrameConnected})
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.send:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast sends one update frame to every session. Sessions whose
// buffer is full are dropped.
func (f *feedServer) Broadcast(c api.Coin) {
	msg, err := json.Marshal(api.Frame{Type: api.FrameCoinUpdate, Coin: &c})
	if err != nil {
		f.logger.Error("marshal frame", "error", err)
		return
	}
	f.frames.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		select {
		case s.send <- msg:
		default:
			f.logger.Warn("dropping slow client", "session", id)
			s.close()
			delete(f.sessions, id)
		}
	}
}

// KickAll tells every session to come back at retryAt and ends it.
func (f *feedServer) KickAll(retryAt time.Time) int {
	msg, _ := json.Marshal(api.Frame{Type: api.FrameConnectAfter, RetryAt: retryAt.UTC().Format(time.RFC3339)})

	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, s := range f.sessions {
		select {
		case s.send <- msg:
			close(s.send)
			n++
		default:
			s.close()
		}
		delete(f.sessions, id)
	}
	return n
}

// Sessions returns the number of connected clients.
func (f *feedServer) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// handleIcon renders a solid square whose color derives from the code.
func (f *feedServer) handleIcon(w http.ResponseWriter, r *http.Request) {
	code, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok || code == "" {
		http.NotFound(w, r)
		return
	}

	var sum uint32
	for _, b := range []byte(code) {
		sum = sum*31 + uint32(b)
	}
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
