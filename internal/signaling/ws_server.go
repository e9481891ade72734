package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/ratelimit"
)

const wsWriteWait = 5 * time.Second

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueLen         = 256
)

// WebSocketConfig holds the per-connection transport limits.
type WebSocketConfig struct {
	// AllowedOrigins lists the normalized browser origins allowed to connect.
	// "*" allows any origin. When empty, only same-host origins are allowed.
	AllowedOrigins []string

	// IdleTimeout closes connections that send nothing (not even a pong) for
	// this long. PingInterval must be shorter.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLen         int
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if c.SendQueueLen <= 0 {
		c.SendQueueLen = DefaultSendQueueLen
	}
	return c
}

// WebSocketServer implements GET /ws: one WebSocket per client, carrying one
// Message or Event per frame.
//
// Query parameters:
//   - codec: "json" (text frames, default) or "msgpack" (binary frames)
//   - name:  optional display name used as the default callerName
type WebSocketServer struct {
	coord   *Coordinator
	cfg     WebSocketConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	upgrader websocket.Upgrader

	mu           sync.Mutex
	conns        map[*wsConn]struct{}
	shuttingDown bool
}

func NewWebSocketServer(coord *Coordinator, cfg WebSocketConfig, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &WebSocketServer{
		coord:   coord,
		cfg:     cfg.withDefaults(),
		log:     logger,
		metrics: coord.Metrics(),
		clock:   ratelimit.RealClock{},
		conns:   make(map[*wsConn]struct{}),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	_, ok := origin.Check(r, s.cfg.AllowedOrigins)
	return ok
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	codec, err := CodecByName(q.Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.metrics.Inc(metrics.WSConnections)

	wc := &wsConn{
		srv:     s,
		conn:    conn,
		codec:   codec,
		limiter: ratelimit.NewMessageLimiter(s.clock, s.cfg.MaxMessagesPerSecond),
		queue: newSendQueue(s.cfg.SendQueueLen, func() {
			s.metrics.Inc(metrics.WSSendDropped)
		}),
		done: make(chan struct{}),
	}
	defer close(wc.done)

	if !s.track(wc) {
		closeNow(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(wc)

	id, err := s.coord.Connect(displayName(q.Get("name")), wc.queue)
	if err != nil {
		closeNow(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	wc.id = id

	log := s.log.With("conn_id", id)
	log.Info("signaling connection opened", "remote_addr", r.RemoteAddr, "codec", codec.Name())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wc.writeLoop(log)
	}()
	stopPing := make(chan struct{})
	go wc.pingLoop(stopPing)

	reason := wc.readLoop()

	close(stopPing)
	s.coord.Disconnect(id)
	wc.queue.Close()
	<-writerDone
	_ = conn.Close()

	log.Info("signaling connection closed", "reason", reason, "send_dropped", wc.queue.DropCount())
}

// Shutdown cancels every call, flushes the resulting events and closes every
// connection with 1001 (going away). Connections still open when ctx is done
// are closed without a handshake.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	conns := make([]*wsConn, 0, len(s.conns))
	for wc := range s.conns {
		conns = append(conns, wc)
	}
	s.mu.Unlock()

	s.coord.Close()
	for _, wc := range conns {
		wc.setClose(websocket.CloseGoingAway, "server shutting down")
		wc.queue.Close()
	}

	for _, wc := range conns {
		select {
		case <-wc.done:
		case <-ctx.Done():
			for _, wc := range conns {
				_ = wc.conn.Close()
			}
			return ctx.Err()
		}
	}
	return nil
}

// ActiveConnections reports the number of open WebSockets.
func (s *WebSocketServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *WebSocketServer) track(wc *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.conns[wc] = struct{}{}
	return true
}

func (s *WebSocketServer) untrack(wc *wsConn) {
	s.mu.Lock()
	delete(s.conns, wc)
	s.mu.Unlock()
}

type wsConn struct {
	srv     *WebSocketServer
	conn    *websocket.Conn
	codec   Codec
	id      string
	limiter *ratelimit.TokenBucket
	queue   *sendQueue
	done    chan struct{}

	closeMu     sync.Mutex
	closeCode   int
	closeReason string
}

// setClose records the close frame the writer sends once the queue drains.
// The first caller wins.
func (wc *wsConn) setClose(code int, reason string) {
	wc.closeMu.Lock()
	defer wc.closeMu.Unlock()
	if wc.closeCode == 0 {
		wc.closeCode, wc.closeReason = code, reason
	}
}

func (wc *wsConn) closeStatus() (int, string) {
	wc.closeMu.Lock()
	defer wc.closeMu.Unlock()
	if wc.closeCode == 0 {
		return websocket.CloseNormalClosure, ""
	}
	return wc.closeCode, wc.closeReason
}

// readLoop feeds frames to the coordinator until the connection fails, goes
// idle or exceeds its limits, and returns why it stopped.
func (wc *wsConn) readLoop() string {
	cfg := wc.srv.cfg
	conn := wc.conn

	conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				wc.srv.metrics.Inc(metrics.WSOversized)
				wc.setClose(websocket.CloseMessageTooBig, "message too large")
				return "message too large"
			case isTimeout(err):
				wc.setClose(websocket.CloseNormalClosure, "idle timeout")
				return "idle timeout"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "client closed"
			default:
				return "read error"
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		// The limit is applied after reading so the frame is consumed and the
		// client reliably observes the close code.
		if !wc.limiter.Allow(1) {
			wc.srv.metrics.Inc(metrics.WSRateLimited)
			wc.queue.Send(Event{Type: EventError, Code: "rate_limited", Message: "rate limit exceeded"})
			wc.setClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return "rate limited"
		}

		if msgType != wc.codec.FrameType() {
			wc.srv.metrics.Inc(metrics.WSBadFrame)
			wc.srv.coord.Reject(wc.id, &ValidationError{Reason: fmt.Sprintf("expected %s frames", wc.codec.Name())})
			continue
		}
		msg, err := wc.codec.Decode(data)
		if err != nil {
			wc.srv.coord.Reject(wc.id, err)
			continue
		}
		_ = wc.srv.coord.Handle(wc.id, msg)
	}
}

// writeLoop is the only goroutine calling WriteMessage on the connection.
func (wc *wsConn) writeLoop(log *slog.Logger) {
	for {
		ev, ok := wc.queue.Dequeue()
		if !ok {
			break
		}
		data, err := wc.codec.Encode(ev)
		if err != nil {
			log.Error("encode signaling event", "event", string(ev.Type), "err", err)
			continue
		}
		_ = wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := wc.conn.WriteMessage(wc.codec.FrameType(), data); err != nil {
			wc.queue.Discard()
			// Unblock the reader; the connection is unusable.
			_ = wc.conn.Close()
			return
		}
	}

	code, reason := wc.closeStatus()
	_ = wc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	if code != websocket.CloseNormalClosure || reason != "" {
		// Server-initiated close: do not wait for the peer's close frame.
		_ = wc.conn.Close()
	}
}

func (wc *wsConn) pingLoop(stop <-chan struct{}) {
	t := time.NewTicker(wc.srv.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := wc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func closeNow(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	_ = conn.Close()
}

func displayName(raw string) string {
	name := strings.TrimSpace(raw)
	if len(name) > maxCallerNameLen {
		name = strings.ToValidUTF8(name[:maxCallerNameLen], "")
	}
	return name
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
