package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
)

func newTestWebSocketServer(t *testing.T, opts Options, cfg WebSocketConfig) (*WebSocketServer, *httptest.Server) {
	t.Helper()
	srv := NewWebSocketServer(NewCoordinator(opts), cfg, nil)
	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

type wsClient struct {
	t     *testing.T
	conn  *websocket.Conn
	codec Codec
	id    string
}

func dialClient(t *testing.T, ts *httptest.Server, query string) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	codec := JSONCodec
	if strings.Contains(query, "codec=msgpack") {
		codec = MsgpackCodec
	}
	wc := &wsClient{t: t, conn: c, codec: codec}
	welcome := wc.expect(EventWelcome)
	if welcome.ConnectionID == "" {
		t.Fatalf("welcome without connectionId: %+v", welcome)
	}
	wc.id = welcome.ConnectionID
	return wc
}

func (c *wsClient) send(msg Message) {
	c.t.Helper()
	var (
		data []byte
		err  error
	)
	if c.codec == MsgpackCodec {
		data, err = msgpack.Marshal(msg)
	} else {
		data, err = json.Marshal(msg)
	}
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) read() (Event, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, data, err := c.conn.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	if frameType != c.codec.FrameType() {
		c.t.Fatalf("frame type=%d, want %d", frameType, c.codec.FrameType())
	}
	var ev Event
	if c.codec == MsgpackCodec {
		err = msgpack.Unmarshal(data, &ev)
	} else {
		err = json.Unmarshal(data, &ev)
	}
	if err != nil {
		c.t.Fatalf("decode event: %v (%q)", err, data)
	}
	return ev, nil
}

func (c *wsClient) expect(want EventType) Event {
	c.t.Helper()
	ev, err := c.read()
	if err != nil {
		c.t.Fatalf("waiting for %s: %v", want, err)
	}
	if ev.Type != want {
		c.t.Fatalf("event=%+v, want %s", ev, want)
	}
	return ev
}

func (c *wsClient) expectClose(code int) {
	c.t.Helper()
	_, err := c.read()
	if err == nil {
		c.t.Fatalf("expected close error")
	}
	if !websocket.IsCloseError(err, code) {
		c.t.Fatalf("expected close code %d; got %v", code, err)
	}
}

func sameJSON(t *testing.T, got Blob, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("blob %q is not JSON: %v", got, err)
	}
	_ = json.Unmarshal([]byte(want), &w)
	if !reflect.DeepEqual(g, w) {
		t.Fatalf("blob=%s, want %s", got, want)
	}
}

func TestWebSocket_CallBetweenJSONAndMsgpackClients(t *testing.T) {
	_, ts := newTestWebSocketServer(t, Options{Mode: room.ModePairwise}, WebSocketConfig{})

	a := dialClient(t, ts, "")
	b := dialClient(t, ts, "?codec=msgpack&name=Bob")

	a.send(Message{Type: MessageJoinRoom, RoomID: "Lobby"})
	if ev := a.expect(EventJoined); ev.RoomID != "lobby" || len(ev.Members) != 0 {
		t.Fatalf("joined=%+v, want empty lobby", ev)
	}
	b.send(Message{Type: MessageJoinRoom, RoomID: "LOBBY"})
	if ev := b.expect(EventJoined); !reflect.DeepEqual(ev.Members, []string{a.id}) {
		t.Fatalf("joined=%+v, want roster [%s]", ev, a.id)
	}
	if ev := a.expect(EventMemberJoined); ev.ConnectionID != b.id {
		t.Fatalf("member_joined=%+v, want %s", ev, b.id)
	}

	const offer = `{"type":"offer","sdp":"v=0\r\n"}`
	b.send(Message{Type: MessageStartCall, RoomID: "lobby", Offer: Blob(offer)})
	ev := a.expect(EventIncomingCall)
	if ev.CallerID != b.id || ev.CallerName != "Bob" {
		t.Fatalf("incoming_call=%+v, want call from %s (Bob)", ev, b.id)
	}
	sameJSON(t, ev.Offer, offer)

	const cand = `{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`
	b.send(Message{Type: MessageICECandidate, RoomID: "lobby", Candidate: Blob(cand)})
	ev = a.expect(EventICECandidate)
	if ev.SenderID != b.id {
		t.Fatalf("ice_candidate=%+v, want sender %s", ev, b.id)
	}
	sameJSON(t, ev.Candidate, cand)

	const answer = `{"type":"answer","sdp":"v=0\r\n"}`
	a.send(Message{Type: MessageAcceptCall, RoomID: "lobby", Answer: Blob(answer), RequestID: "42"})
	ack := a.expect(EventAck)
	if ack.RequestID != "42" || ack.CallerID != b.id || len(ack.Candidates) != 1 {
		t.Fatalf("ack=%+v, want one replayed candidate", ack)
	}
	sameJSON(t, ack.Candidates[0], cand)
	ev = b.expect(EventCallAccepted)
	if ev.CalleeID != a.id {
		t.Fatalf("call_accepted=%+v, want callee %s", ev, a.id)
	}
	sameJSON(t, ev.Answer, answer)

	a.send(Message{Type: MessageHangup, RoomID: "lobby"})
	if ev := b.expect(EventHangup); ev.ConnectionID != a.id {
		t.Fatalf("hangup=%+v, want from %s", ev, a.id)
	}

	_ = a.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if ev := b.expect(EventMemberLeft); ev.ConnectionID != a.id {
		t.Fatalf("member_left=%+v, want %s", ev, a.id)
	}
}

func TestWebSocket_ThirdClientGetsRoomFull(t *testing.T) {
	_, ts := newTestWebSocketServer(t, Options{Mode: room.ModePairwise}, WebSocketConfig{})
	a, b, c := dialClient(t, ts, ""), dialClient(t, ts, ""), dialClient(t, ts, "")

	a.send(Message{Type: MessageJoinRoom, RoomID: "abc"})
	a.expect(EventJoined)
	b.send(Message{Type: MessageJoinRoom, RoomID: "abc"})
	b.expect(EventJoined)
	c.send(Message{Type: MessageJoinRoom, RoomID: "abc"})
	if ev := c.expect(EventRoomFull); ev.RoomID != "abc" {
		t.Fatalf("room_full=%+v", ev)
	}

	// The rejected client is still connected and can use another room.
	c.send(Message{Type: MessageJoinRoom, RoomID: "def"})
	c.expect(EventJoined)
}

func TestWebSocket_InvalidMessagesKeepConnectionOpen(t *testing.T) {
	srv, ts := newTestWebSocketServer(t, Options{Mode: room.ModePairwise}, WebSocketConfig{})
	c := dialClient(t, ts, "")

	for _, frame := range []string{
		`{"type":"join_room"}`,
		`{"type":"join_room","roomId":"abc","extra":1}`,
		`not json`,
	} {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
		if ev := c.expect(EventError); ev.Code != "bad_message" {
			t.Fatalf("%s: error=%+v, want bad_message", frame, ev)
		}
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, []byte{0x80}); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.expect(EventError)

	c.send(Message{Type: MessageJoinRoom, RoomID: "abc", RequestID: "r1"})
	c.expect(EventJoined)

	m := srv.coord.Metrics()
	if got := m.Get(metrics.WSBadFrame); got != 1 {
		t.Fatalf("ws_bad_frame=%d, want 1", got)
	}
	if got := m.Get(metrics.Dropped(string(KindValidation))); got != 4 {
		t.Fatalf("dropped_validation=%d, want 4", got)
	}
}

func TestWebSocket_RejectsUnsupportedCodec(t *testing.T) {
	_, ts := newTestWebSocketServer(t, Options{}, WebSocketConfig{})

	resp, err := http.Get(ts.URL + "/ws?codec=cbor")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestWebSocket_OriginPolicy(t *testing.T) {
	_, ts := newTestWebSocketServer(t, Options{}, WebSocketConfig{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	h.Set("Origin", ts.URL)
	c, _, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err != nil {
		t.Fatalf("same-origin dial: %v", err)
	}
	_ = c.Close()

	_, ts = newTestWebSocketServer(t, Options{}, WebSocketConfig{AllowedOrigins: []string{"https://app.example.com"}})
	wsURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	h.Set("Origin", "https://app.example.com")
	c, _, err = websocket.DefaultDialer.Dial(wsURL, h)
	if err != nil {
		t.Fatalf("allow-listed dial: %v", err)
	}
	_ = c.Close()
}

func TestWebSocket_RateLimitClosesWithPolicyViolation(t *testing.T) {
	srv, ts := newTestWebSocketServer(t, Options{}, WebSocketConfig{MaxMessagesPerSecond: 2})
	c := dialClient(t, ts, "")

	for i := 0; i < 3; i++ {
		c.send(Message{Type: MessageLeaveRoom, RoomID: "abc"})
	}
	if ev := c.expect(EventError); ev.Code != "rate_limited" {
		t.Fatalf("error=%+v, want rate_limited", ev)
	}
	c.expectClose(websocket.ClosePolicyViolation)

	if got := srv.coord.Metrics().Get(metrics.WSRateLimited); got != 1 {
		t.Fatalf("ws_rate_limited=%d, want 1", got)
	}
}

func TestWebSocket_OversizedMessageIsRejected(t *testing.T) {
	_, ts := newTestWebSocketServer(t, Options{}, WebSocketConfig{MaxMessageBytes: 64})
	c := dialClient(t, ts, "")

	oversized := `{"type":"start_call","roomId":"abc","offer":{"type":"offer","sdp":"` + strings.Repeat("a", 128) + `"}}`
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(oversized)); err != nil {
		t.Fatalf("WriteMessage oversized: %v", err)
	}
	c.expectClose(websocket.CloseMessageTooBig)
}

func TestWebSocket_ShutdownCancelsCallsAndClosesGoingAway(t *testing.T) {
	srv, ts := newTestWebSocketServer(t, Options{Mode: room.ModePairwise}, WebSocketConfig{})
	a, b := dialClient(t, ts, ""), dialClient(t, ts, "?codec=msgpack")

	a.send(Message{Type: MessageJoinRoom, RoomID: "abc"})
	a.expect(EventJoined)
	b.send(Message{Type: MessageJoinRoom, RoomID: "abc"})
	b.expect(EventJoined)
	a.expect(EventMemberJoined)
	a.send(Message{Type: MessageStartCall, RoomID: "abc", Offer: Blob(`{"type":"offer","sdp":"v=0"}`)})
	b.expect(EventIncomingCall)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := srv.ActiveConnections(); n != 0 {
		t.Fatalf("ActiveConnections()=%d, want 0", n)
	}

	for _, c := range []*wsClient{a, b} {
		ev := c.expect(EventCallCancelled)
		if ev.CallerID != a.id || ev.CalleeID != b.id {
			t.Fatalf("call_cancelled=%+v", ev)
		}
		c.expectClose(websocket.CloseGoingAway)
	}

	// New connections are turned away.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer late.Close()
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("late connection err=%v, want going away", err)
	}
}

func TestWebSocketConfigDefaults(t *testing.T) {
	cfg := WebSocketConfig{IdleTimeout: 30 * time.Second, PingInterval: time.Minute}.withDefaults()
	if cfg.PingInterval != 10*time.Second {
		t.Fatalf("PingInterval=%s, want 10s", cfg.PingInterval)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes || cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond || cfg.SendQueueLen != DefaultSendQueueLen {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
