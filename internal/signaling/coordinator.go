package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
)

// Options configures a Coordinator.
type Options struct {
	Mode room.Mode
	// MaxMembers caps multiparty rooms; 0 means unlimited.
	MaxMembers int

	// StrictSDP rejects offers and answers that are not parseable session
	// descriptions of the right type, and candidates that are not
	// RTCIceCandidateInit objects. When false, payloads are relayed as long as
	// they are present.
	StrictSDP bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// NewID generates connection ids. Defaults to uuid.NewString.
	NewID func() string
}

// Coordinator dispatches inbound messages against the room store and queues
// the resulting events on the recipients' outboxes.
//
// Handle may be called concurrently for different connections; calls for the
// same connection must be sequential so that its messages are processed in
// arrival order.
type Coordinator struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	conns     *registry.Registry
	rooms     *room.Store
	strictSDP bool
	newID     func() string

	closed atomic.Bool
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	c := &Coordinator{
		log:       opts.Logger,
		metrics:   opts.Metrics,
		conns:     registry.New(),
		strictSDP: opts.StrictSDP,
		newID:     opts.NewID,
	}
	c.rooms = room.NewStore(room.Options{
		Mode:       opts.Mode,
		MaxMembers: opts.MaxMembers,
		Notifier:   roomEvents{c},
		Logger:     opts.Logger,
	})
	return c
}

func (c *Coordinator) Mode() room.Mode { return c.rooms.Mode() }

func (c *Coordinator) Metrics() *metrics.Metrics { return c.metrics }

// Stats reports the room store's current size.
func (c *Coordinator) Stats() room.Stats { return c.rooms.Stats() }

// Connections reports the number of registered connections.
func (c *Coordinator) Connections() int { return c.conns.Len() }

// Connect registers a new connection delivering to out and queues its
// welcome event. name is an optional display name used as the default
// callerName of its calls.
func (c *Coordinator) Connect(name string, out registry.Outbox) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	id := c.newID()
	if _, err := c.conns.Register(id, name, out); err != nil {
		return "", fmt.Errorf("register connection: %w", err)
	}
	out.Send(Event{Type: EventWelcome, ConnectionID: id})
	c.log.Debug("connection registered", "conn_id", id)
	return id, nil
}

// Disconnect unregisters the connection and, if it was in a room, leaves the
// room exactly as leave_room would. It is idempotent.
func (c *Coordinator) Disconnect(connID string) {
	roomID := c.conns.Unregister(connID)
	if roomID != "" {
		if err := c.rooms.Leave(roomID, connID); err != nil {
			c.log.Debug("leave on disconnect", "conn_id", connID, "room_id", roomID, "err", err)
		}
	}
	c.log.Debug("connection unregistered", "conn_id", connID, "room_id", roomID)
}

// Close cancels every open session (participants receive call_cancelled) and
// empties every room. Later messages are rejected with ErrClosed.
func (c *Coordinator) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	st := c.rooms.Stats()
	c.rooms.CloseAll()
	for _, id := range c.conns.IDs() {
		_ = c.conns.SetRoom(id, "")
	}
	c.log.Info("signaling coordinator closed", "rooms", st.Rooms, "sessions", st.Sessions)
}

// Handle processes one inbound message from connID. A non-nil error means the
// message was dropped; it has already been logged and counted, and for
// validation failures the sender has been sent an error event.
func (c *Coordinator) Handle(connID string, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.Inc(metrics.PanicsRecovered)
			c.log.Error("panic in signaling handler",
				"conn_id", connID,
				"room_id", msg.RoomID,
				"event", string(msg.Type),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("signaling: panic handling %s: %v", msg.Type, r)
		}
	}()

	msg.normalize()
	if err := c.dispatch(connID, msg); err != nil {
		c.drop(connID, msg, err)
		return err
	}
	return nil
}

// Reject reports a frame that could not be decoded into a Message.
func (c *Coordinator) Reject(connID string, err error) {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		err = &ValidationError{Reason: err.Error()}
	}
	c.drop(connID, Message{}, err)
}

func (c *Coordinator) drop(connID string, msg Message, err error) {
	kind := Classify(err)
	c.metrics.Inc(metrics.Dropped(string(kind)))

	level := slog.LevelDebug
	if kind == KindValidation {
		level = slog.LevelWarn
	}
	c.log.Log(context.Background(), level, "signaling message dropped",
		"conn_id", connID,
		"room_id", msg.RoomID,
		"event", string(msg.Type),
		"kind", string(kind),
		"err", err,
	)

	if kind == KindValidation {
		c.conns.Send(connID, Event{
			Type:      EventError,
			RequestID: msg.RequestID,
			Code:      "bad_message",
			Message:   err.Error(),
		})
	}
}

func (c *Coordinator) dispatch(connID string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if c.strictSDP {
		if err := validatePayloads(msg); err != nil {
			return err
		}
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.metrics.Inc(metrics.Inbound(string(msg.Type)))

	conn, ok := c.conns.Lookup(connID)
	if !ok {
		return registry.ErrConnectionNotFound
	}

	switch msg.Type {
	case MessageJoinRoom:
		return c.joinRoom(conn, msg)
	case MessageStartCall:
		return c.startCall(conn, msg)
	case MessageAcceptCall:
		return c.acceptCall(conn, msg)
	case MessageICECandidate:
		return c.iceCandidate(conn, msg)
	case MessageRejectCall:
		return c.rejectCall(conn, msg)
	case MessageHangup:
		return c.hangup(conn, msg)
	case MessageLeaveRoom:
		return c.leaveRoom(conn, msg)
	default:
		return validationErrorf("type", "unsupported message type %q", msg.Type)
	}
}

func validatePayloads(msg Message) error {
	switch msg.Type {
	case MessageStartCall:
		return validateDescription("offer", msg.Offer, webrtc.SDPTypeOffer)
	case MessageAcceptCall:
		return validateDescription("answer", msg.Answer, webrtc.SDPTypeAnswer)
	case MessageICECandidate:
		return validateCandidate(msg.Candidate)
	}
	return nil
}

// memberRoom resolves the room msg addresses, which must be the room the
// sender is currently in.
func memberRoom(conn registry.Connection, msg Message) (string, error) {
	id, err := room.NormalizeID(msg.RoomID)
	if err != nil {
		return "", err
	}
	if !conn.InRoom() {
		return "", ErrNotInRoom
	}
	if conn.RoomID != id {
		return "", ErrRoomMismatch
	}
	return id, nil
}

func (c *Coordinator) joinRoom(conn registry.Connection, msg Message) error {
	id, err := room.NormalizeID(msg.RoomID)
	if err != nil {
		return err
	}
	if conn.InRoom() {
		return ErrAlreadyInRoom
	}

	if _, err := c.rooms.Join(id, conn.ID); err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			c.metrics.Inc(metrics.RoomFull)
			c.conns.Send(conn.ID, Event{Type: EventRoomFull, RoomID: id})
			c.log.Info("room full", "conn_id", conn.ID, "room_id", id)
			return nil
		}
		return err
	}
	if err := c.conns.SetRoom(conn.ID, id); err != nil {
		_ = c.rooms.Leave(id, conn.ID)
		return err
	}
	// Close may have emptied the store between dispatch and Join.
	if c.closed.Load() {
		_ = c.rooms.Leave(id, conn.ID)
		_ = c.conns.SetRoom(conn.ID, "")
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) startCall(conn registry.Connection, msg Message) error {
	id, err := memberRoom(conn, msg)
	if err != nil {
		return err
	}
	name := msg.CallerName
	if name == "" {
		name = conn.Name
	}

	return c.rooms.With(id, func(r *room.Room) error {
		sess, err := r.CreateFromOffer(conn.ID, msg.TargetID, msg.Offer, name)
		if err != nil {
			return err
		}
		c.metrics.Inc(metrics.SessionsCreated)
		if sess.Callee() != "" {
			c.sendIncomingCall(sess)
		}
		return nil
	})
}

func (c *Coordinator) sendIncomingCall(sess *room.Session) {
	c.conns.Send(sess.Callee(), Event{
		Type:       EventIncomingCall,
		RoomID:     sess.RoomID(),
		CallerID:   sess.Caller(),
		CallerName: sess.CallerName(),
		Offer:      Blob(sess.Offer()),
	})
}

func (c *Coordinator) acceptCall(conn registry.Connection, msg Message) error {
	id, err := memberRoom(conn, msg)
	if err != nil {
		return err
	}

	return c.rooms.With(id, func(r *room.Room) error {
		sess, err := r.Answer(conn.ID, msg.CallerID, msg.Answer)
		if err != nil {
			return err
		}
		c.metrics.Inc(metrics.SessionsAnswered)

		c.conns.Send(sess.Caller(), Event{
			Type:     EventCallAccepted,
			RoomID:   id,
			CalleeID: conn.ID,
			Answer:   Blob(sess.Answer()),
		})

		if msg.RequestID != "" {
			queued := sess.CallerCandidates()
			candidates := make([]Blob, len(queued))
			for i, cand := range queued {
				candidates[i] = Blob(cand)
			}
			c.metrics.Add(metrics.CandidatesReplayed, uint64(len(candidates)))
			c.conns.Send(conn.ID, Event{
				Type:       EventAck,
				RoomID:     id,
				RequestID:  msg.RequestID,
				CallerID:   sess.Caller(),
				Candidates: candidates,
			})
		}
		return nil
	})
}

func (c *Coordinator) iceCandidate(conn registry.Connection, msg Message) error {
	id, err := memberRoom(conn, msg)
	if err != nil {
		return err
	}

	return c.rooms.With(id, func(r *room.Room) error {
		if !r.IsMember(conn.ID) {
			return room.ErrNotMember
		}
		target := msg.TargetID
		if target != "" && (target == conn.ID || !r.IsMember(target)) {
			return room.ErrUnknownTarget
		}
		if target == "" {
			target = inferPeer(r, conn.ID)
		}

		to := target
		if sess := r.SessionBetween(conn.ID, target); sess != nil {
			queued := sess.State() == room.StateOffered
			fwd, err := sess.EnqueueCandidate(conn.ID, msg.Candidate)
			if err != nil {
				return err
			}
			if queued {
				c.metrics.Inc(metrics.CandidatesQueued)
			}
			if fwd == "" {
				// Queued until the callee joins and answers.
				return nil
			}
			to = fwd
		}
		if to == "" {
			return ErrNoRecipient
		}

		c.metrics.Inc(metrics.CandidatesRelayed)
		c.conns.Send(to, Event{
			Type:      EventICECandidate,
			RoomID:    id,
			SenderID:  conn.ID,
			Candidate: msg.Candidate,
		})
		return nil
	})
}

// inferPeer picks the counterpart of a candidate sent without targetId: the
// other member in pairwise mode, or the counterpart of the sender's only
// session in multiparty mode.
func inferPeer(r *room.Room, connID string) string {
	if r.Mode() == room.ModePairwise {
		other, _ := r.OtherMember(connID)
		return other
	}
	sessions := r.SessionsInvolving(connID)
	if len(sessions) != 1 {
		return ""
	}
	return sessions[0].Counterpart(connID)
}

func (c *Coordinator) rejectCall(conn registry.Connection, msg Message) error {
	id, err := memberRoom(conn, msg)
	if err != nil {
		return err
	}

	return c.rooms.With(id, func(r *room.Room) error {
		closed := 0
		for _, sess := range r.PendingFor(conn.ID) {
			if msg.CallerID != "" && sess.Caller() != msg.CallerID {
				continue
			}
			r.Close(sess, conn.ID, room.ReasonRejected)
			closed++
		}
		if closed == 0 {
			return room.ErrSessionNotFound
		}
		return nil
	})
}

func (c *Coordinator) hangup(conn registry.Connection, msg Message) error {
	id, err := memberRoom(conn, msg)
	if err != nil {
		return err
	}

	return c.rooms.With(id, func(r *room.Room) error {
		closed := 0
		// Crossing sessions link the same pair twice; each peer hears one hangup.
		var peers []string
		for _, sess := range r.SessionsInvolving(conn.ID) {
			peer := sess.Counterpart(conn.ID)
			if msg.TargetID != "" && peer != msg.TargetID {
				continue
			}
			r.Close(sess, conn.ID, room.ReasonHangup)
			closed++
			if peer != "" && !slices.Contains(peers, peer) {
				peers = append(peers, peer)
			}
		}
		if closed == 0 {
			return ErrNoCall
		}
		for _, peer := range peers {
			c.conns.Send(peer, Event{Type: EventHangup, RoomID: id, ConnectionID: conn.ID})
		}
		return nil
	})
}

func (c *Coordinator) leaveRoom(conn registry.Connection, msg Message) error {
	id, err := memberRoom(conn, msg)
	if err != nil {
		return err
	}
	if err := c.rooms.Leave(id, conn.ID); err != nil {
		return err
	}
	return c.conns.SetRoom(conn.ID, "")
}

// roomEvents turns room store notifications into outbound events. It runs
// under the room lock, so events for one room are queued in state order.
type roomEvents struct {
	c *Coordinator
}

func (e roomEvents) Joined(roomID, joiner string, existing []string) {
	e.c.conns.Send(joiner, Event{
		Type:         EventJoined,
		RoomID:       roomID,
		ConnectionID: joiner,
		Members:      existing,
	})
}

func (e roomEvents) MemberJoined(roomID, to, joined string) {
	e.c.conns.Send(to, Event{Type: EventMemberJoined, RoomID: roomID, ConnectionID: joined})
}

func (e roomEvents) MemberLeft(roomID, to, left string) {
	e.c.conns.Send(to, Event{Type: EventMemberLeft, RoomID: roomID, ConnectionID: left})
}

func (e roomEvents) SessionBound(_ string, s *room.Session) {
	e.c.sendIncomingCall(s)
}

func (e roomEvents) SessionClosed(roomID string, s *room.Session, closedBy string, reason room.CloseReason) {
	e.c.metrics.Inc(metrics.SessionsClosed(string(reason)))

	switch reason {
	case room.ReasonHangup:
		// hangup notifies each counterpart once after closing all its sessions.
	case room.ReasonRejected:
		e.c.conns.Send(s.Caller(), Event{Type: EventCallRejected, RoomID: roomID, ConnectionID: closedBy})
	case room.ReasonCancelled:
		for _, to := range []string{s.Caller(), s.Callee()} {
			if to == "" {
				continue
			}
			e.c.conns.Send(to, Event{
				Type:     EventCallCancelled,
				RoomID:   roomID,
				CallerID: s.Caller(),
				CalleeID: s.Callee(),
			})
		}
	case room.ReasonLeft:
		// The remaining member learns about it from member_left.
	}
}
