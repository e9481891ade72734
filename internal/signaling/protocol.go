package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

type MessageType string

// Inbound message types.
const (
	MessageJoinRoom     MessageType = "join_room"
	MessageStartCall    MessageType = "start_call"
	MessageAcceptCall   MessageType = "accept_call"
	MessageICECandidate MessageType = "ice_candidate"
	MessageRejectCall   MessageType = "reject_call"
	MessageHangup       MessageType = "hangup"
	MessageLeaveRoom    MessageType = "leave_room"
)

type EventType string

// Outbound event types.
const (
	EventWelcome       EventType = "welcome"
	EventJoined        EventType = "joined"
	EventRoomFull      EventType = "room_full"
	EventMemberJoined  EventType = "member_joined"
	EventIncomingCall  EventType = "incoming_call"
	EventCallAccepted  EventType = "call_accepted"
	EventAck           EventType = "ack"
	EventICECandidate  EventType = "ice_candidate"
	EventCallRejected  EventType = "call_rejected"
	EventHangup        EventType = "hangup"
	EventCallCancelled EventType = "call_cancelled"
	EventMemberLeft    EventType = "member_left"
	EventError         EventType = "error"
)

const (
	maxRoomIDLen     = 128
	maxIDLen         = 128
	maxCallerNameLen = 64
)

// Message is one inbound client message. Unused fields must be empty.
type Message struct {
	Type       MessageType `json:"type" msgpack:"type"`
	RoomID     string      `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	RequestID  string      `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
	Offer      Blob        `json:"offer,omitempty" msgpack:"offer,omitempty"`
	Answer     Blob        `json:"answer,omitempty" msgpack:"answer,omitempty"`
	Candidate  Blob        `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	TargetID   string      `json:"targetId,omitempty" msgpack:"targetId,omitempty"`
	CallerID   string      `json:"callerId,omitempty" msgpack:"callerId,omitempty"`
	CallerName string      `json:"callerName,omitempty" msgpack:"callerName,omitempty"`

	// DidIOffer is sent with ice-candidate by older clients to say which side
	// of the call they are on. It is accepted on candidates and ignored: the
	// counterpart is inferred from the sender's session.
	DidIOffer *bool `json:"didIOffer,omitempty" msgpack:"didIOffer,omitempty"`
}

// Event is one outbound message.
type Event struct {
	Type         EventType `json:"type" msgpack:"type"`
	RoomID       string    `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	RequestID    string    `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty" msgpack:"connectionId,omitempty"`
	Members      []string  `json:"members,omitempty" msgpack:"members,omitempty"`
	CallerID     string    `json:"callerId,omitempty" msgpack:"callerId,omitempty"`
	CallerName   string    `json:"callerName,omitempty" msgpack:"callerName,omitempty"`
	CalleeID     string    `json:"calleeId,omitempty" msgpack:"calleeId,omitempty"`
	SenderID     string    `json:"senderId,omitempty" msgpack:"senderId,omitempty"`
	Offer        Blob      `json:"offer,omitempty" msgpack:"offer,omitempty"`
	Answer       Blob      `json:"answer,omitempty" msgpack:"answer,omitempty"`
	Candidate    Blob      `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Candidates   []Blob    `json:"candidates,omitempty" msgpack:"candidates,omitempty"`
	Code         string    `json:"code,omitempty" msgpack:"code,omitempty"`
	Message      string    `json:"message,omitempty" msgpack:"message,omitempty"`
}

// normalize folds accepted aliases into their canonical form.
func (m *Message) normalize() {
	m.Type = MessageType(strings.ToLower(strings.TrimSpace(string(m.Type))))
	if m.Type == "ice-candidate" {
		m.Type = MessageICECandidate
	}
	m.RoomID = strings.TrimSpace(m.RoomID)
	m.TargetID = strings.TrimSpace(m.TargetID)
	m.CallerID = strings.TrimSpace(m.CallerID)
	m.CallerName = strings.TrimSpace(m.CallerName)
}

// Validate checks required fields and rejects fields that do not belong to
// the message type.
func (m Message) Validate() error {
	if m.RoomID == "" {
		return validationErrorf("roomId", "missing roomId")
	}
	if len(m.RoomID) > maxRoomIDLen {
		return validationErrorf("roomId", "roomId longer than %d bytes", maxRoomIDLen)
	}
	if len(m.RequestID) > maxIDLen || len(m.TargetID) > maxIDLen || len(m.CallerID) > maxIDLen {
		return validationErrorf("", "identifier longer than %d bytes", maxIDLen)
	}
	if len(m.CallerName) > maxCallerNameLen {
		return validationErrorf("callerName", "callerName longer than %d bytes", maxCallerNameLen)
	}

	var (
		offer, answer, candidate bool
		target, callerID, name   bool
	)
	switch m.Type {
	case MessageJoinRoom, MessageLeaveRoom:
	case MessageStartCall:
		if m.Offer.IsZero() {
			return validationErrorf("offer", "start_call missing offer")
		}
		offer, target, name = true, true, true
	case MessageAcceptCall:
		if m.Answer.IsZero() {
			return validationErrorf("answer", "accept_call missing answer")
		}
		answer, callerID = true, true
	case MessageICECandidate:
		if m.Candidate.IsZero() {
			return validationErrorf("candidate", "ice_candidate missing candidate")
		}
		candidate, target = true, true
	case MessageRejectCall:
		callerID = true
	case MessageHangup:
		target = true
	case "":
		return validationErrorf("type", "missing type")
	default:
		return validationErrorf("type", "unsupported message type %q", m.Type)
	}

	switch {
	case !offer && len(m.Offer) > 0:
		return validationErrorf("offer", "%s message has unexpected offer", m.Type)
	case !answer && len(m.Answer) > 0:
		return validationErrorf("answer", "%s message has unexpected answer", m.Type)
	case !candidate && len(m.Candidate) > 0:
		return validationErrorf("candidate", "%s message has unexpected candidate", m.Type)
	case !target && m.TargetID != "":
		return validationErrorf("targetId", "%s message has unexpected targetId", m.Type)
	case !callerID && m.CallerID != "":
		return validationErrorf("callerId", "%s message has unexpected callerId", m.Type)
	case !name && m.CallerName != "":
		return validationErrorf("callerName", "%s message has unexpected callerName", m.Type)
	case !candidate && m.DidIOffer != nil:
		return validationErrorf("didIOffer", "%s message has unexpected didIOffer", m.Type)
	}
	return nil
}

// Blob is an opaque JSON value (a session description or an ICE candidate)
// relayed verbatim. It is stored as JSON and transcoded to native msgpack
// values on msgpack connections, so JSON and msgpack peers can share a room.
type Blob []byte

var jsonNull = []byte("null")

func (b Blob) IsZero() bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, jsonNull)
}

func (b Blob) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return jsonNull, nil
	}
	return b, nil
}

func (b *Blob) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*b = nil
		return nil
	}
	*b = append(Blob(nil), data...)
	return nil
}

var _ msgpack.CustomEncoder = Blob(nil)
var _ msgpack.CustomDecoder = (*Blob)(nil)

func (b Blob) EncodeMsgpack(enc *msgpack.Encoder) error {
	if b.IsZero() {
		return enc.EncodeNil()
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("blob is not valid json: %w", err)
	}
	return enc.Encode(v)
}

func (b *Blob) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	if v == nil {
		*b = nil
		return nil
	}
	v, err = jsonCompatible(v)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("blob is not representable as json: %w", err)
	}
	*b = data
	return nil
}

// jsonCompatible rewrites msgpack maps with non-string key types into
// map[string]any so encoding/json can marshal them.
func jsonCompatible(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			c, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("blob map key %v is not a string", k)
			}
			c, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[ks] = c
		}
		return out, nil
	case []any:
		for i, e := range t {
			c, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	case []byte:
		return nil, fmt.Errorf("blob contains binary data")
	default:
		return v, nil
	}
}
