package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec translates between wire frames and messages. Decode is strict:
// unknown fields and trailing data are rejected.
type Codec interface {
	Name() string
	// FrameType is the WebSocket frame type the codec reads and writes.
	FrameType() int
	Encode(ev Event) ([]byte, error)
	Decode(data []byte) (Message, error)
}

var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

// CodecByName resolves the ?codec= query parameter. An empty name selects
// JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec, nil
	case "msgpack", "messagepack":
		return MsgpackCodec, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q (expected json or msgpack)", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (jsonCodec) Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, &ValidationError{Reason: err.Error()}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, &ValidationError{Reason: "unexpected trailing data"}
	}
	msg.normalize()
	return msg, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(ev); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, &ValidationError{Reason: err.Error()}
	}
	if r.Len() != 0 {
		return Message{}, &ValidationError{Reason: "unexpected trailing data"}
	}
	msg.normalize()
	return msg, nil
}
