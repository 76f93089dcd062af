package socketio

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EngineType is the single-character Engine.IO (v4) packet type.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// polling payloads concatenate packets with the ASCII record separator.
const recordSeparator = "\x1e"

var ErrEmptyPacket = errors.New("socketio: empty packet")

// EnginePacket is one Engine.IO frame: a type byte followed by an opaque string.
type EnginePacket struct {
	Type EngineType
	Data string
}

func (p EnginePacket) Encode() string {
	return string(p.Type) + p.Data
}

func ParseEnginePacket(raw string) (EnginePacket, error) {
	if raw == "" {
		return EnginePacket{}, ErrEmptyPacket
	}
	t := EngineType(raw[0])
	if t < EngineOpen || t > EngineNoop {
		return EnginePacket{}, errors.Errorf("socketio: unknown engine packet type %q", raw[0])
	}
	return EnginePacket{Type: t, Data: raw[1:]}, nil
}

// EncodePayload joins packets for a polling POST body.
func EncodePayload(packets []EnginePacket) string {
	parts := make([]string, 0, len(packets))
	for _, p := range packets {
		parts = append(parts, p.Encode())
	}
	return strings.Join(parts, recordSeparator)
}

// DecodePayload splits a polling GET body into packets.
func DecodePayload(body string) ([]EnginePacket, error) {
	if body == "" {
		return nil, nil
	}
	raw := strings.Split(body, recordSeparator)
	out := make([]EnginePacket, 0, len(raw))
	for _, r := range raw {
		p, err := ParseEnginePacket(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// OpenPayload is the JSON body of the Engine.IO open packet.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

func ParseOpenPayload(data string) (OpenPayload, error) {
	var op OpenPayload
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return OpenPayload{}, errors.Wrap(err, "socketio: decode open packet")
	}
	if op.SID == "" {
		return OpenPayload{}, errors.New("socketio: open packet without sid")
	}
	return op, nil
}

// PacketType is the Socket.IO (v5) packet type carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
	PacketBinaryEvent  PacketType = '5'
	PacketBinaryAck    PacketType = '6'
)

// Packet is a decoded Socket.IO packet.
//
// Namespace is "/" for the main namespace. AckID is -1 when absent.
type Packet struct {
	Type      PacketType
	Namespace string
	AckID     int
	Data      json.RawMessage
}

func (p Packet) Encode() string {
	var sb strings.Builder
	sb.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		sb.WriteString(p.Namespace)
		sb.WriteByte(',')
	}
	if p.AckID >= 0 {
		sb.WriteString(strconv.Itoa(p.AckID))
	}
	if len(p.Data) > 0 {
		sb.Write(p.Data)
	}
	return sb.String()
}

func ParsePacket(raw string) (Packet, error) {
	if raw == "" {
		return Packet{}, ErrEmptyPacket
	}
	p := Packet{Type: PacketType(raw[0]), Namespace: "/", AckID: -1}
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return Packet{}, errors.Errorf("socketio: unknown packet type %q", raw[0])
	}
	rest := raw[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		dash := strings.IndexByte(rest, '-')
		if dash < 0 {
			return Packet{}, errors.New("socketio: binary packet without attachment count")
		}
		// attachments are not supported; the count is skipped
		rest = rest[dash+1:]
	}

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			p.Namespace = rest
			rest = ""
		} else {
			p.Namespace = rest[:comma]
			rest = rest[comma+1:]
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return Packet{}, errors.Wrap(err, "socketio: ack id")
		}
		p.AckID = id
		rest = rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, errors.New("socketio: packet data is not valid json")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// NewConnect builds the namespace CONNECT packet sent after the Engine.IO handshake.
func NewConnect(namespace string, auth any) (Packet, error) {
	p := Packet{Type: PacketConnect, Namespace: namespace, AckID: -1}
	if auth != nil {
		b, err := json.Marshal(auth)
		if err != nil {
			return Packet{}, errors.Wrap(err, "socketio: encode auth")
		}
		p.Data = b
	}
	return p, nil
}

// NewEvent builds an EVENT packet `["name", payload]`. A nil payload sends only the name.
func NewEvent(namespace, name string, payload any) (Packet, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return Packet{}, errors.Wrapf(err, "socketio: encode event %s", name)
	}
	return Packet{Type: PacketEvent, Namespace: namespace, AckID: -1, Data: b}, nil
}

// Event splits an EVENT packet into its name and raw arguments.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent && p.Type != PacketBinaryEvent {
		return "", nil, errors.Errorf("socketio: packet type %q is not an event", byte(p.Type))
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(p.Data, &raw); err != nil {
		return "", nil, errors.Wrap(err, "socketio: decode event array")
	}
	if len(raw) == 0 {
		return "", nil, errors.New("socketio: event without name")
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return "", nil, errors.Wrap(err, "socketio: event name is not a string")
	}
	return name, raw[1:], nil
}

// ConnectErrorMessage extracts the human readable reason of a CONNECT_ERROR packet.
func (p Packet) ConnectErrorMessage() string {
	if len(p.Data) == 0 {
		return "connection refused"
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	var s string
	if err := json.Unmarshal(p.Data, &s); err == nil && s != "" {
		return s
	}
	return string(p.Data)
}
