package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Engine.IO v4 packet types.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets.
const (
	socketConnect      byte = '0'
	socketDisconnect   byte = '1'
	socketEvent        byte = '2'
	socketAck          byte = '3'
	socketConnectError byte = '4'
)

const defaultPath = "/socket.io/"

var errEmptyPacket = errors.New("empty packet")

// Packet is a decoded Engine.IO frame. Socket, Namespace, AckID and Data are
// only meaningful for message packets.
type Packet struct {
	Engine    byte
	Socket    byte
	Namespace string
	AckID     int
	Data      []byte
}

// IsEvent reports whether the packet carries a Socket.IO event.
func (p Packet) IsEvent() bool {
	return p.Engine == engineMessage && p.Socket == socketEvent
}

// Event returns the event name and the raw JSON of its first argument.
func (p Packet) Event() (string, []byte, error) {
	if !p.IsEvent() {
		return "", nil, fmt.Errorf("packet %c%c is not an event", p.Engine, p.Socket)
	}
	if !gjson.ValidBytes(p.Data) {
		return "", nil, fmt.Errorf("event payload is not valid JSON")
	}
	args := gjson.ParseBytes(p.Data)
	if !args.IsArray() {
		return "", nil, fmt.Errorf("event payload is not an array")
	}
	name := args.Get("0")
	if name.Type != gjson.String {
		return "", nil, fmt.Errorf("event name missing")
	}
	first := args.Get("1")
	if !first.Exists() {
		return name.String(), nil, nil
	}
	return name.String(), []byte(first.Raw), nil
}

// DecodePacket parses one text frame.
func DecodePacket(raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return Packet{}, errEmptyPacket
	}
	p := Packet{Engine: raw[0], AckID: -1}
	rest := raw[1:]

	switch p.Engine {
	case engineOpen, engineClose, enginePing, enginePong:
		p.Data = rest
		return p, nil
	case engineMessage:
	default:
		return Packet{}, fmt.Errorf("unknown engine packet type %q", p.Engine)
	}

	if len(rest) == 0 {
		return Packet{}, fmt.Errorf("message packet without socket type")
	}
	p.Socket = rest[0]
	rest = rest[1:]

	if len(rest) > 0 && rest[0] == '/' {
		idx := strings.IndexByte(string(rest), ',')
		if idx < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:idx])
		rest = rest[idx+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(string(rest[:digits]))
		if err != nil {
			return Packet{}, fmt.Errorf("invalid ack id: %w", err)
		}
		p.AckID = id
		rest = rest[digits:]
	}

	p.Data = rest
	return p, nil
}

// EncodeEvent builds the text frame for emitting event with payload.
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	args := []interface{}{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", event, err)
	}
	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, engineMessage, socketEvent)
	return append(frame, body...), nil
}

func encodeConnect(auth map[string]interface{}) ([]byte, error) {
	frame := []byte{engineMessage, socketConnect}
	if len(auth) == 0 {
		return frame, nil
	}
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encode auth: %w", err)
	}
	return append(frame, body...), nil
}

// EndpointURL derives the websocket transport URL from a service base URL.
// http/https map to ws/wss; a path already naming socket.io is kept.
func EndpointURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid target URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported target scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("target URL %q has no host", base)
	}

	if !strings.Contains(u.Path, "socket.io") {
		if path == "" {
			path = defaultPath
		}
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
