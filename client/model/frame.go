package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// FrameType is the discriminator of a realtime frame
type FrameType string

const (
	FrameMessage        FrameType = "message"
	FrameReaction       FrameType = "reaction"
	FrameNearbyUsers    FrameType = "nearbyUsers"
	FrameUpdateLocation FrameType = "updateLocation"
	FrameError          FrameType = "error"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// Envelope is the wire shape shared by every frame
type Envelope struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is a frame pushed by the server. The set is closed: MessageFrame,
// ReactionFrame and NearbyUsersFrame.
type Inbound interface {
	inbound()
}

// MessageFrame appends a message or confirms an optimistic one
type MessageFrame struct {
	Message Message
}

// ReactionFrame replaces the reaction mapping of a confirmed message
type ReactionFrame struct {
	ID        string    `json:"_id"`
	Reactions Reactions `json:"reactions"`
}

// NearbyUsersFrame replaces the presence list
type NearbyUsersFrame struct {
	Users []User
}

func (MessageFrame) inbound()     {}
func (ReactionFrame) inbound()    {}
func (NearbyUsersFrame) inbound() {}

// DecodeInbound parses one inbound frame. The type is peeked before the payload
// is decoded so unknown frames cost no allocation beyond the scan.
func DecodeInbound(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedFrame
	}
	t := gjson.GetBytes(raw, "type")
	if t.Type != gjson.String {
		return nil, ErrMalformedFrame
	}
	data := gjson.GetBytes(raw, "data")

	switch FrameType(t.Str) {
	case FrameMessage:
		if !data.IsObject() {
			return nil, fmt.Errorf("%w: message without payload", ErrMalformedFrame)
		}
		var m Message
		if err := json.Unmarshal([]byte(data.Raw), &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if m.ID == "" {
			return nil, fmt.Errorf("%w: message without _id", ErrMalformedFrame)
		}
		m.Pending = false
		return MessageFrame{Message: m}, nil

	case FrameReaction:
		if !data.IsObject() {
			return nil, fmt.Errorf("%w: reaction without payload", ErrMalformedFrame)
		}
		var r ReactionFrame
		if err := json.Unmarshal([]byte(data.Raw), &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("%w: reaction without _id", ErrMalformedFrame)
		}
		return r, nil

	case FrameNearbyUsers:
		users := []User{}
		if data.Exists() && data.Type != gjson.Null {
			if !data.IsArray() {
				return nil, fmt.Errorf("%w: nearbyUsers payload is not a list", ErrMalformedFrame)
			}
			if err := json.Unmarshal([]byte(data.Raw), &users); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
		}
		return NearbyUsersFrame{Users: users}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, t.Str)
	}
}

// Outbound is a frame the client sends. The set is closed: SendMessage,
// SendReaction, RequestNearbyUsers and UpdateLocation.
type Outbound interface {
	FrameType() FrameType
}

// SendMessage carries a text or media message with its temporary id
type SendMessage struct {
	Kind        string `json:"type"`
	Message     string `json:"message,omitempty"`
	Base64      string `json:"base64,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	TempID      string `json:"tempId"`
}

// SendReaction reacts to a confirmed message
type SendReaction struct {
	ID    string `json:"_id"`
	Emoji string `json:"emoji"`
}

// RequestNearbyUsers asks the server for a presence refresh
type RequestNearbyUsers struct{}

// UpdateLocation reports the device position
type UpdateLocation struct {
	Coordinates
}

func (SendMessage) FrameType() FrameType        { return FrameMessage }
func (SendReaction) FrameType() FrameType       { return FrameReaction }
func (RequestNearbyUsers) FrameType() FrameType { return FrameNearbyUsers }
func (UpdateLocation) FrameType() FrameType     { return FrameUpdateLocation }

// EncodeOutbound wraps an outbound frame into its envelope.
func EncodeOutbound(o Outbound) ([]byte, error) {
	env := Envelope{Type: o.FrameType()}
	switch f := o.(type) {
	case RequestNearbyUsers:
		// no payload
	case SendMessage, SendReaction, UpdateLocation:
		data, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s frame: %w", env.Type, err)
		}
		env.Data = data
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, o)
	}
	return json.Marshal(env)
}
