package model

import "time"

// Frame types
const (
	FrameMessage        = "message"
	FrameReaction       = "reaction"
	FrameNearbyUsers    = "nearbyUsers"
	FrameUpdateLocation = "updateLocation"
	FrameError          = "error"
)

// Message kinds carried in an inbound message frame
const (
	MessageKindText  = "text"
	MessageKindMedia = "media"
)

// Frame is the envelope of every websocket frame in both directions
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InboundMessage is the data of a message frame sent by a client
type InboundMessage struct {
	Kind        string `json:"type"`
	Message     string `json:"message"`
	Base64      string `json:"base64"`
	ContentType string `json:"contentType"`
	TempID      string `json:"tempId"`
}

// InboundReaction is the data of a reaction frame sent by a client
type InboundReaction struct {
	ID    string `json:"_id"`
	Emoji string `json:"emoji"`
}

// InboundLocation is the data of an updateLocation frame
type InboundLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Sender is the compact author reference embedded in messages
type Sender struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Reaction struct {
	User  Sender `json:"user"`
	Emoji string `json:"emoji"`
}

// Reactions maps a reaction symbol to everyone who used it
type Reactions map[string][]Reaction

type Message struct {
	ID        string    `json:"_id"`
	TempID    string    `json:"tempId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	User      Sender    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	Video     string    `json:"video,omitempty"`
	Reactions Reactions `json:"reactions"`
}

// ReactionUpdate is the data of an outbound reaction frame
type ReactionUpdate struct {
	ID        string    `json:"_id"`
	Reactions Reactions `json:"reactions"`
}

// ErrorReply answers a frame the server refused
type ErrorReply struct {
	Frame           string    `json:"frame,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}
