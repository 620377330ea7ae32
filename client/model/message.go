package model

import "time"

// Message kinds carried in an outbound message frame
const (
	MessageKindText  = "text"
	MessageKindMedia = "media"
)

// Sender is the compact user reference embedded in every chat message
type Sender struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Reaction is one user's reaction to a message
type Reaction struct {
	User  Sender `json:"user"`
	Emoji string `json:"emoji"`
}

// Reactions maps a reaction symbol to everyone who used it
type Reactions map[string][]Reaction

// Count returns the total number of reactions across all symbols.
func (r Reactions) Count() int {
	n := 0
	for _, list := range r {
		n += len(list)
	}
	return n
}

// Clone returns a deep copy so window entries never share slices with callers.
func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for k, v := range r {
		out[k] = append([]Reaction(nil), v...)
	}
	return out
}

// Message represents a chat message as held in the client window
type Message struct {
	ID        string    `json:"_id"`
	TempID    string    `json:"tempId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	User      Sender    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	Video     string    `json:"video,omitempty"`
	Reactions Reactions `json:"reactions,omitempty"`

	// Update is bumped on every reaction change so views can skip unchanged rows.
	Update  int  `json:"-"`
	Pending bool `json:"pending,omitempty"`
}

// Cursor is the id the history endpoint pages from.
func (m Message) Cursor() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.ID
}

// HasMedia reports whether the message references an image or a video.
func (m Message) HasMedia() bool {
	return m.Image != "" || m.Video != ""
}

// Clone returns a copy that does not share the reaction map.
func (m Message) Clone() Message {
	m.Reactions = m.Reactions.Clone()
	return m
}
