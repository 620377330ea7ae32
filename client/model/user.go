package model

import "time"

// Block describes why and until when an account is blocked
type Block struct {
	Reason    string     `json:"reason,omitempty"`
	UnblockAt *time.Time `json:"unblockAt,omitempty"`
}

// User is a profile as returned by the backend; presence entries only fill ID, FullName and ProfileImg
type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	ProfileImg string `json:"profileImg,omitempty"`
	Email      string `json:"email,omitempty"`
	Program    string `json:"program,omitempty"`
	Premium    bool   `json:"isPremium,omitempty"`
	Verified   bool   `json:"verified,omitempty"`
	Blocked    *Block `json:"blocked,omitempty"`
}

// Sender returns the reference used when this user authors a message.
func (u User) Sender() Sender {
	return Sender{ID: u.ID, Name: u.FullName, Avatar: u.ProfileImg}
}

// Photo is an uploaded profile photo
type Photo struct {
	ID        string    `json:"_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Coordinates is a device position reported through updateLocation frames
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Subscription is the premium state of the current user
type Subscription struct {
	Plan      string     `json:"plan,omitempty"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
