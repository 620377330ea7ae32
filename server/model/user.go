package model

import "time"

type Block struct {
	Reason    string     `json:"reason,omitempty"`
	UnblockAt *time.Time `json:"unblockAt,omitempty"`
}

type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	ProfileImg string `json:"profileImg,omitempty"`
	Email      string `json:"email,omitempty"`
	Program    string `json:"program,omitempty"`
	Premium    bool   `json:"isPremium"`
	Verified   bool   `json:"verified"`
	Blocked    *Block `json:"blocked,omitempty"`
}

// Public strips what other users may not see.
func (u User) Public() User {
	u.Email = ""
	u.Blocked = nil
	return u
}

type Photo struct {
	ID        string    `json:"_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

type Subscription struct {
	Plan      string     `json:"plan,omitempty"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
