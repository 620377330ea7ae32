package store

import (
	"sort"
	"time"

	"nearchat/server/model"
)

type User struct {
	ID            string `gorm:"primaryKey;size:36"`
	FullName      string
	Email         string `gorm:"uniqueIndex"`
	PasswordHash  string
	Program       string
	ProfileImg    string
	Verified      bool
	BlockedReason string
	BlockedUntil  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsBlocked reports whether the account is blocked at now. A block without an
// end time is permanent.
func (u *User) IsBlocked(now time.Time) bool {
	if u.BlockedReason == "" {
		return false
	}
	return u.BlockedUntil == nil || now.Before(*u.BlockedUntil)
}

func (u *User) View() model.User {
	v := model.User{
		ID:         u.ID,
		FullName:   u.FullName,
		ProfileImg: u.ProfileImg,
		Email:      u.Email,
		Program:    u.Program,
		Verified:   u.Verified,
	}
	if u.BlockedReason != "" {
		v.Blocked = &model.Block{Reason: u.BlockedReason, UnblockAt: u.BlockedUntil}
	}
	return v
}

func (u *User) Sender() model.Sender {
	return model.Sender{ID: u.ID, Name: u.FullName, Avatar: u.ProfileImg}
}

type VerificationCode struct {
	Email     string `gorm:"primaryKey"`
	Code      string
	ExpiresAt time.Time
}

type ResetToken struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	ExpiresAt time.Time
}

type Photo struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index"`
	URL       string
	CreatedAt time.Time
}

func (p *Photo) View() model.Photo {
	return model.Photo{ID: p.ID, URL: p.URL, CreatedAt: p.CreatedAt}
}

// Message rows are paged by Seq, which follows insertion order.
type Message struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"uniqueIndex;size:36"`
	UserID    string `gorm:"index"`
	User      User   `gorm:"foreignKey:UserID;references:ID"`
	Text      string
	Image     string
	Video     string
	CreatedAt time.Time

	Reactions []Reaction `gorm:"foreignKey:MessageID;references:ID"`
}

func (m *Message) View() model.Message {
	sender := m.User.Sender()
	if sender.ID == "" {
		sender.ID = m.UserID
	}
	return model.Message{
		ID:        m.ID,
		MessageID: m.ID,
		User:      sender,
		CreatedAt: m.CreatedAt,
		Text:      m.Text,
		Image:     m.Image,
		Video:     m.Video,
		Reactions: groupReactions(m.Reactions),
	}
}

type Reaction struct {
	MessageID string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"primaryKey;size:36"`
	Emoji     string `gorm:"primaryKey"`
	User      User   `gorm:"foreignKey:UserID;references:ID"`
	CreatedAt time.Time
}

// groupReactions keys reactions by symbol, oldest first within a symbol.
func groupReactions(rows []Reaction) model.Reactions {
	sorted := append([]Reaction(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	out := model.Reactions{}
	for _, r := range sorted {
		out[r.Emoji] = append(out[r.Emoji], model.Reaction{User: r.User.Sender(), Emoji: r.Emoji})
	}
	return out
}

type Location struct {
	UserID    string `gorm:"primaryKey;size:36"`
	Latitude  float64
	Longitude float64
	UpdatedAt time.Time `gorm:"index;autoUpdateTime:false"`
}

type Subscription struct {
	UserID    string `gorm:"primaryKey;size:36"`
	Plan      string
	ExpiresAt time.Time
}
