package store

import (
	"time"

	"github.com/google/uuid"

	"nearchat/server/model"
)

// CreateMessage stores m and returns it as sent on the wire.
func (s *Store) CreateMessage(m *Message, now time.Time) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = now
	if err := s.db.Omit("User", "Reactions").Create(m).Error; err != nil {
		return model.Message{}, err
	}
	var saved Message
	if err := s.db.Preload("User").First(&saved, "id = ?", m.ID).Error; err != nil {
		return model.Message{}, notFound(err)
	}
	return saved.View(), nil
}

// MessagesBefore returns up to limit messages strictly older than the message
// with id cursor, newest first. An empty cursor pages from the newest message.
func (s *Store) MessagesBefore(cursor string, limit int) ([]model.Message, error) {
	q := s.db.Preload("User").Preload("Reactions").Preload("Reactions.User").
		Order("seq desc").Limit(limit)
	if cursor != "" {
		var c Message
		if err := s.db.Select("seq").First(&c, "id = ?", cursor).Error; err != nil {
			return nil, notFound(err)
		}
		q = q.Where("seq < ?", c.Seq)
	}

	var rows []Message
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].View()
	}
	return out, nil
}

// ToggleReaction adds the reaction of userID with emoji to a message, or
// removes it when present, and returns the message's full reaction mapping.
func (s *Store) ToggleReaction(messageID, userID, emoji string, now time.Time) (model.Reactions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.Model(&Message{}).Where("id = ?", messageID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	key := Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	res := s.db.Where(&key).Delete(&Reaction{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		key.CreatedAt = now
		if err := s.db.Omit("User").Create(&key).Error; err != nil {
			return nil, err
		}
	}

	var rows []Reaction
	if err := s.db.Preload("User").Where("message_id = ?", messageID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return groupReactions(rows), nil
}
