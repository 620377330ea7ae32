package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nearchat/server/model"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrEmailTaken   = errors.New("email is already registered")
	ErrInvalidCode  = errors.New("invalid or expired code")
	ErrInvalidToken = errors.New("invalid or expired reset token")
)

// Store persists the backend state in SQLite using GORM.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open creates or loads the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(
		&User{}, &VerificationCode{}, &ResetToken{}, &Photo{},
		&Message{}, &Reaction{}, &Location{}, &Subscription{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Users

func (s *Store) CreateUser(u *User) error {
	u.Email = normalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.Model(&User{}).Where("email = ?", u.Email).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrEmailTaken
	}
	return s.db.Create(u).Error
}

func (s *Store) UserByID(id string) (*User, error) {
	var u User
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) UserByEmail(email string) (*User, error) {
	var u User
	if err := s.db.First(&u, "email = ?", normalizeEmail(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) SaveUser(u *User) error {
	return s.db.Save(u).Error
}

// UserView renders u for the wire, resolving premium from its subscription.
func (s *Store) UserView(u *User, now time.Time) model.User {
	view := u.View()
	if sub, err := s.Subscription(u.ID, now); err == nil {
		view.Premium = sub.Active
	}
	return view
}

// Verification codes and reset tokens

func (s *Store) SaveCode(email, code string, expiresAt time.Time) error {
	return s.db.Save(&VerificationCode{Email: normalizeEmail(email), Code: code, ExpiresAt: expiresAt}).Error
}

// ConsumeCode deletes the code of email when it matches and has not expired.
func (s *Store) ConsumeCode(email, code string, now time.Time) error {
	email = normalizeEmail(email)
	var vc VerificationCode
	if err := s.db.First(&vc, "email = ?", email).Error; err != nil {
		return ErrInvalidCode
	}
	if vc.Code != code || now.After(vc.ExpiresAt) {
		return ErrInvalidCode
	}
	return s.db.Delete(&vc).Error
}

func (s *Store) SaveResetToken(token, userID string, expiresAt time.Time) error {
	return s.db.Create(&ResetToken{Token: token, UserID: userID, ExpiresAt: expiresAt}).Error
}

// ConsumeResetToken returns the user id a valid token was issued for and
// deletes the token.
func (s *Store) ConsumeResetToken(token string, now time.Time) (string, error) {
	var rt ResetToken
	if err := s.db.First(&rt, "token = ?", token).Error; err != nil {
		return "", ErrInvalidToken
	}
	if err := s.db.Delete(&rt).Error; err != nil {
		return "", err
	}
	if now.After(rt.ExpiresAt) {
		return "", ErrInvalidToken
	}
	return rt.UserID, nil
}

// Photos

func (s *Store) AddPhoto(p *Photo) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.db.Create(p).Error
}

// Photos lists the photos of userID, newest first.
func (s *Store) Photos(userID string) ([]Photo, error) {
	var photos []Photo
	err := s.db.Where("user_id = ?", userID).Order("created_at desc").Find(&photos).Error
	return photos, err
}

func (s *Store) CountPhotos(userID string) (int64, error) {
	var n int64
	err := s.db.Model(&Photo{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// DeletePhoto removes a photo owned by userID and returns it.
func (s *Store) DeletePhoto(userID, id string) (*Photo, error) {
	var p Photo
	if err := s.db.First(&p, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, s.db.Delete(&p).Error
}

// Subscriptions

// Subscription returns the subscription of userID. A missing subscription is
// reported as inactive.
func (s *Store) Subscription(userID string, now time.Time) (model.Subscription, error) {
	var sub Subscription
	err := s.db.First(&sub, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Subscription{}, nil
	}
	if err != nil {
		return model.Subscription{}, err
	}
	expires := sub.ExpiresAt
	return model.Subscription{
		Plan:      sub.Plan,
		Active:    now.Before(sub.ExpiresAt),
		ExpiresAt: &expires,
	}, nil
}

// Subscribe starts or extends the subscription of userID by period.
func (s *Store) Subscribe(userID, plan string, period time.Duration, now time.Time) (model.Subscription, error) {
	s.mu.Lock()
	var sub Subscription
	err := s.db.First(&sub, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.mu.Unlock()
		return model.Subscription{}, err
	}
	start := now
	if sub.ExpiresAt.After(now) {
		start = sub.ExpiresAt
	}
	sub = Subscription{UserID: userID, Plan: plan, ExpiresAt: start.Add(period)}
	err = s.db.Save(&sub).Error
	s.mu.Unlock()
	if err != nil {
		return model.Subscription{}, err
	}
	return s.Subscription(userID, now)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
