package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

const (
	// MaxRecentReactions is the length of the recently used reaction list
	MaxRecentReactions = 24

	DefaultLockWait = 5 * time.Second
)

var (
	keyToken  = []byte("auth:token")
	keyRecent = []byte("ui:recent_reactions")
)

// Store is the on-disk client state: the sealed bearer token and the recently
// used reactions. The pebble database is opened only for the duration of each
// operation so several commands can share one data dir.
type Store struct {
	path string
	seal *Sealer
	log  *logrus.Entry

	// LockWait bounds how long an operation waits for another process to
	// release the database.
	LockWait time.Duration

	mu sync.Mutex
}

// Open opens (or creates) the store under dir.
func Open(dir string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.WithField("component", "store")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	seal, err := LoadOrCreateSealer(filepath.Join(dir, "token.key"))
	if err != nil {
		return nil, err
	}

	s := &Store{path: filepath.Join(dir, "db"), seal: seal, log: log, LockWait: DefaultLockWait}
	if err := s.withDB(func(*pebble.DB) error { return nil }); err != nil {
		return nil, err
	}
	log.WithField("path", s.path).Debug("pebble ready")
	return s, nil
}

// Close is kept for symmetry with Open; no handle outlives an operation.
func (s *Store) Close() error {
	return nil
}

// Token returns the stored bearer token, or "" when logged out.
func (s *Store) Token() (string, error) {
	sealed, err := s.get(keyToken)
	if err != nil || sealed == nil {
		return "", err
	}
	plain, err := s.seal.Open(sealed)
	if err != nil {
		// a token sealed with a lost key is as good as no token
		s.log.WithError(err).Warn("stored token cannot be opened, ignoring it")
		return "", nil
	}
	return string(plain), nil
}

func (s *Store) SetToken(token string) error {
	sealed, err := s.seal.Seal([]byte(token))
	if err != nil {
		return err
	}
	return s.withDB(func(db *pebble.DB) error {
		return db.Set(keyToken, sealed, pebble.Sync)
	})
}

func (s *Store) ClearToken() error {
	return s.withDB(func(db *pebble.DB) error {
		return db.Delete(keyToken, pebble.Sync)
	})
}

// RecentReactions returns the recently used reactions, most recent first.
func (s *Store) RecentReactions() ([]string, error) {
	raw, err := s.get(keyRecent)
	if err != nil {
		return nil, err
	}
	return decodeRecent(raw)
}

// PushRecentReaction moves emoji to the front of the recent list.
func (s *Store) PushRecentReaction(emoji string) error {
	return s.withDB(func(db *pebble.DB) error {
		raw, err := read(db, keyRecent)
		if err != nil {
			return err
		}
		list, err := decodeRecent(raw)
		if err != nil {
			list = nil
		}
		next := make([]string, 0, MaxRecentReactions)
		next = append(next, emoji)
		for _, e := range list {
			if e == emoji {
				continue
			}
			if len(next) == MaxRecentReactions {
				break
			}
			next = append(next, e)
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return db.Set(keyRecent, data, pebble.Sync)
	})
}

func decodeRecent(raw []byte) ([]string, error) {
	list := []string{}
	if raw == nil {
		return list, nil
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("invalid recent reactions: %w", err)
	}
	return list, nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	var out []byte
	err := s.withDB(func(db *pebble.DB) error {
		v, err := read(db, key)
		out = v
		return err
	})
	return out, err
}

// withDB opens the database, runs fn and closes it again. While another
// process (or another Store in this one) holds the directory lock, opening is
// retried with backoff for up to LockWait.
func (s *Store) withDB(fn func(*pebble.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	db, err := backoff.Retry(context.Background(), func() (*pebble.DB, error) {
		db, err := pebble.Open(s.path, &pebble.Options{})
		if err != nil && !isLockHeld(err) {
			return nil, backoff.Permanent(err)
		}
		return db, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(s.LockWait))
	if err != nil {
		return fmt.Errorf("failed to open pebble at %s: %w", s.path, err)
	}

	runErr := fn(db)
	if err := db.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func isLockHeld(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "lock held") ||
		errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

func read(db *pebble.DB, key []byte) ([]byte, error) {
	v, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}
