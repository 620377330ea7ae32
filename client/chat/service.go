package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nearchat/client/model"
	"nearchat/client/notify"
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrLoadInFlight = errors.New("an earlier page is already loading")
	ErrNoMessages   = errors.New("no messages loaded yet")
	ErrWindowFull   = errors.New("message window is full; older history is not kept")
)

// FrameSender writes one realtime frame
type FrameSender interface {
	Send(ctx context.Context, frame model.Outbound) error
}

// HistoryClient fetches one page of messages, newest first. An empty cursor
// asks for the most recent page.
type HistoryClient interface {
	Messages(ctx context.Context, cursor string) ([]model.Message, error)
}

// RecentStore persists the recently used reaction symbols
type RecentStore interface {
	RecentReactions() ([]string, error)
	PushRecentReaction(emoji string) error
}

// ConfirmObserver receives the latency between an optimistic send and its
// confirmation.
type ConfirmObserver interface {
	ObserveConfirm(kind string, d time.Duration)
}

type Options struct {
	Sender   FrameSender
	History  HistoryClient
	Recent   RecentStore
	Notifier notify.Notifier
	Observer ConfirmObserver
	Log      *logrus.Entry

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

type sentAt struct {
	kind string
	at   time.Time
}

// Service is the chat screen: optimistic sends, reactions and history paging
// over a shared Window.
type Service struct {
	window   *Window
	me       model.Sender
	sender   FrameSender
	history  HistoryClient
	recent   RecentStore
	notifier notify.Notifier
	observer ConfirmObserver
	log      *logrus.Entry
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	loading  bool
	inFlight map[string]sentAt
}

func NewService(window *Window, me model.Sender, opts Options) *Service {
	s := &Service{
		window:   window,
		me:       me,
		sender:   opts.Sender,
		history:  opts.History,
		recent:   opts.Recent,
		notifier: opts.Notifier,
		observer: opts.Observer,
		log:      opts.Log,
		now:      opts.Now,
		newID:    opts.NewID,
		inFlight: make(map[string]sentAt),
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}
	if s.log == nil {
		s.log = logrus.WithField("component", "chat")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	return s
}

func (s *Service) Window() *Window {
	return s.window
}

// SendText appends a pending entry and emits it. The entry stays in the
// window when the frame cannot be written.
func (s *Service) SendText(ctx context.Context, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, ErrEmptyMessage
	}

	tempID := s.newID()
	msg := model.Message{
		ID:        tempID,
		TempID:    tempID,
		User:      s.me,
		CreatedAt: s.now(),
		Pending:   true,
		Text:      text,
	}
	s.window.AddPending(msg)
	s.track(tempID, model.MessageKindText)

	err := s.sender.Send(ctx, model.SendMessage{
		Kind:    model.MessageKindText,
		Message: text,
		TempID:  tempID,
	})
	if err != nil {
		s.untrack(tempID)
		s.notifier.Notify(notify.Danger, "Message not sent", err.Error())
		return msg, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, nil
}

// SendMedia reads the asset, appends a pending media entry and emits it base64
// encoded. Failures are not retried.
func (s *Service) SendMedia(ctx context.Context, r io.Reader, contentType string) (model.Message, error) {
	tempID := s.newID()
	msg := model.Message{
		ID:        tempID,
		TempID:    tempID,
		User:      s.me,
		CreatedAt: s.now(),
		Pending:   true,
	}
	if strings.HasPrefix(contentType, "video/") {
		msg.Video = "pending"
	} else {
		msg.Image = "pending"
	}
	s.window.AddPending(msg)

	var buf bytes.Buffer
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if _, err := io.Copy(enc, r); err != nil {
		s.notifier.Notify(notify.Danger, "Upload failed", err.Error())
		return msg, fmt.Errorf("failed to read media: %w", err)
	}
	enc.Close()

	s.track(tempID, model.MessageKindMedia)
	err := s.sender.Send(ctx, model.SendMessage{
		Kind:        model.MessageKindMedia,
		Base64:      buf.String(),
		ContentType: contentType,
		TempID:      tempID,
	})
	if err != nil {
		s.untrack(tempID)
		s.notifier.Notify(notify.Danger, "Upload failed", err.Error())
		return msg, fmt.Errorf("failed to send media: %w", err)
	}
	return msg, nil
}

// React emits a reaction and moves emoji to the front of the recent list.
func (s *Service) React(ctx context.Context, messageID, emoji string) error {
	if messageID == "" || emoji == "" {
		return errors.New("message id and emoji are required")
	}
	if err := s.sender.Send(ctx, model.SendReaction{ID: messageID, Emoji: emoji}); err != nil {
		s.notifier.Notify(notify.Danger, "Reaction failed", err.Error())
		return fmt.Errorf("failed to send reaction: %w", err)
	}
	if s.recent != nil {
		if err := s.recent.PushRecentReaction(emoji); err != nil {
			s.log.WithError(err).Warn("failed to persist recent reaction")
		}
	}
	return nil
}

// RecentReactions returns the recently used symbols, most recent first.
func (s *Service) RecentReactions() []string {
	if s.recent == nil {
		return nil
	}
	list, err := s.recent.RecentReactions()
	if err != nil {
		s.log.WithError(err).Warn("failed to read recent reactions")
		return nil
	}
	return list
}

// HandleMessage applies an inbound message frame.
func (s *Service) HandleMessage(msg model.Message) {
	replaced := s.window.ApplyMessage(msg)
	if msg.TempID == "" {
		return
	}
	s.mu.Lock()
	sent, ok := s.inFlight[msg.TempID]
	delete(s.inFlight, msg.TempID)
	s.mu.Unlock()
	if ok && replaced && s.observer != nil {
		s.observer.ObserveConfirm(sent.kind, s.now().Sub(sent.at))
	}
}

// HandleReaction applies an inbound reaction frame.
func (s *Service) HandleReaction(id string, reactions model.Reactions) {
	if !s.window.ApplyReaction(id, reactions) {
		s.log.WithField("message_id", id).Debug("reaction for a message outside the window")
	}
}

// LoadInitial replaces the window with the most recent page.
func (s *Service) LoadInitial(ctx context.Context) error {
	page, err := s.history.Messages(ctx, "")
	if err != nil {
		s.notifier.Notify(notify.Danger, "Could not load messages", err.Error())
		return err
	}
	s.window.Replace(page)
	return nil
}

// LoadEarlier prepends the page older than the oldest loaded message. It
// returns the number of messages added.
func (s *Service) LoadEarlier(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return 0, ErrLoadInFlight
	}
	s.loading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	oldest, ok := s.window.Oldest()
	if !ok {
		return 0, ErrNoMessages
	}
	if s.window.Len() >= s.window.Capacity() {
		return 0, ErrWindowFull
	}
	page, err := s.history.Messages(ctx, oldest.Cursor())
	if err != nil {
		s.notifier.Notify(notify.Danger, "Could not load messages", err.Error())
		return 0, err
	}
	return s.window.Prepend(page), nil
}

// Loading reports whether an earlier page is being fetched.
func (s *Service) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Service) track(tempID, kind string) {
	s.mu.Lock()
	s.inFlight[tempID] = sentAt{kind: kind, at: s.now()}
	s.mu.Unlock()
}

func (s *Service) untrack(tempID string) {
	s.mu.Lock()
	delete(s.inFlight, tempID)
	s.mu.Unlock()
}
