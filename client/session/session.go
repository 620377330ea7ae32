package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nearchat/client/api"
	"nearchat/client/chat"
	"nearchat/client/metrics"
	"nearchat/client/model"
	"nearchat/client/notify"
	"nearchat/client/presence"
	"nearchat/client/profile"
	"nearchat/client/realtime"
)

// Deps are the collaborators shared by every session of an App
type Deps struct {
	WSURL     string
	Transport api.Transport
	Recent    chat.RecentStore
	Metrics   *metrics.Collector
	Notifier  notify.Notifier
	Log       *logrus.Entry

	WindowCapacity  int
	PollInterval    time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	OnStateChange   func(connected bool)
}

// Session is everything that lives as long as one authenticated connection.
type Session struct {
	User     model.User
	Window   *chat.Window
	Chat     *chat.Service
	Nearby   *presence.List
	Poller   *presence.Poller
	Realtime *realtime.Manager
	Gallery  *profile.Gallery
	Editor   *profile.Editor
	Viewer   *profile.Viewer
}

// Open wires a Session for the signed-in user. Nothing runs until Run.
func (a *App) Open(ctx context.Context) (*Session, error) {
	return a.OpenAs(ctx, "")
}

// OpenAs is Open with confirmation latencies tagged with label in the
// metrics collector.
func (a *App) OpenAs(ctx context.Context, label string) (*Session, error) {
	user, ok := a.User()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	d := a.deps
	log := d.Log.WithField("user_id", user.ID)

	s := &Session{
		User:   user,
		Window: chat.NewWindow(d.WindowCapacity),
		Nearby: presence.NewList(),
	}

	var rtMetrics realtime.Metrics
	var observer chat.ConfirmObserver
	if d.Metrics != nil {
		rtMetrics = d.Metrics
		observer = d.Metrics
		if label != "" {
			observer = d.Metrics.Session(label)
		}
	}

	var svc *chat.Service
	s.Realtime = realtime.NewManager(realtime.Options{
		URL:       d.WSURL,
		Tokens:    a.tokens,
		Transport: d.Transport,
		Metrics:   rtMetrics,
		Log:       log.WithField("component", "realtime"),
		Handlers: realtime.Handlers{
			OnMessage:     func(m model.Message) { svc.HandleMessage(m) },
			OnReaction:    func(id string, r model.Reactions) { svc.HandleReaction(id, r) },
			OnNearbyUsers: s.Nearby.Replace,
		},
		OnStateChange:   d.OnStateChange,
		MaxRetries:      d.MaxRetries,
		InitialInterval: d.InitialInterval,
	})

	svc = chat.NewService(s.Window, user.Sender(), chat.Options{
		Sender:   s.Realtime,
		History:  a.client,
		Recent:   d.Recent,
		Notifier: a.notifier,
		Observer: observer,
		Log:      log.WithField("component", "chat"),
	})
	s.Chat = svc

	s.Poller = presence.NewPoller(s.Realtime, d.PollInterval, log.WithField("component", "presence"))
	s.Gallery = profile.NewGallery(a.client, user.ID, a.notifier, log.WithField("component", "profile"))
	s.Editor = profile.NewEditor(a.client, a.notifier)
	s.Viewer = profile.NewViewer(a.client)
	return s, nil
}

// Run keeps the realtime connection alive until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.Realtime.Run(ctx)
}
