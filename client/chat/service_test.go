package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearchat/client/model"
	"nearchat/client/notify"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []model.Outbound
	err    error
}

func (f *fakeSender) Send(_ context.Context, frame model.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

type fakeHistory struct {
	pages   map[string][]model.Message
	cursors []string
	block   chan struct{}
	err     error
}

func (f *fakeHistory) Messages(_ context.Context, cursor string) ([]model.Message, error) {
	f.cursors = append(f.cursors, cursor)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[cursor], nil
}

type memRecent struct{ list []string }

func (m *memRecent) RecentReactions() ([]string, error) { return m.list, nil }
func (m *memRecent) PushRecentReaction(e string) error {
	m.list = append([]string{e}, m.list...)
	return nil
}

type observed struct {
	kind string
	d    time.Duration
}

type fakeObserver struct{ got []observed }

func (f *fakeObserver) ObserveConfirm(kind string, d time.Duration) {
	f.got = append(f.got, observed{kind, d})
}

func newTestService(sender FrameSender, history HistoryClient) (*Service, *notify.Recorder, *fakeObserver, *time.Time) {
	now := t0
	rec := &notify.Recorder{}
	obs := &fakeObserver{}
	svc := NewService(NewWindow(0), model.Sender{ID: "me", Name: "Me"}, Options{
		Sender:   sender,
		History:  history,
		Recent:   &memRecent{},
		Notifier: rec,
		Observer: obs,
		Now:      func() time.Time { return now },
		NewID:    func() string { return "abc123" },
	})
	return svc, rec, obs, &now
}

func TestSendTextThenConfirm(t *testing.T) {
	sender := &fakeSender{}
	svc, _, obs, now := newTestService(sender, nil)

	msg, err := svc.SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "abc123", msg.ID)
	assert.True(t, msg.Pending)

	require.Len(t, sender.frames, 1)
	assert.Equal(t, model.SendMessage{Kind: model.MessageKindText, Message: "hello", TempID: "abc123"}, sender.frames[0])

	local := *now
	*now = now.Add(250 * time.Millisecond)
	svc.HandleMessage(model.Message{ID: "srv1", TempID: "abc123", Text: "hello", CreatedAt: local.Add(time.Hour)})

	msgs := svc.Window().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv1", msgs[0].ID)
	assert.False(t, msgs[0].Pending)
	assert.True(t, msgs[0].CreatedAt.Equal(local))

	require.Len(t, obs.got, 1)
	assert.Equal(t, observed{model.MessageKindText, 250 * time.Millisecond}, obs.got[0])

	// a replayed confirmation is not measured twice
	svc.HandleMessage(model.Message{ID: "srv1", TempID: "abc123", Text: "hello"})
	assert.Len(t, obs.got, 1)
	assert.Equal(t, 1, svc.Window().Len())
}

func TestSendTextRejectsBlank(t *testing.T) {
	sender := &fakeSender{}
	svc, _, _, _ := newTestService(sender, nil)

	_, err := svc.SendText(context.Background(), "  \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, svc.Window().Len())
	assert.Empty(t, sender.frames)
}

func TestSendFailureKeepsPendingEntry(t *testing.T) {
	sender := &fakeSender{err: errors.New("not connected")}
	svc, rec, _, _ := newTestService(sender, nil)

	_, err := svc.SendText(context.Background(), "hello")
	require.Error(t, err)

	got, ok := svc.Window().Get("abc123")
	require.True(t, ok)
	assert.True(t, got.Pending)

	notices := rec.All()
	require.Len(t, notices, 1)
	assert.Equal(t, notify.Danger, notices[0].Level)
}

func TestSendMediaEncodesBase64(t *testing.T) {
	sender := &fakeSender{}
	svc, _, _, _ := newTestService(sender, nil)

	msg, err := svc.SendMedia(context.Background(), strings.NewReader("\x89PNG binary"), "image/png")
	require.NoError(t, err)
	assert.True(t, msg.HasMedia())

	require.Len(t, sender.frames, 1)
	frame := sender.frames[0].(model.SendMessage)
	assert.Equal(t, model.MessageKindMedia, frame.Kind)
	assert.Equal(t, "image/png", frame.ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("\x89PNG binary")), frame.Base64)
	assert.Equal(t, "abc123", frame.TempID)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestSendMediaReadFailureToasts(t *testing.T) {
	sender := &fakeSender{}
	svc, rec, _, _ := newTestService(sender, nil)

	_, err := svc.SendMedia(context.Background(), failingReader{}, "image/jpeg")
	require.Error(t, err)
	assert.Empty(t, sender.frames)
	assert.Len(t, rec.All(), 1)

	got, ok := svc.Window().Get("abc123")
	require.True(t, ok)
	assert.True(t, got.Pending)
}

func TestReactRecordsRecent(t *testing.T) {
	sender := &fakeSender{}
	svc, _, _, _ := newTestService(sender, nil)

	require.NoError(t, svc.React(context.Background(), "m1", "1f44d"))
	require.NoError(t, svc.React(context.Background(), "m1", "1f525"))

	assert.Equal(t, []string{"1f525", "1f44d"}, svc.RecentReactions())
	assert.Equal(t, model.SendReaction{ID: "m1", Emoji: "1f525"}, sender.frames[1])
}

func TestHandleReaction(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeSender{}, nil)
	svc.HandleMessage(msgAt("m1", t0))
	svc.HandleReaction("m1", model.Reactions{"x": {{Emoji: "x"}}})
	svc.HandleReaction("m1", model.Reactions{"y": {{Emoji: "y"}}})
	svc.HandleReaction("gone", model.Reactions{})

	got, _ := svc.Window().Get("m1")
	assert.Equal(t, 2, got.Update)
	assert.Contains(t, got.Reactions, "y")
	assert.NotContains(t, got.Reactions, "x")
}

func TestLoadInitialAndEarlier(t *testing.T) {
	history := &fakeHistory{pages: map[string][]model.Message{
		"": {msgAt("m4", t0.Add(4)), {ID: "m3", MessageID: "c3", CreatedAt: t0.Add(3)}},
		"c3": {msgAt("m2", t0.Add(2)), msgAt("m1", t0.Add(1))},
	}}
	svc, _, _, _ := newTestService(&fakeSender{}, history)

	require.NoError(t, svc.LoadInitial(context.Background()))
	assert.Equal(t, 2, svc.Window().Len())

	n, err := svc.LoadEarlier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"", "c3"}, history.cursors)

	var ids []string
	for _, m := range svc.Window().Sorted() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m4", "m3", "m2", "m1"}, ids)
}

func TestLoadEarlierEmptyWindow(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeSender{}, &fakeHistory{})
	_, err := svc.LoadEarlier(context.Background())
	assert.ErrorIs(t, err, ErrNoMessages)
	assert.False(t, svc.Loading())
}

func TestLoadEarlierStopsAtCapacity(t *testing.T) {
	history := &fakeHistory{}
	svc, _, _, _ := newTestService(&fakeSender{}, history)
	for i := 0; i < svc.Window().Capacity(); i++ {
		svc.HandleMessage(msgAt(fmt.Sprintf("m%d", i), t0.Add(time.Duration(i))))
	}

	n, err := svc.LoadEarlier(context.Background())
	assert.ErrorIs(t, err, ErrWindowFull)
	assert.Zero(t, n)
	assert.Empty(t, history.cursors, "no request once nothing older can be kept")
	assert.False(t, svc.Loading())
}

func TestLoadEarlierRejectsConcurrentFetch(t *testing.T) {
	history := &fakeHistory{block: make(chan struct{})}
	svc, _, _, _ := newTestService(&fakeSender{}, history)
	svc.HandleMessage(msgAt("m1", t0))

	done := make(chan error, 1)
	go func() {
		_, err := svc.LoadEarlier(context.Background())
		done <- err
	}()

	require.Eventually(t, svc.Loading, time.Second, time.Millisecond)
	_, err := svc.LoadEarlier(context.Background())
	assert.ErrorIs(t, err, ErrLoadInFlight)

	close(history.block)
	require.NoError(t, <-done)
	assert.False(t, svc.Loading())
}

func TestLoadFailureNotifies(t *testing.T) {
	svc, rec, _, _ := newTestService(&fakeSender{}, &fakeHistory{err: errors.New("boom")})
	require.Error(t, svc.LoadInitial(context.Background()))
	assert.Len(t, rec.All(), 1)
}
