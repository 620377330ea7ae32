package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearchat/client/chat"
	"nearchat/client/generator"
	"nearchat/client/metrics"
	"nearchat/client/model"
)

// echoSender confirms every text frame asynchronously, like the server does.
type echoSender struct {
	svc       atomic.Pointer[chat.Service]
	seq       atomic.Int32
	dropFirst atomic.Int32
	reactions atomic.Int32
}

func (e *echoSender) Send(_ context.Context, frame model.Outbound) error {
	switch f := frame.(type) {
	case model.SendMessage:
		e.seq.Add(1)
		if e.dropFirst.Load() > 0 && e.dropFirst.Add(-1) >= 0 {
			return nil
		}
		go e.svc.Load().HandleMessage(model.Message{
			ID:        "srv-" + f.TempID,
			TempID:    f.TempID,
			Text:      f.Message,
			CreatedAt: time.Now(),
		})
	case model.SendReaction:
		e.reactions.Add(1)
	}
	return nil
}

func newEndpoint(observer chat.ConfirmObserver, sender *echoSender) Endpoint {
	svc := chat.NewService(chat.NewWindow(0), model.Sender{ID: "me"}, chat.Options{
		Sender:   sender,
		Observer: observer,
	})
	sender.svc.Store(svc)
	return Endpoint{
		Chat:      svc,
		Run:       func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
		Connected: func() bool { return true },
	}
}

func TestPoolDrainsJobsAndRecordsConfirmations(t *testing.T) {
	collector := metrics.NewCollector()
	require.NoError(t, collector.Start(""))

	jobs := make(chan generator.Job, 40)
	for i := 0; i < 40; i++ {
		jobs <- generator.Job{Seq: i, Kind: generator.KindText, Text: "hi"}
	}
	close(jobs)

	p := NewPool(4, jobs, collector, func(_ context.Context, label string) (Endpoint, error) {
		return newEndpoint(collector.Session(label), &echoSender{}), nil
	})
	require.NoError(t, p.Run(context.Background()))

	collector.Close()
	<-collector.Done
	assert.Equal(t, 40, collector.Stats.SuccessCount)
	assert.Zero(t, collector.Stats.FailCount)

	total := 0
	for label, n := range collector.Stats.SessionCounts {
		assert.Contains(t, []string{"worker-0", "worker-1", "worker-2", "worker-3"}, label)
		total += n
	}
	assert.Equal(t, 40, total)
}

func TestWorkerRetriesUnconfirmedSend(t *testing.T) {
	collector := metrics.NewCollector()
	require.NoError(t, collector.Start(""))

	sender := &echoSender{}
	sender.dropFirst.Store(1)
	ep := newEndpoint(collector, sender)

	jobs := make(chan generator.Job, 2)
	jobs <- generator.Job{Kind: generator.KindText, Text: "first"}
	jobs <- generator.Job{Seq: 1, Kind: generator.KindReaction, Emoji: "🔥"}
	close(jobs)

	w := NewWorker(0, jobs, collector, logrus.WithField("component", "soak"))
	w.ConfirmTimeout = 50 * time.Millisecond
	require.NoError(t, w.Run(context.Background(), ep))

	assert.Equal(t, int32(2), sender.seq.Load(), "one dropped attempt and one confirmed retry")
	assert.Equal(t, int32(1), sender.reactions.Load())

	collector.Close()
	<-collector.Done
	assert.Equal(t, 2, collector.Stats.SuccessCount)
	assert.Equal(t, 1, collector.Stats.KindCounts[generator.KindReaction])
}

func TestReactionWithoutConfirmedMessageFails(t *testing.T) {
	collector := metrics.NewCollector()
	require.NoError(t, collector.Start(""))

	sender := &echoSender{}
	jobs := make(chan generator.Job, 1)
	jobs <- generator.Job{Kind: generator.KindReaction, Emoji: "👍"}
	close(jobs)

	w := NewWorker(3, jobs, collector, logrus.WithField("component", "soak"))
	require.NoError(t, w.Run(context.Background(), newEndpoint(collector, sender)))
	assert.Zero(t, sender.reactions.Load())

	collector.Close()
	<-collector.Done
	assert.Equal(t, 1, collector.Stats.FailCount)
	assert.Zero(t, collector.Stats.SuccessCount)
}

func TestPoolReportsOpenFailures(t *testing.T) {
	collector := metrics.NewCollector()
	jobs := make(chan generator.Job)
	close(jobs)

	p := NewPool(2, jobs, collector, func(context.Context, string) (Endpoint, error) {
		return Endpoint{}, errors.New("login required")
	})
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login required")
}
