package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"nearchat/client/chat"
	"nearchat/client/generator"
	"nearchat/client/metrics"
	"nearchat/client/session"
)

const (
	DefaultConfirmTimeout = 5 * time.Second
	maxTries              = 6
	connectTimeout        = 10 * time.Second
)

var ErrNotConfirmed = errors.New("message was not confirmed in time")

// Endpoint is one live chat connection a worker drives
type Endpoint struct {
	Chat      *chat.Service
	Run       func(ctx context.Context) error
	Connected func() bool
}

// FromSession adapts an opened session.
func FromSession(s *session.Session) Endpoint {
	return Endpoint{Chat: s.Chat, Run: s.Run, Connected: s.Realtime.Connected}
}

// Opener creates the endpoint of one worker. label names the worker in
// metrics records.
type Opener func(ctx context.Context, label string) (Endpoint, error)

// SessionLabel names the session of worker id.
func SessionLabel(id int) string {
	return fmt.Sprintf("worker-%d", id)
}

type Worker struct {
	ID             int
	Input          <-chan generator.Job
	Collector      *metrics.Collector
	ConfirmTimeout time.Duration
	log            *logrus.Entry

	lastConfirmed string
}

func NewWorker(id int, input <-chan generator.Job, collector *metrics.Collector, log *logrus.Entry) *Worker {
	return &Worker{
		ID:             id,
		Input:          input,
		Collector:      collector,
		ConfirmTimeout: DefaultConfirmTimeout,
		log:            log.WithField("worker", id),
	}
}

// Run consumes jobs on ep until Input is closed or ctx is done.
func (w *Worker) Run(ctx context.Context, ep Endpoint) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ep.Run(runCtx)

	if err := waitConnected(ctx, ep.Connected); err != nil {
		return fmt.Errorf("worker %d: %w", w.ID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-w.Input:
			if !ok {
				return nil
			}
			w.process(ctx, ep.Chat, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, svc *chat.Service, job generator.Job) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.RandomizationFactor = 0

	start := time.Now()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		var err error
		if job.Kind == generator.KindReaction {
			err = w.react(ctx, svc, job)
		} else {
			err = w.sendAndConfirm(ctx, svc, job)
		}
		if err != nil {
			w.log.WithError(err).WithField("seq", job.Seq).Debug("soak job failed")
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))

	switch {
	case err != nil:
		w.Collector.Record(metrics.Record{
			Timestamp: start,
			Kind:      job.Kind,
			Status:    metrics.StatusError,
			Session:   w.session(),
		})
	case job.Kind == generator.KindReaction:
		w.Collector.Record(metrics.Record{
			Timestamp: start,
			Kind:      job.Kind,
			Latency:   time.Since(start).Milliseconds(),
			Status:    metrics.StatusOK,
			Session:   w.session(),
		})
	}
}

// sendAndConfirm sends text and waits for the server echo to replace the
// pending entry. The confirmation latency is observed by the chat service.
func (w *Worker) sendAndConfirm(ctx context.Context, svc *chat.Service, job generator.Job) error {
	window := svc.Window()
	changed := make(chan struct{}, 1)
	unsubscribe := window.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	msg, err := svc.SendText(ctx, job.Text)
	if err != nil {
		return err
	}

	timer := time.NewTimer(w.ConfirmTimeout)
	defer timer.Stop()
	for {
		if id, ok := confirmedID(window, msg.TempID); ok {
			w.lastConfirmed = id
			return nil
		}
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-timer.C:
			return ErrNotConfirmed
		case <-changed:
		}
	}
}

func (w *Worker) react(ctx context.Context, svc *chat.Service, job generator.Job) error {
	if w.lastConfirmed == "" {
		return backoff.Permanent(errors.New("no confirmed message to react to"))
	}
	return svc.React(ctx, w.lastConfirmed, job.Emoji)
}

func (w *Worker) session() string {
	return SessionLabel(w.ID)
}

func confirmedID(window *chat.Window, tempID string) (string, bool) {
	for _, m := range window.Messages() {
		if m.TempID == tempID && !m.Pending {
			return m.ID, true
		}
	}
	return "", false
}

func waitConnected(ctx context.Context, connected func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("realtime connection not established: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Pool runs NumWorkers workers over a shared job stream, each on its own
// endpoint.
type Pool struct {
	NumWorkers int
	Input      <-chan generator.Job
	Collector  *metrics.Collector
	Open       Opener
	Log        *logrus.Entry
}

func NewPool(numWorkers int, input <-chan generator.Job, collector *metrics.Collector, open Opener) *Pool {
	return &Pool{
		NumWorkers: numWorkers,
		Input:      input,
		Collector:  collector,
		Open:       open,
		Log:        logrus.WithField("component", "soak"),
	}
}

// Run blocks until every worker has drained the input. Workers that cannot
// open or connect are reported in the returned error; the others keep going.
func (p *Pool) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < p.NumWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ep, err := p.Open(ctx, SessionLabel(id))
			if err == nil {
				err = NewWorker(id, p.Input, p.Collector, p.Log).Run(ctx, ep)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				p.Log.WithError(err).WithField("worker", id).Warn("soak worker stopped")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}
