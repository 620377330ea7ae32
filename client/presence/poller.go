package presence

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nearchat/client/model"
)

// DefaultInterval is the time between two nearby-user requests
const DefaultInterval = 5 * time.Second

// Sender writes one realtime frame
type Sender interface {
	Send(ctx context.Context, frame model.Outbound) error
}

// Poller asks the server for nearby users while its context is alive. The
// answer arrives asynchronously as a nearbyUsers frame.
type Poller struct {
	sender   Sender
	interval time.Duration
	log      *logrus.Entry
}

func NewPoller(sender Sender, interval time.Duration, log *logrus.Entry) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.WithField("component", "presence")
	}
	return &Poller{sender: sender, interval: interval, log: log}
}

// Run requests a refresh immediately and then on every tick until ctx is done.
// Failed requests are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.request(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.request(ctx)
		}
	}
}

func (p *Poller) request(ctx context.Context) {
	if err := p.sender.Send(ctx, model.RequestNearbyUsers{}); err != nil {
		p.log.WithError(err).Debug("nearby users request failed")
	}
}

// ReportLocations forwards positions from src as updateLocation frames until
// ctx is done or src is closed.
func ReportLocations(ctx context.Context, sender Sender, src <-chan model.Coordinates, log *logrus.Entry) {
	if log == nil {
		log = logrus.WithField("component", "presence")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-src:
			if !ok {
				return
			}
			if err := sender.Send(ctx, model.UpdateLocation{Coordinates: c}); err != nil {
				log.WithError(err).Debug("location update failed")
			}
		}
	}
}
