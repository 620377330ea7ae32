package handler

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"nearchat/server/room"
)

// Metrics are the backend's prometheus collectors
type Metrics struct {
	requests *prometheus.CounterVec
	frames   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, chat *room.Room) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearchat",
			Subsystem: "server",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearchat",
			Subsystem: "server",
			Name:      "frames_total",
			Help:      "Inbound websocket frames by type and outcome.",
		}, []string{"type", "result"}),
	}
	connections := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "nearchat",
		Subsystem: "server",
		Name:      "connections",
		Help:      "Connected websocket clients.",
	}, func() float64 { return float64(chat.Count()) })
	reg.MustRegister(m.requests, m.frames, connections)
	return m
}

func (m *Metrics) frame(frameType, result string) {
	m.frames.WithLabelValues(frameType, result).Inc()
}

// statusRecorder keeps the response status. It forwards Hijack so websocket
// upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// observe logs and counts every routed request.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		a.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
