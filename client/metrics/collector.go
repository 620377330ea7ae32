package metrics

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record statuses
const (
	StatusOK      = "OK"
	StatusError   = "ERROR"
	StatusConnect = "CONN_NEW"
	StatusRetry   = "RETRY"
)

// Record is one measured round trip: an optimistic send until its confirmation
type Record struct {
	Timestamp time.Time
	Kind      string
	Latency   int64 // milliseconds
	Status    string
	Session   string
}

type Statistics struct {
	TotalMessages    int
	SuccessCount     int
	FailCount        int
	TotalConnections int
	RetryCount       int
	TotalLatency     int64
	MinLatency       int64
	MaxLatency       int64
	StartTime        time.Time
	EndTime          time.Time

	Latencies         []int64
	SessionCounts     map[string]int
	KindCounts        map[string]int
	ThroughputBuckets map[int64]int // unix time of a 10s bucket -> count
}

// Collector counts realtime traffic in a prometheus registry and, once
// started, aggregates latency records into Stats and an optional CSV file.
type Collector struct {
	registry       *prometheus.Registry
	framesReceived *prometheus.CounterVec
	framesDropped  prometheus.Counter
	framesSent     *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	reconnects     prometheus.Counter
	confirmLatency prometheus.Histogram

	mu      sync.Mutex
	started bool
	closed  bool
	records chan Record
	Done    chan struct{}

	csvFile   *os.File
	csvWriter *csv.Writer
	Stats     Statistics
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearchat",
			Name:      "frames_received_total",
			Help:      "Realtime frames received, by type.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nearchat",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded as unknown or malformed.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearchat",
			Name:      "frames_sent_total",
			Help:      "Realtime frames written, by type.",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nearchat",
			Name:      "send_failures_total",
			Help:      "Outbound frames that could not be written, by type.",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nearchat",
			Name:      "reconnects_total",
			Help:      "Successful dials after the first one.",
		}),
		confirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nearchat",
			Name:      "confirm_latency_seconds",
			Help:      "Time from optimistic send to server confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		records: make(chan Record, 10000),
		Done:    make(chan struct{}),
		Stats: Statistics{
			MinLatency:        1<<63 - 1,
			SessionCounts:     make(map[string]int),
			KindCounts:        make(map[string]int),
			ThroughputBuckets: make(map[int64]int),
		},
	}
	c.registry.MustRegister(c.framesReceived, c.framesDropped, c.framesSent, c.sendFailures, c.reconnects, c.confirmLatency)
	return c
}

// Registry exposes the collector's metrics for scraping or inspection.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) FrameReceived(frameType string) {
	c.framesReceived.WithLabelValues(frameType).Inc()
}

func (c *Collector) FrameDropped() {
	c.framesDropped.Inc()
}

func (c *Collector) FrameSent(frameType string) {
	c.framesSent.WithLabelValues(frameType).Inc()
}

func (c *Collector) SendFailed(frameType string) {
	c.sendFailures.WithLabelValues(frameType).Inc()
}

func (c *Collector) Reconnected() {
	c.reconnects.Inc()
	c.Record(Record{Status: StatusRetry})
}

func (c *Collector) Connected() {
	c.Record(Record{Status: StatusConnect})
}

// ObserveConfirm records the latency of one confirmed optimistic send.
func (c *Collector) ObserveConfirm(kind string, d time.Duration) {
	c.observeConfirm(kind, d, "")
}

func (c *Collector) observeConfirm(kind string, d time.Duration, session string) {
	c.confirmLatency.Observe(d.Seconds())
	c.Record(Record{
		Timestamp: time.Now(),
		Kind:      kind,
		Latency:   d.Milliseconds(),
		Status:    StatusOK,
		Session:   session,
	})
}

// SessionObserver tags confirmations with the session they happened on
type SessionObserver struct {
	c     *Collector
	label string
}

// Session returns an observer whose records carry label.
func (c *Collector) Session(label string) *SessionObserver {
	return &SessionObserver{c: c, label: label}
}

func (s *SessionObserver) ObserveConfirm(kind string, d time.Duration) {
	s.c.observeConfirm(kind, d, s.label)
}

// Start begins aggregating records. When csvPath is not empty every record is
// also written there.
func (c *Collector) Start(csvPath string) error {
	if csvPath != "" {
		file, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("failed to create results file: %w", err)
		}
		c.csvFile = file
		c.csvWriter = csv.NewWriter(file)
		c.csvWriter.Write([]string{"timestamp", "kind", "latency_ms", "status", "session"})
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.Stats.StartTime = time.Now()
	go func() {
		for r := range c.records {
			c.aggregate(r)
		}
		if c.csvWriter != nil {
			c.csvWriter.Flush()
			c.csvFile.Close()
		}
		c.Stats.EndTime = time.Now()
		close(c.Done)
	}()
	return nil
}

// Record queues r for aggregation. It is a no-op until Start and after Close.
func (c *Collector) Record(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.closed {
		return
	}
	c.records <- r
}

// Close stops aggregation; Done is closed once every queued record is counted.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.started {
		close(c.records)
	} else {
		close(c.Done)
	}
}

func (c *Collector) aggregate(r Record) {
	switch r.Status {
	case StatusConnect:
		c.Stats.TotalConnections++
		return
	case StatusRetry:
		c.Stats.RetryCount++
		return
	}

	c.Stats.TotalMessages++
	if r.Status == StatusOK {
		c.Stats.SuccessCount++
		c.Stats.TotalLatency += r.Latency
		if r.Latency < c.Stats.MinLatency {
			c.Stats.MinLatency = r.Latency
		}
		if r.Latency > c.Stats.MaxLatency {
			c.Stats.MaxLatency = r.Latency
		}
		c.Stats.Latencies = append(c.Stats.Latencies, r.Latency)
		c.Stats.SessionCounts[r.Session]++
		c.Stats.KindCounts[r.Kind]++
		bucket := r.Timestamp.Unix() / 10 * 10
		c.Stats.ThroughputBuckets[bucket]++
	} else {
		c.Stats.FailCount++
	}

	if c.csvWriter != nil {
		c.csvWriter.Write([]string{
			r.Timestamp.Format(time.RFC3339),
			r.Kind,
			strconv.FormatInt(r.Latency, 10),
			r.Status,
			r.Session,
		})
	}
}

// CalculatePercentiles must only be called after Done is closed.
func (c *Collector) CalculatePercentiles() (median, p95, p99 int64) {
	if len(c.Stats.Latencies) == 0 {
		return 0, 0, 0
	}
	sort.Slice(c.Stats.Latencies, func(i, j int) bool {
		return c.Stats.Latencies[i] < c.Stats.Latencies[j]
	})

	n := len(c.Stats.Latencies)
	median = c.Stats.Latencies[n/2]
	p95 = c.Stats.Latencies[int(float64(n)*0.95)]
	p99 = c.Stats.Latencies[int(float64(n)*0.99)]
	return
}

func (c *Collector) PrintSummary(w io.Writer) {
	duration := c.Stats.EndTime.Sub(c.Stats.StartTime).Seconds()
	var throughput, avgLatency float64
	if duration > 0 {
		throughput = float64(c.Stats.SuccessCount) / duration
	}
	if c.Stats.SuccessCount > 0 {
		avgLatency = float64(c.Stats.TotalLatency) / float64(c.Stats.SuccessCount)
	}
	minLatency := c.Stats.MinLatency
	if c.Stats.SuccessCount == 0 {
		minLatency = 0
	}
	median, p95, p99 := c.CalculatePercentiles()

	fmt.Fprintln(w, "========= Soak Results =========")
	fmt.Fprintf(w, "Total Duration: %.2f seconds\n", duration)
	fmt.Fprintf(w, "Total Messages: %d\n", c.Stats.TotalMessages)
	fmt.Fprintf(w, "Confirmed: %d\n", c.Stats.SuccessCount)
	fmt.Fprintf(w, "Failed: %d\n", c.Stats.FailCount)
	fmt.Fprintf(w, "Throughput: %.2f msg/sec\n", throughput)
	fmt.Fprintf(w, "Total Connections: %d\n", c.Stats.TotalConnections)
	fmt.Fprintf(w, "Total Reconnects: %d\n", c.Stats.RetryCount)
	fmt.Fprintf(w, "Avg Confirm Latency: %.2f ms\n", avgLatency)
	fmt.Fprintf(w, "Min Confirm Latency: %d ms\n", minLatency)
	fmt.Fprintf(w, "Max Confirm Latency: %d ms\n", c.Stats.MaxLatency)
	fmt.Fprintf(w, "Median Confirm Latency: %d ms\n", median)
	fmt.Fprintf(w, "P95 Confirm Latency: %d ms\n", p95)
	fmt.Fprintf(w, "P99 Confirm Latency: %d ms\n", p99)

	fmt.Fprintln(w, "\n--- Message Kind Distribution ---")
	kinds := make([]string, 0, len(c.Stats.KindCounts))
	for k := range c.Stats.KindCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "%s: %d\n", k, c.Stats.KindCounts[k])
	}

	sessions := make([]string, 0, len(c.Stats.SessionCounts))
	labeled := false
	for s := range c.Stats.SessionCounts {
		sessions = append(sessions, s)
		labeled = labeled || s != ""
	}
	if labeled {
		fmt.Fprintln(w, "\n--- Session Distribution ---")
		sort.Strings(sessions)
		for _, s := range sessions {
			name := s
			if name == "" {
				name = "(unlabeled)"
			}
			fmt.Fprintf(w, "%s: %d\n", name, c.Stats.SessionCounts[s])
		}
	}
	fmt.Fprintln(w, "================================")
}

// GenerateChart writes an HTML throughput chart of confirmed messages.
func (c *Collector) GenerateChart(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	var labels []string
	var data []int

	var buckets []int64
	for k := range c.Stats.ThroughputBuckets {
		buckets = append(buckets, k)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	for _, b := range buckets {
		labels = append(labels, time.Unix(b, 0).Format("15:04:05"))
		data = append(data, c.Stats.ThroughputBuckets[b]/10)
	}

	t, err := template.New("chart").Parse(chartTemplate)
	if err != nil {
		return err
	}
	return t.Execute(f, struct {
		Labels []string
		Data   []int
	}{
		Labels: labels,
		Data:   data,
	})
}

const chartTemplate = `
<!DOCTYPE html>
<html>
<head>
    <title>Confirmed Messages</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
</head>
<body>
    <div style="width: 80%; margin: auto;">
        <canvas id="chart"></canvas>
    </div>
    <script>
        const ctx = document.getElementById('chart').getContext('2d');
        new Chart(ctx, {
            type: 'line',
            data: {
                labels: {{.Labels}},
                datasets: [{
                    label: 'Confirmed (msg/sec)',
                    data: {{.Data}},
                    borderColor: 'rgb(75, 192, 192)',
                    tension: 0.1
                }]
            },
            options: { scales: { y: { beginAtZero: true } } }
        });
    </script>
</body>
</html>`
