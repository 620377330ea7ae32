package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.FrameReceived("message")
	c.FrameReceived("message")
	c.FrameReceived("reaction")
	c.FrameDropped()
	c.SendFailed("message")
	c.Reconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesReceived.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesReceived.WithLabelValues("reaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sendFailures.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
}

func TestCollectorRecordBeforeStartIsIgnored(t *testing.T) {
	c := NewCollector()
	c.ObserveConfirm("text", 5*time.Millisecond)
	c.Close()
	<-c.Done
	assert.Zero(t, c.Stats.TotalMessages)

	// after close as well
	c.ObserveConfirm("text", 5*time.Millisecond)
	c.Close()
}

func TestCollectorAggregatesAndWritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	c := NewCollector()
	require.NoError(t, c.Start(path))

	c.Connected()
	for i := 1; i <= 100; i++ {
		c.ObserveConfirm("text", time.Duration(i)*time.Millisecond)
	}
	c.Record(Record{Timestamp: time.Now(), Kind: "media", Status: StatusError})
	c.Reconnected()
	c.Close()
	<-c.Done

	assert.Equal(t, 101, c.Stats.TotalMessages)
	assert.Equal(t, 100, c.Stats.SuccessCount)
	assert.Equal(t, 1, c.Stats.FailCount)
	assert.Equal(t, 1, c.Stats.TotalConnections)
	assert.Equal(t, 1, c.Stats.RetryCount)
	assert.Equal(t, int64(1), c.Stats.MinLatency)
	assert.Equal(t, int64(100), c.Stats.MaxLatency)

	median, p95, p99 := c.CalculatePercentiles()
	assert.Equal(t, int64(51), median)
	assert.Equal(t, int64(96), p95)
	assert.Equal(t, int64(100), p99)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 102)
	assert.Equal(t, "timestamp,kind,latency_ms,status,session", lines[0])

	var out bytes.Buffer
	c.PrintSummary(&out)
	assert.Contains(t, out.String(), "Confirmed: 100")
	assert.Contains(t, out.String(), "text: 100")
	assert.NotContains(t, out.String(), "Session Distribution")
}

func TestSessionObserverLabelsRecords(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Start(""))
	c.Session("worker-0").ObserveConfirm("text", time.Millisecond)
	c.Session("worker-1").ObserveConfirm("text", time.Millisecond)
	c.Session("worker-1").ObserveConfirm("text", time.Millisecond)
	c.Close()
	<-c.Done

	assert.Equal(t, map[string]int{"worker-0": 1, "worker-1": 2}, c.Stats.SessionCounts)
	var out bytes.Buffer
	c.PrintSummary(&out)
	assert.Contains(t, out.String(), "--- Session Distribution ---")
	assert.Contains(t, out.String(), "worker-1: 2")
}

func TestGenerateChart(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Start(""))
	c.ObserveConfirm("text", time.Millisecond)
	c.Close()
	<-c.Done

	path := filepath.Join(t.TempDir(), "chart.html")
	require.NoError(t, c.GenerateChart(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Confirmed (msg/sec)")
}
