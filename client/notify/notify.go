package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is the severity of a user-facing notice
type Level int

const (
	Info Level = iota
	Success
	Danger
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Danger:
		return "error"
	default:
		return "info"
	}
}

// Notifier shows transient notices (the toast of a mobile UI)
type Notifier interface {
	Notify(level Level, title, body string)
}

// Func adapts a plain function to Notifier
type Func func(level Level, title, body string)

func (f Func) Notify(level Level, title, body string) { f(level, title, body) }

// Discard drops every notice.
var Discard Notifier = Func(func(Level, string, string) {})

// Writer prints notices as single lines and mirrors them to the debug log
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	log *logrus.Entry
}

func NewWriter(out io.Writer, log *logrus.Entry) *Writer {
	if out == nil {
		out = os.Stderr
	}
	if log == nil {
		log = logrus.WithField("component", "notify")
	}
	return &Writer{out: out, log: log}
}

func (w *Writer) Notify(level Level, title, body string) {
	w.mu.Lock()
	fmt.Fprintf(w.out, "[%s] %s: %s\n", level, title, body)
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{"level_hint": level.String(), "title": title}).Debug(body)
}

// Recorder keeps notices in memory
type Recorder struct {
	mu      sync.Mutex
	Notices []Notice
}

// Notice is one recorded notification
type Notice struct {
	Level Level
	Title string
	Body  string
}

func (r *Recorder) Notify(level Level, title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, Notice{Level: level, Title: title, Body: body})
}

// All returns a copy of the recorded notices.
func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.Notices...)
}
