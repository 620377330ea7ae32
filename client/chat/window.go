package chat

import (
	"sort"
	"sync"

	"nearchat/client/model"
)

// DefaultCapacity is the number of messages kept in memory
const DefaultCapacity = 50

// Window is the in-memory message list shared by every chat view.
// Entries are kept in insertion position: index 0 is the oldest and is the
// first to be evicted. Presentation order is computed by Sorted.
type Window struct {
	mu       sync.RWMutex
	capacity int
	msgs     []model.Message

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		subs:     make(map[int]func()),
	}
}

// Capacity returns the maximum number of entries.
func (w *Window) Capacity() int {
	return w.capacity
}

// Len returns the current number of entries.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.msgs)
}

// Get returns the entry with the given id.
func (w *Window) Get(id string) (model.Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if i := w.indexOf(id); i >= 0 {
		return w.msgs[i].Clone(), true
	}
	return model.Message{}, false
}

// Messages returns a copy in insertion order.
func (w *Window) Messages() []model.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Message, len(w.msgs))
	for i, m := range w.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Sorted returns a copy ordered by creation time, newest first. Entries with
// equal timestamps keep the later-inserted one first.
func (w *Window) Sorted() []model.Message {
	w.mu.RLock()
	out := make([]model.Message, len(w.msgs))
	for i, m := range w.msgs {
		out[len(w.msgs)-1-i] = m.Clone()
	}
	w.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Oldest returns the entry at the front of the window.
func (w *Window) Oldest() (model.Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.msgs) == 0 {
		return model.Message{}, false
	}
	return w.msgs[0].Clone(), true
}

// AddPending appends an optimistic entry. The message id is its temporary id.
func (w *Window) AddPending(msg model.Message) {
	msg = msg.Clone()
	msg.Pending = true
	if msg.TempID == "" {
		msg.TempID = msg.ID
	}

	w.mu.Lock()
	w.appendLocked(msg)
	w.mu.Unlock()
	w.notify()
}

// ApplyMessage reconciles a message pushed by the server. It reports whether
// an existing entry was replaced rather than a new one appended.
func (w *Window) ApplyMessage(msg model.Message) bool {
	msg = msg.Clone()
	msg.Pending = false

	w.mu.Lock()
	replaced := false
	i := -1
	if msg.TempID != "" {
		i = w.indexOfTemp(msg.TempID)
	}
	if i < 0 {
		i = w.indexOf(msg.ID)
	}
	if i >= 0 {
		prev := w.msgs[i]
		msg.CreatedAt = prev.CreatedAt
		msg.Update = prev.Update
		if msg.TempID == "" {
			msg.TempID = prev.TempID
		}
		w.msgs[i] = msg
		replaced = true
	} else {
		w.appendLocked(msg)
	}
	w.mu.Unlock()
	w.notify()
	return replaced
}

// ApplyReaction replaces the reaction mapping of a confirmed message and bumps
// its update counter. It reports false when the message is not in the window.
func (w *Window) ApplyReaction(id string, reactions model.Reactions) bool {
	w.mu.Lock()
	i := w.indexOf(id)
	if i < 0 {
		w.mu.Unlock()
		return false
	}
	w.msgs[i].Reactions = reactions.Clone()
	w.msgs[i].Update++
	w.mu.Unlock()
	w.notify()
	return true
}

// Replace drops everything and loads a fresh page, newest first as the
// history endpoint returns it. Only the newest entries that fit are kept.
func (w *Window) Replace(page []model.Message) {
	w.mu.Lock()
	w.msgs = w.msgs[:0]
	seen := make(map[string]struct{}, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m = m.Clone()
		m.Pending = false
		w.appendLocked(m)
	}
	w.mu.Unlock()
	w.notify()
}

// Prepend inserts an older page in front of the window. Messages already
// present (by id or temporary id) are skipped. When the page does not fit,
// its oldest part is dropped. It returns the number of entries inserted.
func (w *Window) Prepend(page []model.Message) int {
	w.mu.Lock()
	room := w.capacity - len(w.msgs)
	var fresh []model.Message
	seen := make(map[string]struct{}, len(page))
	// page is newest first; walk it so the newest older messages win the room left
	for _, m := range page {
		if room <= 0 {
			break
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if w.indexOf(m.ID) >= 0 || (m.TempID != "" && w.indexOfTemp(m.TempID) >= 0) {
			continue
		}
		seen[m.ID] = struct{}{}
		m = m.Clone()
		m.Pending = false
		fresh = append(fresh, m)
		room--
	}
	if len(fresh) > 0 {
		front := make([]model.Message, 0, len(fresh)+len(w.msgs))
		for i := len(fresh) - 1; i >= 0; i-- {
			front = append(front, fresh[i])
		}
		w.msgs = append(front, w.msgs...)
	}
	w.mu.Unlock()
	if len(fresh) > 0 {
		w.notify()
	}
	return len(fresh)
}

// Subscribe registers fn to run after every change. The returned function
// removes the subscription.
func (w *Window) Subscribe(fn func()) func() {
	w.subMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		delete(w.subs, id)
		w.subMu.Unlock()
	}
}

func (w *Window) notify() {
	w.subMu.Lock()
	fns := make([]func(), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (w *Window) appendLocked(msg model.Message) {
	w.msgs = append(w.msgs, msg)
	for len(w.msgs) > w.capacity {
		w.msgs[0] = model.Message{}
		w.msgs = w.msgs[1:]
	}
}

func (w *Window) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range w.msgs {
		if w.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (w *Window) indexOfTemp(tempID string) int {
	for i := range w.msgs {
		if w.msgs[i].ID == tempID || w.msgs[i].TempID == tempID {
			return i
		}
	}
	return -1
}
