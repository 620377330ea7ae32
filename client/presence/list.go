package presence

import (
	"strings"
	"sync"

	"nearchat/client/model"
)

// Filter returns the users whose full name contains term. The match is case
// sensitive and an empty term keeps everyone.
func Filter(users []model.User, term string) []model.User {
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if strings.Contains(u.FullName, term) {
			out = append(out, u)
		}
	}
	return out
}

// List holds the nearby users from the last refresh and the active search term
type List struct {
	mu       sync.RWMutex
	users    []model.User
	query    string
	filtered []model.User

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

func NewList() *List {
	return &List{
		users:    []model.User{},
		filtered: []model.User{},
		subs:     make(map[int]func()),
	}
}

// Replace swaps the whole list for users. Nothing from the previous refresh
// survives.
func (l *List) Replace(users []model.User) {
	fresh := make([]model.User, len(users))
	copy(fresh, users)

	l.mu.Lock()
	l.users = fresh
	l.filtered = Filter(fresh, l.query)
	l.mu.Unlock()
	l.notify()
}

func (l *List) SetQuery(q string) {
	l.mu.Lock()
	if q == l.query {
		l.mu.Unlock()
		return
	}
	l.query = q
	l.filtered = Filter(l.users, q)
	l.mu.Unlock()
	l.notify()
}

func (l *List) Query() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.query
}

// All returns the unfiltered list.
func (l *List) All() []model.User {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.User{}, l.users...)
}

// Filtered returns the users matching the current query.
func (l *List) Filtered() []model.User {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.User{}, l.filtered...)
}

func (l *List) Subscribe(fn func()) func() {
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *List) notify() {
	l.subMu.Lock()
	fns := make([]func(), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
