package profile

import (
	"context"
	"sync"

	"nearchat/client/model"
)

// UserClient fetches a profile by id
type UserClient interface {
	User(ctx context.Context, id string) (model.User, error)
}

// Viewer shows one profile at a time. Loads may overlap; only the response to
// the latest request is kept.
type Viewer struct {
	client UserClient

	mu      sync.Mutex
	seq     uint64
	current *model.User
}

func NewViewer(client UserClient) *Viewer {
	return &Viewer{client: client}
}

// Load fetches id. It reports false when a newer Load started meanwhile, in
// which case the result is discarded.
func (v *Viewer) Load(ctx context.Context, id string) (model.User, bool, error) {
	v.mu.Lock()
	v.seq++
	mine := v.seq
	v.mu.Unlock()

	user, err := v.client.User(ctx, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if mine != v.seq {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, true, err
	}
	v.current = &user
	return user, true, nil
}

// Current returns the last profile accepted by Load.
func (v *Viewer) Current() (model.User, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return model.User{}, false
	}
	return *v.current, true
}
