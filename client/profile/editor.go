package profile

import (
	"context"
	"errors"
	"strings"

	"nearchat/client/api"
	"nearchat/client/model"
	"nearchat/client/notify"
)

var ErrEmptyName = errors.New("full name is required")

// ProfileClient updates the signed-in user's profile
type ProfileClient interface {
	UpdateProfile(ctx context.Context, p api.ProfileUpdate) (model.User, string, error)
}

type Editor struct {
	client   ProfileClient
	notifier notify.Notifier
}

func NewEditor(client ProfileClient, notifier notify.Notifier) *Editor {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Editor{client: client, notifier: notifier}
}

// Update validates and submits p, returning the user as stored by the server.
func (e *Editor) Update(ctx context.Context, p api.ProfileUpdate) (model.User, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return model.User{}, ErrEmptyName
	}
	user, msg, err := e.client.UpdateProfile(ctx, p)
	if err != nil {
		e.notifier.Notify(notify.Danger, "Profile not saved", err.Error())
		return model.User{}, err
	}
	if msg != "" {
		e.notifier.Notify(notify.Success, "Profile saved", msg)
	}
	return user, nil
}
