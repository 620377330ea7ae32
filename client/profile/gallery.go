package profile

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"nearchat/client/api"
	"nearchat/client/model"
	"nearchat/client/notify"
)

// PhotoClient is the photo part of the REST API
type PhotoClient interface {
	Photos(ctx context.Context, userID string) ([]model.Photo, error)
	UploadPhoto(ctx context.Context, u api.Upload) (model.Photo, error)
	DeletePhoto(ctx context.Context, id string) error
}

// Gallery is the photo list of one user, newest first
type Gallery struct {
	client   PhotoClient
	userID   string
	notifier notify.Notifier
	log      *logrus.Entry

	mu     sync.RWMutex
	photos []model.Photo
}

func NewGallery(client PhotoClient, userID string, notifier notify.Notifier, log *logrus.Entry) *Gallery {
	if notifier == nil {
		notifier = notify.Discard
	}
	if log == nil {
		log = logrus.WithField("component", "profile")
	}
	return &Gallery{client: client, userID: userID, notifier: notifier, log: log, photos: []model.Photo{}}
}

// Load fetches the photos. A failed fetch leaves an empty gallery.
func (g *Gallery) Load(ctx context.Context) []model.Photo {
	photos, err := g.client.Photos(ctx, g.userID)
	if err != nil {
		g.log.WithError(err).WithField("user_id", g.userID).Debug("photo list failed")
		photos = []model.Photo{}
	}
	g.mu.Lock()
	g.photos = photos
	g.mu.Unlock()
	return g.Photos()
}

// Upload sends one image and puts it in front of the list.
func (g *Gallery) Upload(ctx context.Context, u api.Upload) (model.Photo, error) {
	photo, err := g.client.UploadPhoto(ctx, u)
	if err != nil {
		g.notifier.Notify(notify.Danger, "Upload failed", err.Error())
		return model.Photo{}, err
	}
	g.mu.Lock()
	g.photos = append([]model.Photo{photo}, g.photos...)
	g.mu.Unlock()
	return photo, nil
}

// Delete removes a photo on the server and then locally.
func (g *Gallery) Delete(ctx context.Context, id string) error {
	if err := g.client.DeletePhoto(ctx, id); err != nil {
		g.notifier.Notify(notify.Danger, "Delete failed", err.Error())
		return err
	}
	g.mu.Lock()
	for i, p := range g.photos {
		if p.ID == id {
			g.photos = append(g.photos[:i:i], g.photos[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
	return nil
}

func (g *Gallery) Photos() []model.Photo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]model.Photo{}, g.photos...)
}

// Images lists what the image viewer pages through: the profile image first,
// then the gallery.
func (g *Gallery) Images(owner model.User) []model.Photo {
	photos := g.Photos()
	if owner.ProfileImg == "" {
		return photos
	}
	return append([]model.Photo{{ID: owner.ID, URL: owner.ProfileImg}}, photos...)
}
