package api

import (
	"context"
	"net/http"
	"net/url"

	"nearchat/client/model"
)

// Photos lists the photos of a user, newest first.
func (c *Client) Photos(ctx context.Context, userID string) ([]model.Photo, error) {
	env, err := c.do(ctx, http.MethodGet, "/photos/get/"+url.PathEscape(userID), nil, true)
	if err != nil {
		return nil, err
	}
	photos := []model.Photo{}
	err = decodeData(env, &photos)
	return photos, err
}

// UploadPhoto sends one image as the multipart field "image".
func (c *Client) UploadPhoto(ctx context.Context, u Upload) (model.Photo, error) {
	env, err := c.doMultipart(ctx, "/photos/upload", nil, []Part{{Field: "image", Upload: u}})
	if err != nil {
		return model.Photo{}, err
	}
	var p model.Photo
	err = decodeData(env, &p)
	return p, err
}

func (c *Client) DeletePhoto(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/photos/"+url.PathEscape(id), nil, true)
	return err
}
