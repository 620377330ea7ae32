package api

import (
	"context"
	"net/http"
	"net/url"

	"nearchat/client/model"
)

// ProfileUpdate is the editable part of a profile. Avatar is optional.
type ProfileUpdate struct {
	FullName string
	Program  string
	Avatar   *Upload
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	env, err := c.do(ctx, http.MethodGet, "/users/me", nil, true)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	err = decodeData(env, &u)
	return u, err
}

func (c *Client) User(ctx context.Context, id string) (model.User, error) {
	env, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, true)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	err = decodeData(env, &u)
	return u, err
}

// UpdateProfile posts the multipart profile form and returns the updated user.
func (c *Client) UpdateProfile(ctx context.Context, p ProfileUpdate) (model.User, string, error) {
	fields := map[string]string{
		"fullName": p.FullName,
		"program":  p.Program,
	}
	var files []Part
	if p.Avatar != nil {
		files = append(files, Part{Field: "file", Upload: *p.Avatar})
	}
	env, err := c.doMultipart(ctx, "/users/update", fields, files)
	if err != nil {
		return model.User{}, "", err
	}
	var u model.User
	if env.User != nil {
		u = *env.User
	} else if err := decodeData(env, &u); err != nil {
		return model.User{}, "", err
	}
	return u, env.Message, nil
}

func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) (string, error) {
	env, err := c.do(ctx, http.MethodPost, "/users/change-password", map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	}, true)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}
