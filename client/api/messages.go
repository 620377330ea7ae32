package api

import (
	"context"
	"net/http"
	"net/url"

	"nearchat/client/model"
)

// Messages returns one history page, newest first. A non-empty cursor asks
// for messages strictly older than it.
func (c *Client) Messages(ctx context.Context, cursor string) ([]model.Message, error) {
	path := "/messages"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	env, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	msgs := []model.Message{}
	err = decodeData(env, &msgs)
	return msgs, err
}
