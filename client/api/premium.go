package api

import (
	"context"
	"net/http"

	"nearchat/client/model"
)

// PlanMonthly is the only plan on offer
const PlanMonthly = "monthly"

func (c *Client) Subscription(ctx context.Context) (model.Subscription, error) {
	env, err := c.do(ctx, http.MethodGet, "/subscriptions/me", nil, true)
	if err != nil {
		return model.Subscription{}, err
	}
	var s model.Subscription
	err = decodeData(env, &s)
	return s, err
}

func (c *Client) Subscribe(ctx context.Context, plan string) (model.Subscription, error) {
	if plan == "" {
		plan = PlanMonthly
	}
	env, err := c.do(ctx, http.MethodPost, "/subscriptions", map[string]string{"plan": plan}, true)
	if err != nil {
		return model.Subscription{}, err
	}
	var s model.Subscription
	err = decodeData(env, &s)
	return s, err
}
