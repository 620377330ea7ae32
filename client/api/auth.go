package api

import (
	"context"
	"net/http"

	"nearchat/client/model"
)

// Session is the result of a successful login or verification
type Session struct {
	Token string
	User  model.User
}

type Registration struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token. An unverified account answers 401.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, false)
	if err != nil {
		return Session{}, err
	}
	return sessionOf(env), nil
}

// Register creates an account and returns the server message.
func (c *Client) Register(ctx context.Context, r Registration) (string, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/register", r, false)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) SendVerificationCode(ctx context.Context, email string) (string, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/send-verification-code", map[string]string{"email": email}, false)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// Verify confirms the emailed code and logs the account in.
func (c *Client) Verify(ctx context.Context, email, code string) (Session, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/verify", map[string]string{
		"email": email,
		"code":  code,
	}, false)
	if err != nil {
		return Session{}, err
	}
	return sessionOf(env), nil
}

// RequestPasswordReset mails a reset token to email.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/reset-password", map[string]string{"email": email}, false)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) (string, error) {
	env, err := c.do(ctx, http.MethodPut, "/auth/reset-password", map[string]string{
		"token":           token,
		"newPassword":     newPassword,
		"confirmPassword": confirmPassword,
	}, false)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func sessionOf(env *envelope) Session {
	s := Session{Token: env.Token}
	if env.User != nil {
		s.User = *env.User
	}
	return s
}
