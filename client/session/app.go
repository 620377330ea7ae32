package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"nearchat/client/api"
	"nearchat/client/model"
	"nearchat/client/notify"
)

// Route is the top-level screen the user lands on
type Route int

const (
	RouteAuth Route = iota
	RouteHome
)

func (r Route) String() string {
	if r == RouteHome {
		return "home"
	}
	return "auth"
}

var (
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrNotAuthenticated  = errors.New("not logged in")
	ErrNeedsVerification = errors.New("email address is not verified")
)

// TokenStore persists the bearer token
type TokenStore interface {
	api.TokenSource
	SetToken(token string) error
	ClearToken() error
}

// App owns the signed-in user and routes between the auth and home flows.
type App struct {
	client   *api.Client
	tokens   TokenStore
	notifier notify.Notifier
	log      *logrus.Entry
	deps     Deps

	mu   sync.RWMutex
	user *model.User
}

func NewApp(client *api.Client, tokens TokenStore, deps Deps) *App {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Log == nil {
		deps.Log = logrus.WithField("component", "session")
	}
	return &App{
		client:   client,
		tokens:   tokens,
		notifier: deps.Notifier,
		log:      deps.Log,
		deps:     deps,
	}
}

func (a *App) Client() *api.Client {
	return a.client
}

// Bootstrap resolves the stored token into a user. Any failure lands on the
// auth flow.
func (a *App) Bootstrap(ctx context.Context) Route {
	token, err := a.tokens.Token()
	if err != nil || token == "" {
		a.setUser(nil)
		return RouteAuth
	}
	user, err := a.client.Me(ctx)
	if err != nil {
		a.log.WithError(err).Debug("stored token rejected")
		a.setUser(nil)
		return RouteAuth
	}
	a.setUser(&user)
	return RouteHome
}

func (a *App) Route() Route {
	if _, ok := a.User(); ok {
		return RouteHome
	}
	return RouteAuth
}

func (a *App) User() (model.User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.user == nil {
		return model.User{}, false
	}
	return *a.user, true
}

// SetUser replaces the signed-in user, e.g. after a profile update.
func (a *App) SetUser(u model.User) {
	a.setUser(&u)
}

// Login stores the token on success. An unverified account yields
// ErrNeedsVerification so the caller can continue with Verify.
func (a *App) Login(ctx context.Context, email, password string) (model.User, error) {
	s, err := a.client.Login(ctx, email, password)
	if err != nil {
		if api.IsUnauthorized(err) {
			return model.User{}, fmt.Errorf("%w: %w", ErrNeedsVerification, err)
		}
		a.notifier.Notify(notify.Danger, "Login failed", err.Error())
		return model.User{}, err
	}
	return a.signIn(ctx, s)
}

func (a *App) Verify(ctx context.Context, email, code string) (model.User, error) {
	s, err := a.client.Verify(ctx, email, code)
	if err != nil {
		a.notifier.Notify(notify.Danger, "Verification failed", err.Error())
		return model.User{}, err
	}
	return a.signIn(ctx, s)
}

func (a *App) Register(ctx context.Context, r api.Registration) (string, error) {
	msg, err := a.client.Register(ctx, r)
	if err != nil {
		a.notifier.Notify(notify.Danger, "Registration failed", err.Error())
	}
	return msg, err
}

func (a *App) SendVerificationCode(ctx context.Context, email string) (string, error) {
	msg, err := a.client.SendVerificationCode(ctx, email)
	return a.report(msg, err)
}

func (a *App) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	msg, err := a.client.RequestPasswordReset(ctx, email)
	return a.report(msg, err)
}

func (a *App) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) (string, error) {
	if newPassword != confirmPassword {
		return "", ErrPasswordMismatch
	}
	msg, err := a.client.ResetPassword(ctx, token, newPassword, confirmPassword)
	return a.report(msg, err)
}

func (a *App) ChangePassword(ctx context.Context, currentPassword, newPassword string) (string, error) {
	if _, ok := a.User(); !ok {
		return "", ErrNotAuthenticated
	}
	msg, err := a.client.ChangePassword(ctx, currentPassword, newPassword)
	return a.report(msg, err)
}

// Logout forgets the token and the user.
func (a *App) Logout() error {
	a.setUser(nil)
	return a.tokens.ClearToken()
}

func (a *App) signIn(ctx context.Context, s api.Session) (model.User, error) {
	if s.Token == "" {
		return model.User{}, errors.New("backend returned no token")
	}
	if err := a.tokens.SetToken(s.Token); err != nil {
		return model.User{}, fmt.Errorf("failed to store token: %w", err)
	}
	user := s.User
	if user.ID == "" {
		me, err := a.client.Me(ctx)
		if err != nil {
			return model.User{}, err
		}
		user = me
	}
	a.setUser(&user)
	return user, nil
}

func (a *App) report(msg string, err error) (string, error) {
	if err != nil {
		a.notifier.Notify(notify.Danger, "Request failed", err.Error())
		return "", err
	}
	if msg != "" {
		a.notifier.Notify(notify.Success, "Done", msg)
	}
	return msg, nil
}

func (a *App) setUser(u *model.User) {
	a.mu.Lock()
	a.user = u
	a.mu.Unlock()
}
