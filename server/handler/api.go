package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"nearchat/server/auth"
	"nearchat/server/room"
	"nearchat/server/store"
)

const (
	messagesPageSize = 20
	maxPhotos        = 10
	maxUploadSize    = 10 << 20
	codeTTL          = 15 * time.Minute
	resetTokenTTL    = time.Hour
	subscriptionTerm = 30 * 24 * time.Hour

	// MainRoom is the single shared chat room
	MainRoom = "main"
)

type Options struct {
	Store      *store.Store
	JWT        *auth.JWTManager
	Rooms      *room.Manager
	UploadsDir string
	Registry   *prometheus.Registry
	Log        *logrus.Entry

	// RateLimit and RateBurst bound inbound websocket frames per connection.
	RateLimit float64
	RateBurst int

	NearbyWindow time.Duration
	NearbyRadius float64 // kilometers

	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration

	Now func() time.Time
}

// API serves the REST endpoints and the realtime socket
type API struct {
	opts    Options
	store   *store.Store
	jwt     *auth.JWTManager
	room    *room.Room
	metrics *Metrics
	log     *logrus.Entry
	now     func() time.Time
}

func NewAPI(opts Options) *API {
	if opts.Log == nil {
		opts.Log = logrus.WithField("component", "api")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.NearbyWindow <= 0 {
		opts.NearbyWindow = 10 * time.Minute
	}
	if opts.NearbyRadius <= 0 {
		opts.NearbyRadius = 5
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	return &API{
		opts:    opts,
		store:   opts.Store,
		jwt:     opts.JWT,
		room:    opts.Rooms.GetRoom(MainRoom),
		metrics: NewMetrics(opts.Registry, opts.Rooms.GetRoom(MainRoom)),
		log:     opts.Log,
		now:     opts.Now,
	}
}

// Router wires every route.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.observe)

	r.HandleFunc("/health", HandleHealth(a.room, a.store.Ping)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.opts.UploadsDir))))
	r.HandleFunc("/ws", a.HandleWebSocket)

	r.HandleFunc("/auth/login", a.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", a.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/send-verification-code", a.sendVerificationCode).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", a.verify).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", a.requestPasswordReset).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", a.resetPassword).Methods(http.MethodPut)

	authed := r.NewRoute().Subrouter()
	authed.Use(a.authenticate)
	authed.HandleFunc("/users/me", a.me).Methods(http.MethodGet)
	authed.HandleFunc("/users/update", a.updateProfile).Methods(http.MethodPost, http.MethodPut)
	authed.HandleFunc("/users/change-password", a.changePassword).Methods(http.MethodPost, http.MethodPut)
	authed.HandleFunc("/users/{id}", a.user).Methods(http.MethodGet)
	authed.HandleFunc("/photos/upload", a.uploadPhoto).Methods(http.MethodPost)
	authed.HandleFunc("/photos/get/{userId}", a.photos).Methods(http.MethodGet)
	authed.HandleFunc("/photos/{userId}", a.photos).Methods(http.MethodGet)
	authed.HandleFunc("/photos/{id}", a.deletePhoto).Methods(http.MethodDelete)
	authed.HandleFunc("/messages", a.messages).Methods(http.MethodGet)
	authed.HandleFunc("/subscriptions/me", a.subscription).Methods(http.MethodGet)
	authed.HandleFunc("/subscriptions", a.subscribe).Methods(http.MethodPost)
	return r
}

type ctxKey struct{}

// authenticate resolves the bearer token into a user stored in the request
// context. Blocked accounts are refused with their block details.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, status, err := a.userFromRequest(r)
		if err != nil {
			if status == http.StatusForbidden {
				writeBlocked(w, u, a.now())
				return
			}
			writeError(w, status, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func (a *API) userFromRequest(r *http.Request) (*store.User, int, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, http.StatusUnauthorized, errors.New("authentication required")
	}
	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		return nil, http.StatusUnauthorized, errors.New("invalid or expired token")
	}
	u, err := a.store.UserByID(claims.UserID)
	if err != nil {
		return nil, http.StatusUnauthorized, errors.New("invalid or expired token")
	}
	if u.IsBlocked(a.now()) {
		return u, http.StatusForbidden, errors.New("account blocked")
	}
	return u, http.StatusOK, nil
}

func currentUser(r *http.Request) *store.User {
	u, _ := r.Context().Value(ctxKey{}).(*store.User)
	return u
}

// writeJSON sends v with success=true merged into the top-level object.
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	if _, ok := body["success"]; !ok {
		body["success"] = status >= 200 && status < 300
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeBlocked(w http.ResponseWriter, u *store.User, now time.Time) {
	body := map[string]any{
		"success": false,
		"message": "your account is blocked",
		"blocked": true,
		"reason":  u.BlockedReason,
	}
	if u.BlockedUntil != nil && u.BlockedUntil.After(now) {
		body["unblockAt"] = u.BlockedUntil
	}
	writeJSON(w, http.StatusForbidden, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}
