package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"nearchat/server/model"
	"nearchat/server/room"
	"nearchat/server/store"
)

const (
	maxTextLength = 1000
	maxFrameSize  = 8 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func validateMessage(msg *model.InboundMessage) string {
	switch msg.Kind {
	case model.MessageKindText:
		n := utf8.RuneCountInString(msg.Message)
		if n < 1 || n > maxTextLength {
			return "message must be 1-1000 characters"
		}
	case model.MessageKindMedia:
		if msg.Base64 == "" {
			return "media payload is required"
		}
		if _, err := mediaKind(msg.ContentType); err != nil {
			return err.Error()
		}
	default:
		return "invalid message type"
	}
	return ""
}

func validateLocation(loc *model.InboundLocation) string {
	if loc.Latitude == nil || loc.Longitude == nil {
		return "latitude and longitude are required"
	}
	if *loc.Latitude < -90 || *loc.Latitude > 90 || *loc.Longitude < -180 || *loc.Longitude > 180 {
		return "coordinates out of range"
	}
	return ""
}

// HandleWebSocket authenticates the caller, joins them to the main room and
// serves their inbound frames until the connection ends.
func (a *API) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	u, status, err := a.userFromRequest(r)
	if err != nil {
		if status == http.StatusForbidden {
			writeBlocked(w, u, a.now())
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithError(err).Debug("upgrade failed")
		return
	}

	client := room.NewClient(u.ID, conn)
	if !a.room.Join(client) {
		conn.Close()
		return
	}
	go client.WritePump(a.opts.PingPeriod, a.opts.WriteWait)
	defer a.room.Leave(client)

	s := &socket{
		api:     a,
		user:    u,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(a.opts.RateLimit), a.opts.RateBurst),
		log:     a.log.WithField("user_id", u.ID),
	}
	s.log.Info("realtime client connected")
	defer s.log.Info("realtime client disconnected")

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(a.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(a.opts.PongWait))
		return nil
	})

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(a.opts.PongWait))
		s.handle(p)
	}
}

// socket is the per-connection state of one realtime client
type socket struct {
	api     *API
	user    *store.User
	client  *room.Client
	limiter *rate.Limiter
	log     *logrus.Entry
}

func (s *socket) handle(p []byte) {
	if !gjson.ValidBytes(p) {
		s.api.metrics.frame("invalid", "error")
		s.reject("", "Invalid JSON format")
		return
	}
	frameType := gjson.GetBytes(p, "type").String()
	if !s.limiter.Allow() {
		s.api.metrics.frame(frameType, "limited")
		s.reject(frameType, "rate limit exceeded")
		return
	}
	data := []byte(gjson.GetBytes(p, "data").Raw)

	var reason string
	switch frameType {
	case model.FrameMessage:
		reason = s.onMessage(data)
	case model.FrameReaction:
		reason = s.onReaction(data)
	case model.FrameNearbyUsers:
		reason = s.onNearbyUsers()
	case model.FrameUpdateLocation:
		reason = s.onUpdateLocation(data)
	default:
		reason = "unknown frame type"
	}

	if reason != "" {
		s.api.metrics.frame(frameType, "error")
		s.reject(frameType, reason)
		return
	}
	s.api.metrics.frame(frameType, "ok")
}

func (s *socket) onMessage(data []byte) string {
	var in model.InboundMessage
	if err := decodeFrame(data, &in); err != nil {
		return "invalid message frame"
	}
	if reason := validateMessage(&in); reason != "" {
		return reason
	}

	row := &store.Message{UserID: s.user.ID}
	if in.Kind == model.MessageKindText {
		row.Text = in.Message
	} else {
		raw, err := base64.StdEncoding.DecodeString(in.Base64)
		if err != nil {
			return "media payload is not valid base64"
		}
		if len(raw) > maxUploadSize {
			return "media payload is too large"
		}
		url, err := s.api.saveUpload(bytes.NewReader(raw), in.ContentType, "")
		if err != nil {
			s.log.WithError(err).Error("failed to store media")
			return "could not store media"
		}
		if kind, _ := mediaKind(in.ContentType); kind == "image" {
			row.Image = url
		} else {
			row.Video = url
		}
	}

	msg, err := s.api.store.CreateMessage(row, s.api.now())
	if err != nil {
		s.log.WithError(err).Error("failed to save message")
		return "could not save message"
	}
	msg.TempID = in.TempID
	s.broadcast(model.Frame{Type: model.FrameMessage, Data: msg})
	return ""
}

func (s *socket) onReaction(data []byte) string {
	var in model.InboundReaction
	if err := decodeFrame(data, &in); err != nil || in.ID == "" || in.Emoji == "" {
		return "invalid reaction frame"
	}
	if !s.api.store.UserView(s.user, s.api.now()).Premium {
		return "reactions require a premium subscription"
	}

	reactions, err := s.api.store.ToggleReaction(in.ID, s.user.ID, in.Emoji, s.api.now())
	if errors.Is(err, store.ErrNotFound) {
		return "message not found"
	}
	if err != nil {
		s.log.WithError(err).Error("failed to toggle reaction")
		return "could not save reaction"
	}
	s.broadcast(model.Frame{
		Type: model.FrameReaction,
		Data: model.ReactionUpdate{ID: in.ID, Reactions: reactions},
	})
	return ""
}

func (s *socket) onNearbyUsers() string {
	now := s.api.now()
	users, err := s.api.store.Nearby(s.user.ID, now.Add(-s.api.opts.NearbyWindow), s.api.opts.NearbyRadius)
	if err != nil {
		s.log.WithError(err).Error("failed to query nearby users")
		return "could not load nearby users"
	}
	if users == nil {
		users = []model.User{}
	}
	s.reply(model.Frame{Type: model.FrameNearbyUsers, Data: users})
	return ""
}

func (s *socket) onUpdateLocation(data []byte) string {
	var in model.InboundLocation
	if err := decodeFrame(data, &in); err != nil {
		return "invalid location frame"
	}
	if reason := validateLocation(&in); reason != "" {
		return reason
	}
	if err := s.api.store.UpdateLocation(s.user.ID, *in.Latitude, *in.Longitude, s.api.now()); err != nil {
		s.log.WithError(err).Error("failed to update location")
		return "could not update location"
	}
	return ""
}

func (s *socket) reject(frameType, reason string) {
	s.reply(model.Frame{Type: model.FrameError, Data: model.ErrorReply{
		Frame:           frameType,
		Status:          "ERROR",
		Error:           reason,
		ServerTimestamp: s.api.now(),
	}})
}

func (s *socket) reply(f model.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.log.WithError(err).Error("failed to encode frame")
		return
	}
	if !s.client.Send(data) {
		s.log.Warn("client queue full, reply dropped")
	}
}

func (s *socket) broadcast(f model.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.log.WithError(err).Error("failed to encode frame")
		return
	}
	s.api.room.Publish(data)
}

func decodeFrame(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}
