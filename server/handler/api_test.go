package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearchat/server/auth"
	"nearchat/server/room"
	"nearchat/server/store"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	jwt   *auth.JWTManager
}

func newTestEnv(t *testing.T, tweak func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := Options{
		Store:      db,
		JWT:        auth.NewJWTManager("test-secret", time.Hour),
		Rooms:      room.NewManager(ctx, nil),
		UploadsDir: filepath.Join(dir, "uploads"),
	}
	if tweak != nil {
		tweak(&opts)
	}
	srv := httptest.NewServer(NewAPI(opts).Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: db, jwt: opts.JWT}
}

// addUser stores a verified user with password "secret1" and returns its token.
func (e *testEnv) addUser(t *testing.T, name, email string) (*store.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("secret1")
	require.NoError(t, err)
	u := &store.User{FullName: name, Email: email, PasswordHash: hash, Verified: true}
	require.NoError(t, e.store.CreateUser(u))
	token, err := e.jwt.GenerateToken(u.ID)
	require.NoError(t, err)
	return u, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestRegisterVerifyLogin(t *testing.T) {
	e := newTestEnv(t, nil)

	status, body := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"fullName": "Nino", "email": "Nino@Uni.ge", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["success"])

	status, _ = e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"fullName": "Nino", "email": "nino@uni.ge", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "nino@uni.ge", "password": "secret1",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	// the issued code is only logged; replace it with a known one
	require.NoError(t, e.store.SaveCode("nino@uni.ge", "123456", time.Now().Add(time.Minute)))
	status, _ = e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"email": "nino@uni.ge", "code": "000000"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"email": "nino@uni.ge", "code": "123456"})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["token"])

	status, body = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "nino@uni.ge", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, status)
	token := body["token"].(string)

	status, body = e.do(t, http.MethodGet, "/users/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	me := body["data"].(map[string]any)
	assert.Equal(t, "Nino", me["fullName"])
	assert.Equal(t, "nino@uni.ge", me["email"])
	assert.Equal(t, false, me["isPremium"])
}

func TestLoginFailures(t *testing.T) {
	e := newTestEnv(t, nil)
	u, token := e.addUser(t, "Beka", "beka@uni.ge")

	status, _ := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "beka@uni.ge", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, status)

	until := time.Now().Add(time.Hour)
	u.BlockedReason = "spam"
	u.BlockedUntil = &until
	require.NoError(t, e.store.SaveUser(u))

	status, body := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "beka@uni.ge", "password": "secret1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, true, body["blocked"])
	assert.Equal(t, "spam", body["reason"])
	assert.NotEmpty(t, body["unblockAt"])

	status, _ = e.do(t, http.MethodGet, "/users/me", token, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, http.MethodGet, "/users/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPasswordReset(t *testing.T) {
	e := newTestEnv(t, nil)
	u, token := e.addUser(t, "Ana", "ana@uni.ge")

	status, _ := e.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"email": "nobody@uni.ge"})
	assert.Equal(t, http.StatusOK, status)

	require.NoError(t, e.store.SaveResetToken("tok", u.ID, time.Now().Add(time.Minute)))
	status, _ = e.do(t, http.MethodPut, "/auth/reset-password", "", map[string]string{
		"token": "tok", "newPassword": "another1", "confirmPassword": "another2",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPut, "/auth/reset-password", "", map[string]string{
		"token": "tok", "newPassword": "another1", "confirmPassword": "another1",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@uni.ge", "password": "another1"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = e.do(t, http.MethodPost, "/users/change-password", token, map[string]string{
		"currentPassword": "secret1", "newPassword": "third11",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/users/change-password", token, map[string]string{
		"currentPassword": "another1", "newPassword": "third11",
	})
	assert.Equal(t, http.StatusOK, status)
}

func TestOtherUsersArePublic(t *testing.T) {
	e := newTestEnv(t, nil)
	_, token := e.addUser(t, "Ana", "ana@uni.ge")
	other, _ := e.addUser(t, "Beka", "beka@uni.ge")

	status, body := e.do(t, http.MethodGet, "/users/"+other.ID, token, nil)
	require.Equal(t, http.StatusOK, status)
	view := body["data"].(map[string]any)
	assert.Equal(t, "Beka", view["fullName"])
	assert.NotContains(t, view, "email")

	status, _ = e.do(t, http.MethodGet, "/users/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func multipartRequest(t *testing.T, url, token, field, fileName, contentType string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+fileName+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		part.Write([]byte("\x89PNG fake"))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestPhotos(t *testing.T) {
	e := newTestEnv(t, nil)
	u, token := e.addUser(t, "Ana", "ana@uni.ge")

	status, body := e.send(t, multipartRequest(t, e.srv.URL+"/photos/upload", token, "image", "doc.txt", "text/plain", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])

	status, body = e.send(t, multipartRequest(t, e.srv.URL+"/photos/upload", token, "image", "cat.png", "image/png", nil))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	photo := body["data"].(map[string]any)
	url := photo["url"].(string)
	assert.True(t, strings.HasPrefix(url, "/uploads/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	resp, err := http.Get(e.srv.URL + url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body = e.do(t, http.MethodGet, "/photos/get/"+u.ID, token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, _ = e.do(t, http.MethodDelete, "/photos/"+photo["_id"].(string), token, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodDelete, "/photos/"+photo["_id"].(string), token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	resp, err = http.Get(e.srv.URL + url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPhotoLimit(t *testing.T) {
	e := newTestEnv(t, nil)
	u, token := e.addUser(t, "Ana", "ana@uni.ge")
	for i := 0; i < maxPhotos; i++ {
		require.NoError(t, e.store.AddPhoto(&store.Photo{UserID: u.ID, URL: "/uploads/x.png", CreatedAt: time.Now()}))
	}

	status, body := e.send(t, multipartRequest(t, e.srv.URL+"/photos/upload", token, "image", "cat.png", "image/png", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "photo limit reached", body["message"])
}

func TestUpdateProfile(t *testing.T) {
	e := newTestEnv(t, nil)
	_, token := e.addUser(t, "Ana", "ana@uni.ge")

	status, body := e.send(t, multipartRequest(t, e.srv.URL+"/users/update", token, "", "", "", map[string]string{"fullName": " "}))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])

	status, body = e.send(t, multipartRequest(t, e.srv.URL+"/users/update", token, "file", "me.png", "image/png",
		map[string]string{"fullName": "Ana K", "program": "CS"}))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	u := body["user"].(map[string]any)
	assert.Equal(t, "Ana K", u["fullName"])
	assert.Equal(t, "CS", u["program"])
	assert.True(t, strings.HasPrefix(u["profileImg"].(string), "/uploads/"))
}

func TestMessagesPaging(t *testing.T) {
	e := newTestEnv(t, nil)
	u, token := e.addUser(t, "Ana", "ana@uni.ge")

	base := time.Now()
	for i := 0; i < 25; i++ {
		_, err := e.store.CreateMessage(&store.Message{UserID: u.ID, Text: "m"}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	status, body := e.do(t, http.MethodGet, "/messages", token, nil)
	require.Equal(t, http.StatusOK, status)
	page := body["data"].([]any)
	require.Len(t, page, messagesPageSize)
	last := page[len(page)-1].(map[string]any)

	status, body = e.do(t, http.MethodGet, "/messages?cursor="+last["messageId"].(string), token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 5)

	status, _ = e.do(t, http.MethodGet, "/messages?cursor=nope", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubscriptions(t *testing.T) {
	e := newTestEnv(t, nil)
	_, token := e.addUser(t, "Ana", "ana@uni.ge")

	status, body := e.do(t, http.MethodGet, "/subscriptions/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["data"].(map[string]any)["active"])

	status, _ = e.do(t, http.MethodPost, "/subscriptions", token, map[string]string{"plan": "lifetime"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodPost, "/subscriptions", token, map[string]string{"plan": "monthly"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["active"])

	_, body = e.do(t, http.MethodGet, "/users/me", token, nil)
	assert.Equal(t, true, body["data"].(map[string]any)["isPremium"])
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "UP", health.Status)

	resp, err = http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), "nearchat_server_http_requests_total")
	assert.Contains(t, string(data), "nearchat_server_connections")
}

func dialWS(t *testing.T, e *testEnv, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f map[string]any
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketRejectsAnonymous(t *testing.T) {
	e := newTestEnv(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketMessageBroadcast(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tokenA := e.addUser(t, "Ana", "ana@uni.ge")
	_, tokenB := e.addUser(t, "Beka", "beka@uni.ge")

	a := dialWS(t, e, tokenA)
	b := dialWS(t, e, tokenB)

	// a reply proves b has joined the room
	require.NoError(t, b.WriteJSON(map[string]any{"type": "nearbyUsers", "data": map[string]any{}}))
	require.Equal(t, "nearbyUsers", readFrame(t, b)["type"])

	require.NoError(t, a.WriteJSON(map[string]any{"type": "message", "data": map[string]any{
		"type": "text", "message": "hello", "tempId": "abc123",
	}}))

	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		require.Equal(t, "message", f["type"])
		data := f["data"].(map[string]any)
		assert.Equal(t, "hello", data["text"])
		assert.Equal(t, "abc123", data["tempId"])
		assert.Equal(t, "Ana", data["user"].(map[string]any)["name"])
		assert.NotEmpty(t, data["_id"])
	}

	require.NoError(t, a.WriteJSON(map[string]any{"type": "message", "data": map[string]any{"type": "text", "message": ""}}))
	f := readFrame(t, a)
	assert.Equal(t, "error", f["type"])

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	f = readFrame(t, a)
	assert.Equal(t, "error", f["type"])

	status, body := e.do(t, http.MethodGet, "/messages", tokenB, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestWebSocketMediaMessage(t *testing.T) {
	e := newTestEnv(t, nil)
	_, token := e.addUser(t, "Ana", "ana@uni.ge")
	conn := dialWS(t, e, token)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]any{
		"type": "media", "base64": "aGVsbG8=", "contentType": "image/png", "tempId": "t1",
	}}))
	f := readFrame(t, conn)
	require.Equal(t, "message", f["type"])
	image := f["data"].(map[string]any)["image"].(string)
	assert.True(t, strings.HasPrefix(image, "/uploads/"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]any{
		"type": "media", "base64": "aGVsbG8=", "contentType": "application/pdf",
	}}))
	assert.Equal(t, "error", readFrame(t, conn)["type"])
}

func TestWebSocketReactionsArePremium(t *testing.T) {
	e := newTestEnv(t, nil)
	u, token := e.addUser(t, "Ana", "ana@uni.ge")
	msg, err := e.store.CreateMessage(&store.Message{UserID: u.ID, Text: "hi"}, time.Now())
	require.NoError(t, err)

	conn := dialWS(t, e, token)
	react := map[string]any{"type": "reaction", "data": map[string]any{"_id": msg.ID, "emoji": "👍"}}

	require.NoError(t, conn.WriteJSON(react))
	assert.Equal(t, "error", readFrame(t, conn)["type"])

	_, err = e.store.Subscribe(u.ID, "monthly", time.Hour, time.Now())
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(react))
	f := readFrame(t, conn)
	require.Equal(t, "reaction", f["type"])
	data := f["data"].(map[string]any)
	assert.Equal(t, msg.ID, data["_id"])
	assert.Len(t, data["reactions"].(map[string]any)["👍"], 1)

	require.NoError(t, conn.WriteJSON(react))
	f = readFrame(t, conn)
	assert.Empty(t, f["data"].(map[string]any)["reactions"])
}

func TestWebSocketNearby(t *testing.T) {
	e := newTestEnv(t, nil)
	_, tokenA := e.addUser(t, "Ana", "ana@uni.ge")
	b, _ := e.addUser(t, "Beka", "beka@uni.ge")
	c, _ := e.addUser(t, "Gio", "gio@uni.ge")

	now := time.Now()
	require.NoError(t, e.store.UpdateLocation(b.ID, 41.7151, 44.8271, now))
	require.NoError(t, e.store.UpdateLocation(c.ID, 48.8566, 2.3522, now))

	conn := dialWS(t, e, tokenA)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "updateLocation", "data": map[string]any{
		"latitude": 41.7160, "longitude": 44.8280,
	}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "nearbyUsers", "data": map[string]any{}}))

	f := readFrame(t, conn)
	require.Equal(t, "nearbyUsers", f["type"])
	users := f["data"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "Beka", users[0].(map[string]any)["fullName"])
	assert.NotContains(t, users[0].(map[string]any), "email")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "updateLocation", "data": map[string]any{
		"latitude": 120, "longitude": 0,
	}}))
	assert.Equal(t, "error", readFrame(t, conn)["type"])
}

func TestWebSocketRateLimit(t *testing.T) {
	e := newTestEnv(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 2
	})
	_, token := e.addUser(t, "Ana", "ana@uni.ge")
	conn := dialWS(t, e, token)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "nearbyUsers", "data": map[string]any{}}))
	}
	assert.Equal(t, "nearbyUsers", readFrame(t, conn)["type"])
	assert.Equal(t, "nearbyUsers", readFrame(t, conn)["type"])
	f := readFrame(t, conn)
	require.Equal(t, "error", f["type"])
	assert.Equal(t, "rate limit exceeded", f["data"].(map[string]any)["error"])
}
