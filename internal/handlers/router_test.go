package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/codec"
	"github.com/mossy-p/meshcall/internal/identity"
	"github.com/mossy-p/meshcall/internal/models"
	"github.com/mossy-p/meshcall/internal/presence"
	"github.com/mossy-p/meshcall/internal/signaling"
)

const testSecret = "test-secret"

type server struct {
	router *gin.Engine
	hub    *Hub
	store  *presence.Redis
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := presence.NewRedis(client)

	router, hub := NewRouter(RouterConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
		Presence:       store,
		Logger:         zap.NewNop(),
	})
	return &server{router: router, hub: hub, store: store}
}

func (s *server) do(method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := identity.Issue(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func presentIn(t *testing.T, s *server, roomID string) []string {
	t.Helper()
	w := s.do(http.MethodGet, "/api/rooms/"+roomID+"/presence", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, roomID, resp.RoomID)
	return resp.PresentUserIDs
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLogin(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.UserID)
	userID, err := identity.Parse(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	assert.Equal(t, int64(24*60*60), resp.ExpiresIn)

	w = s.do(http.MethodPost, "/api/auth/login", "", `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/api/auth/login", "", `{"username":"al ice","password":"pw"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresenceRoutes(t *testing.T) {
	s := newServer(t)

	assert.Empty(t, presentIn(t, s, "lobby"))

	w := s.do(http.MethodPost, "/api/rooms/lobby/presence", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/rooms/lobby/presence", token(t, "bob"), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodPost, "/api/rooms/lobby/presence", token(t, "alice"), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"alice", "bob"}, presentIn(t, s, "lobby"))

	w = s.do(http.MethodDelete, "/api/rooms/lobby/presence", token(t, "bob"), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"alice"}, presentIn(t, s, "lobby"))
}

func TestOriginFilter(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Native clients carry no origin.
	w = s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginFilterWildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OriginFilter([]string{"*"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://anything.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "meshcall_relay_connections")
}

func TestSignalingRejectsBadRequests(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/ws/signal/"+models.Topic("lobby"), "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/ws/signal/not-a-topic", token(t, "alice"), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignalingRelay(t *testing.T) {
	s := newServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
	ctx := context.Background()

	aliceBus := signaling.NewWSBus(wsURL, token(t, "alice"), codec.Msgpack{}, zap.NewNop())
	bobBus := signaling.NewWSBus(wsURL, token(t, "bob"), codec.Msgpack{}, zap.NewNop())

	alice, err := signaling.Open(ctx, aliceBus, codec.Msgpack{}, "lobby", zap.NewNop())
	require.NoError(t, err)
	bob, err := signaling.Open(ctx, bobBus, codec.Msgpack{}, "lobby", zap.NewNop())
	require.NoError(t, err)

	topic := models.Topic("lobby")
	require.Eventually(t, func() bool { return s.hub.Clients(topic) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, presentIn(t, s, "lobby"))

	invite := models.NewInvite("alice")
	require.NoError(t, alice.Send(ctx, invite))

	for _, ch := range []*signaling.Channel{alice, bob} {
		select {
		case got := <-ch.Messages():
			assert.Equal(t, invite.ID, got.ID)
			assert.Equal(t, models.KindInvite, got.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("invite not relayed")
		}
	}

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return s.hub.Clients(topic) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, presentIn(t, s, "lobby"))

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return s.hub.Clients(topic) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, presentIn(t, s, "lobby"))
}

func TestPresenceKeptWhileUserHasAnotherConnection(t *testing.T) {
	s := newServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
	ctx := context.Background()
	topic := models.Topic("lobby")

	first, err := signaling.Open(ctx, signaling.NewWSBus(wsURL, token(t, "alice"), codec.JSON{}, zap.NewNop()), codec.JSON{}, "lobby", zap.NewNop())
	require.NoError(t, err)
	second, err := signaling.Open(ctx, signaling.NewWSBus(wsURL, token(t, "alice"), codec.JSON{}, zap.NewNop()), codec.JSON{}, "lobby", zap.NewNop())
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool { return s.hub.Clients(topic) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.hub.Clients(topic) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"alice"}, presentIn(t, s, "lobby"))
}

func TestSignalingRelayKeepsFrameType(t *testing.T) {
	tests := []struct {
		codec codec.Codec
		want  int
	}{
		{codec.JSON{}, websocket.TextMessage},
		{codec.Msgpack{}, websocket.BinaryMessage},
	}
	for _, tt := range tests {
		t.Run(tt.codec.Name(), func(t *testing.T) {
			s := newServer(t)
			srv := httptest.NewServer(s.router)
			defer srv.Close()
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
			ctx := context.Background()
			topic := models.Topic("lobby")

			// A browser member reads the raw frames.
			browser, _, err := websocket.DefaultDialer.Dial(wsURL+"/"+topic+"?token="+token(t, "bob"), nil)
			require.NoError(t, err)
			defer browser.Close()

			alice, err := signaling.Open(ctx, signaling.NewWSBus(wsURL, token(t, "alice"), tt.codec, zap.NewNop()), tt.codec, "lobby", zap.NewNop())
			require.NoError(t, err)
			defer alice.Close()
			require.Eventually(t, func() bool { return s.hub.Clients(topic) == 2 }, 2*time.Second, 10*time.Millisecond)

			invite := models.NewInvite("alice")
			require.NoError(t, alice.Send(ctx, invite))

			require.NoError(t, browser.SetReadDeadline(time.Now().Add(2*time.Second)))
			kind, data, err := browser.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
			got, err := tt.codec.Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, invite.ID, got.ID)
		})
	}
}
