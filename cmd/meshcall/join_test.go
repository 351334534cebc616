package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/config"
	"github.com/mossy-p/meshcall/internal/codec"
	"github.com/mossy-p/meshcall/internal/handlers"
	"github.com/mossy-p/meshcall/internal/identity"
	"github.com/mossy-p/meshcall/internal/presence"
)

func TestLoginAgainstRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	router, _ := handlers.NewRouter(handlers.RouterConfig{
		JWTSecret: "secret",
		Presence:  presence.NewRedis(client),
		Logger:    zap.NewNop(),
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	token, err := login(context.Background(), srv.URL, "alice")
	require.NoError(t, err)
	user, err := identity.Parse("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = login(context.Background(), srv.URL, "")
	assert.Error(t, err)
}

func TestICEServers(t *testing.T) {
	assert.Nil(t, iceServers(nil))
	servers := iceServers([]string{"stun:a:3478", "stun:b:3478"})
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, servers[0].URLs)
}

func TestConnectBackend_Unknown(t *testing.T) {
	cfg := &config.Config{Client: config.ClientConfig{SignalBackend: "carrier-pigeon"}}
	_, _, _, err := connectBackend(context.Background(), cfg, joinOptions{room: "lobby", user: "alice"}, codec.JSON{}, zap.NewNop())
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestConnectBackend_WebsocketWithToken(t *testing.T) {
	cfg := &config.Config{Client: config.ClientConfig{
		SignalBackend: "websocket",
		SignalURL:     "ws://127.0.0.1:1/ws/signal",
		ServerURL:     "http://127.0.0.1:1",
	}}
	bus, gate, cleanup, err := connectBackend(context.Background(), cfg, joinOptions{room: "lobby", user: "alice", token: "t"}, codec.JSON{}, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, bus)
	assert.IsType(t, &presence.HTTP{}, gate)
}
