package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/meshcall/internal/models"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisJoinLeave(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Join(ctx, "lobby", "bob"))
	require.NoError(t, r.Join(ctx, "lobby", "alice"))
	require.NoError(t, r.Join(ctx, "lobby", "alice"))
	require.NoError(t, r.Join(ctx, "other", "carol"))

	ids, err := r.PresentUserIDs(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	ok, err := r.IsPresent(ctx, "lobby", "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, presenceTTL, mr.TTL(Key("lobby")))

	require.NoError(t, r.Leave(ctx, "lobby", "alice"))
	ok, err = r.IsPresent(ctx, "lobby", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPresenceExpires(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()
	require.NoError(t, r.Join(ctx, "lobby", "bob"))

	mr.FastForward(presenceTTL + time.Second)

	ids, err := r.PresentUserIDs(ctx, "lobby")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisUnavailable(t *testing.T) {
	r, mr := newRedis(t)
	mr.Close()

	_, err := r.IsPresent(context.Background(), "lobby", "bob")
	assert.Error(t, err)
}

func TestStaticAndAllowAll(t *testing.T) {
	ctx := context.Background()

	ok, _ := Static{"alice"}.IsPresent(ctx, "any", "alice")
	assert.True(t, ok)
	ok, _ = Static{"alice"}.IsPresent(ctx, "any", "bob")
	assert.False(t, ok)
	ok, _ = Static(nil).IsPresent(ctx, "any", "bob")
	assert.False(t, ok)

	ok, err := AllowAll{}.IsPresent(ctx, "any", "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/lobby/presence" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(models.PresenceResponse{RoomID: "lobby", PresentUserIDs: []string{"alice"}})
	}))
	defer srv.Close()

	gate := NewHTTP(srv.URL)
	ctx := context.Background()

	ok, err := gate.IsPresent(ctx, "lobby", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.IsPresent(ctx, "lobby", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = gate.IsPresent(ctx, "elsewhere", "alice")
	assert.Error(t, err)
}
