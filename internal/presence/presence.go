// Package presence answers whether a user is currently present in a room.
// A call session only reacts to invitations while its user is present.
package presence

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// presenceTTL is refreshed on every join so an abandoned set expires.
const presenceTTL = 24 * time.Hour

// Gate reports whether a user is present in a room.
type Gate interface {
	IsPresent(ctx context.Context, roomID, userID string) (bool, error)
}

// Key returns the redis set holding a room's present users.
func Key(roomID string) string {
	return "room:" + roomID + ":presence"
}

// Redis keeps presence in one redis set per room.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) IsPresent(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, Key(roomID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("read presence of %s: %w", roomID, err)
	}
	return ok, nil
}

// PresentUserIDs returns the sorted members of the room's presence set.
func (r *Redis) PresentUserIDs(ctx context.Context, roomID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, Key(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence of %s: %w", roomID, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Join marks userID present.
func (r *Redis) Join(ctx context.Context, roomID, userID string) error {
	key := Key(roomID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("join presence of %s: %w", roomID, err)
	}
	return nil
}

// Leave marks userID absent.
func (r *Redis) Leave(ctx context.Context, roomID, userID string) error {
	if err := r.client.SRem(ctx, Key(roomID), userID).Err(); err != nil {
		return fmt.Errorf("leave presence of %s: %w", roomID, err)
	}
	return nil
}

// Static is a fixed presence list, the same for every room.
type Static []string

func (s Static) IsPresent(_ context.Context, _, userID string) (bool, error) {
	return slices.Contains(s, userID), nil
}

// AllowAll reports everyone present. It is used when no presence service
// is configured.
type AllowAll struct{}

func (AllowAll) IsPresent(context.Context, string, string) (bool, error) {
	return true, nil
}
