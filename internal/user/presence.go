package user

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineTTL = 24 * time.Hour

// Presence tracks who is online and when they were last seen. It lives in
// Redis so the data survives server restarts; the chat room state does not
// need to, but "last seen 2h ago" should.
type Presence struct {
	redis *redis.Client
}

func NewPresence(redisClient *redis.Client) *Presence {
	return &Presence{redis: redisClient}
}

func onlineKey(userID int) string   { return fmt.Sprintf("user:online:%d", userID) }
func lastSeenKey(userID int) string { return fmt.Sprintf("user:last_seen:%d", userID) }

func (p *Presence) MarkOnline(ctx context.Context, userID int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := p.redis.Set(ctx, onlineKey(userID), "1", onlineTTL).Err(); err != nil {
		return err
	}
	return p.redis.Set(ctx, lastSeenKey(userID), now, 0).Err()
}

func (p *Presence) MarkOffline(ctx context.Context, userID int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := p.redis.Del(ctx, onlineKey(userID)).Err(); err != nil {
		return err
	}
	return p.redis.Set(ctx, lastSeenKey(userID), now, 0).Err()
}

func (p *Presence) IsOnline(ctx context.Context, userID int) (bool, error) {
	n, err := p.redis.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastSeen returns the zero time when the user has never been seen.
func (p *Presence) LastSeen(ctx context.Context, userID int) (time.Time, error) {
	val, err := p.redis.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, val)
}
