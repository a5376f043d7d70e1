// Package banlist records which users the engine has already banned, backed
// by Redis. Records are simple key-value pairs:
//
//	Key:   modban:<chatID>:<userID>
//	Value: <reason>
//
// The record lets the dispatcher skip re-evaluating senders whose ban is
// already in flight, and gives moderators a queryable ledger. It is advisory:
// the chat transport remains the source of truth for membership, so lookups
// fail open on Redis errors.
package banlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BanPrefix is the Redis key prefix for ban records.
const BanPrefix = "modban:"

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban record store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(chatID, userID int64) string {
	return fmt.Sprintf("%s%d:%d", BanPrefix, chatID, userID)
}

// Record stores a ban record. A zero ttl makes the record permanent.
// Recording the same (chat, user) twice simply overwrites the reason.
func (s *Store) Record(ctx context.Context, chatID, userID int64, reason string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key(chatID, userID), reason, ttl).Err(); err != nil {
		return fmt.Errorf("banlist: record: %w", err)
	}
	return nil
}

// IsBanned reports whether the engine has banned the user in the chat,
// along with the recorded reason. On Redis errors it fails open (false) so
// an outage never suppresses message handling; the error is returned for
// the caller to log.
func (s *Store) IsBanned(ctx context.Context, chatID, userID int64) (bool, string, error) {
	reason, err := s.client.Get(ctx, key(chatID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, reason, nil
}

// Remove deletes a ban record (e.g. after a manual unban).
func (s *Store) Remove(ctx context.Context, chatID, userID int64) error {
	if err := s.client.Del(ctx, key(chatID, userID)).Err(); err != nil {
		return fmt.Errorf("banlist: remove: %w", err)
	}
	return nil
}
