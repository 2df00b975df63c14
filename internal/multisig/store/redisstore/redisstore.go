// Package redisstore keeps router dedupe state and the feed cursor in Redis
// so several wallet processes, or a restarted one, share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
	"veridian/pkg/platform/sentinel"
)

const DefaultSeenTTL = 7 * 24 * time.Hour

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("redisstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("redisstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// SeenSet records applied notification identities with a TTL.
type SeenSet struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSeenSet returns a seen-set under prefix. A non-positive ttl uses
// DefaultSeenTTL.
func NewSeenSet(client redis.UniversalClient, prefix string, ttl time.Duration) *SeenSet {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenSet{client: client, prefix: prefix, ttl: ttl}
}

func (s *SeenSet) key(id domain.NotificationID) string {
	return s.prefix + "seen:" + string(id)
}

func (s *SeenSet) Seen(ctx context.Context, id domain.NotificationID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: seen lookup: %v", sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *SeenSet) MarkSeen(ctx context.Context, id domain.NotificationID) error {
	if err := s.client.SetNX(ctx, s.key(id), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: mark seen: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

// CursorStore persists the feed cursor as a CBOR value.
type CursorStore struct {
	client redis.UniversalClient
	key    string
}

func NewCursorStore(client redis.UniversalClient, prefix string) *CursorStore {
	return &CursorStore{client: client, key: prefix + "feed:cursor"}
}

func (s *CursorStore) LoadCursor(ctx context.Context) (models.FeedCursor, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.FeedCursor{}, nil
	}
	if err != nil {
		return models.FeedCursor{}, fmt.Errorf("%w: load cursor: %v", sentinel.ErrUnavailable, err)
	}
	var c models.FeedCursor
	if err := decMode.Unmarshal(raw, &c); err != nil {
		return models.FeedCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}

func (s *CursorStore) SaveCursor(ctx context.Context, c models.FeedCursor) error {
	raw, err := encMode.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: save cursor: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
