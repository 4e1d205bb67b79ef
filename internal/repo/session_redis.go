package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ludo-service/internal/service/game"
	appErr "ludo-service/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const activeSessionsKey = "sessions:active"

var acquireLockScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("HGET", KEYS[1], "locked") == "1" then
	return 0
end
redis.call("HSET", KEYS[1], "locked", "1")
return 1
`)

// RedisSessionStore keeps each session in a hash guarded by WATCH/MULTI.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func buildSessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (s *RedisSessionStore) Create(ctx context.Context, sess *game.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := buildSessionKey(sess.ID)
	created, err := s.rdb.HSetNX(ctx, key, "state", data).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "locked", "0")
		pipe.SAdd(ctx, activeSessionsKey, sess.ID)
		return nil
	})
	return err
}

func (s *RedisSessionStore) read(ctx context.Context, c redis.Cmdable, id string) (*game.Session, error) {
	vals, err := c.HMGet(ctx, buildSessionKey(id), "state", "locked").Result()
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, appErr.ErrSessionNotFound
	}
	locked, _ := vals[1].(string)
	return decodeSession([]byte(raw), locked == "1")
}

func (s *RedisSessionStore) Load(ctx context.Context, id string) (*game.Session, error) {
	return s.read(ctx, s.rdb, id)
}

func (s *RedisSessionStore) Update(ctx context.Context, id string, mutate func(*game.Session) error) (*game.Session, error) {
	key := buildSessionKey(id)
	var result *game.Session

	txf := func(tx *redis.Tx) error {
		sess, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		locked := sess.SettlementLocked
		if err := mutate(sess); err != nil {
			return err
		}
		sess.SettlementLocked = locked

		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "state", data)
			if sess.Active() {
				pipe.SAdd(ctx, activeSessionsKey, id)
				pipe.Persist(ctx, key)
			} else {
				pipe.SRem(ctx, activeSessionsKey, id)
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = sess
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, appErr.ErrSessionConflict
}

func (s *RedisSessionStore) AcquireSettlementLock(ctx context.Context, id string) (bool, error) {
	res, err := acquireLockScript.Run(ctx, s.rdb, []string{buildSessionKey(id)}).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, appErr.ErrSessionNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (s *RedisSessionStore) ListActive(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, activeSessionsKey).Result()
}
