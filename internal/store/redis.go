package store

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "presencehub:presence:"
	fieldOnline   = "online"
	fieldLastSeen = "last_seen"
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// ConnectRedis opens a client and checks it with a ping.
func ConnectRedis(ctx context.Context, c RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", c.Addr)
	}
	return rdb, nil
}

// RedisMirror keeps one hash per identity: presencehub:presence:<user>.
// A positive ttl bounds how long a record outlives its last write.
type RedisMirror struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisMirror returns a mirror writing through rdb.
func NewRedisMirror(rdb redis.Cmdable, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

func presenceKey(userID string) string { return keyPrefix + userID }

// Save implements Mirror.
func (m *RedisMirror) Save(ctx context.Context, rec Record) error {
	key := presenceKey(rec.UserID)
	fields := map[string]interface{}{
		fieldOnline: strconv.FormatBool(rec.Online),
	}
	if !rec.LastSeen.IsZero() {
		fields[fieldLastSeen] = rec.LastSeen.UTC().Format(time.RFC3339Nano)
	}

	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		if m.ttl > 0 {
			p.Expire(ctx, key, m.ttl)
		}
		return nil
	})
	return errors.Wrapf(err, "save presence %s", rec.UserID)
}

// Load implements Mirror.
func (m *RedisMirror) Load(ctx context.Context, userID string) (Record, error) {
	vals, err := m.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return Record{}, errors.Wrapf(err, "load presence %s", userID)
	}
	if len(vals) == 0 {
		return Record{}, errors.Wrapf(ErrNotFound, "user %s", userID)
	}
	return decodeRecord(userID, vals)
}

func decodeRecord(userID string, vals map[string]string) (Record, error) {
	rec := Record{UserID: userID}
	if v, ok := vals[fieldOnline]; ok {
		online, err := strconv.ParseBool(v)
		if err != nil {
			return Record{}, errors.Wrapf(err, "decode %s for %s", fieldOnline, userID)
		}
		rec.Online = online
	}
	if v, ok := vals[fieldLastSeen]; ok && v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Record{}, errors.Wrapf(err, "decode %s for %s", fieldLastSeen, userID)
		}
		rec.LastSeen = ts
	}
	return rec, nil
}
