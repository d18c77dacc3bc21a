package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"

	// defaultPresenceTTL bounds how long a crashed instance's entries
	// survive. Live connections refresh their entry well inside this.
	defaultPresenceTTL = 120 * time.Second
)

// removeIfOwnedScript deletes a presence key only when it still holds the
// caller's connection id, mirroring the stale-handle guard of the in-memory
// registry.
var removeIfOwnedScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// RedisRegistry stores presence in a shared Redis so multiple relay
// instances agree on who is reachable.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisRegistry{
		client: client,
		ttl:    defaultPresenceTTL,
	}, nil
}

func (r *RedisRegistry) SetPresenceTTL(ttl time.Duration) {
	r.ttl = ttl
}

func (r *RedisRegistry) Register(ctx context.Context, username, connId string) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+username, connId, r.ttl)
	pipe.SAdd(ctx, onlineSetKey, username)
	pipe.Expire(ctx, onlineSetKey, r.ttl*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, username string) (string, bool, error) {
	connId, err := r.client.Get(ctx, presenceKeyPrefix+username).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup presence: %w", err)
	}

	return connId, true, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, username, connId string) error {
	err := removeIfOwnedScript.Run(ctx, r.client,
		[]string{presenceKeyPrefix + username, onlineSetKey},
		connId, username,
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Snapshot(ctx context.Context) (map[string]string, error) {
	usernames, err := r.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}

	snapshot := make(map[string]string, len(usernames))
	if len(usernames) == 0 {
		return snapshot, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(usernames))
	for i, username := range usernames {
		cmds[i] = pipe.Get(ctx, presenceKeyPrefix+username)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("fetch presence entries: %w", err)
	}

	var expired []interface{}
	for i, cmd := range cmds {
		connId, err := cmd.Result()
		if err != nil {
			if err == redis.Nil {
				// entry expired but the user is still in the online set
				expired = append(expired, usernames[i])
			}
			continue
		}
		snapshot[usernames[i]] = connId
	}

	if len(expired) > 0 {
		r.client.SRem(ctx, onlineSetKey, expired...)
	}

	return snapshot, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
