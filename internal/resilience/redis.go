package resilience

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vertexgw/vertex-gateway/internal/domain"
)

// Lua scripts keep state transitions atomic across the keys of one breaker,
// so multiple gateway processes observe a consistent circuit.

// allowScript gates a call and handles the open -> half-open transition.
// Keys: [state, last_failure]
// Args: [recovery_timeout_seconds]
// Returns: "allow", "trial" or "open"
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local timeout = tonumber(ARGV[1])

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) >= timeout then
        redis.call('SET', KEYS[1], 'half-open')
        return 'trial'
    end
    return 'open'
end

if state == 'half-open' then
    return 'open'
end

return 'allow'
`)

// recordSuccessScript closes the circuit after a successful half-open trial.
// Keys: [state, failures]
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'closed')
end
redis.call('SET', KEYS[2], '0')
return redis.call('GET', KEYS[1]) or 'closed'
`)

// recordFailureScript counts a failure and opens the circuit at threshold or
// on a failed half-open trial.
// Keys: [state, failures, last_failure]
// Args: [failure_threshold]
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local failures = redis.call('INCR', KEYS[2])
    if failures >= tonumber(ARGV[1]) then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    return 'open'
end

return state
`)

// RedisBreaker shares breaker state for one (model, region) pair across
// processes. The half-open trial slot is the process that wins the
// open -> half-open transition.
type RedisBreaker struct {
	client    *redis.Client
	key       string
	config    BreakerConfig
	keyPrefix string
}

func NewRedisBreaker(redisURL string, key string, cfg BreakerConfig) (*RedisBreaker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisBreakerWithClient(client, key, cfg), nil
}

// NewRedisBreakerWithClient shares an existing connection pool.
func NewRedisBreakerWithClient(client *redis.Client, key string, cfg BreakerConfig) *RedisBreaker {
	return &RedisBreaker{
		client:    client,
		key:       key,
		config:    cfg,
		keyPrefix: "vertexgw:cb:" + key + ":",
	}
}

func (b *RedisBreaker) stateKey() string       { return b.keyPrefix + "state" }
func (b *RedisBreaker) failuresKey() string    { return b.keyPrefix + "failures" }
func (b *RedisBreaker) lastFailureKey() string { return b.keyPrefix + "last_failure" }

func (b *RedisBreaker) Allow(ctx context.Context) error {
	res, err := allowScript.Run(ctx, b.client,
		[]string{b.stateKey(), b.lastFailureKey()},
		int(b.config.RecoveryTimeout.Seconds()),
	).Text()
	if err != nil {
		// Redis being unreachable must not block calls; fail open.
		return nil
	}

	if res == "open" {
		return domain.NewCircuitOpenError(b.key, b.remaining(ctx))
	}
	return nil
}

func (b *RedisBreaker) RecordSuccess(ctx context.Context) {
	state, err := recordSuccessScript.Run(ctx, b.client,
		[]string{b.stateKey(), b.failuresKey()},
	).Text()
	if err == nil {
		b.publishState(state)
	}
}

func (b *RedisBreaker) RecordFailure(ctx context.Context) {
	state, err := recordFailureScript.Run(ctx, b.client,
		[]string{b.stateKey(), b.failuresKey(), b.lastFailureKey()},
		b.config.FailureThreshold,
	).Text()
	if err == nil {
		b.publishState(state)
	}
}

func (b *RedisBreaker) State(ctx context.Context) State {
	val, err := b.client.Get(ctx, b.stateKey()).Result()
	if err != nil {
		return StateClosed
	}
	switch val {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *RedisBreaker) remaining(ctx context.Context) time.Duration {
	val, err := b.client.Get(ctx, b.lastFailureKey()).Result()
	if err != nil {
		return b.config.RecoveryTimeout
	}
	last, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return b.config.RecoveryTimeout
	}
	elapsed := time.Since(time.Unix(last, 0))
	if remaining := b.config.RecoveryTimeout - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

func (b *RedisBreaker) publishState(state string) {
	switch state {
	case "open":
		publishBreakerState(b.key, StateOpen)
	case "half-open":
		publishBreakerState(b.key, StateHalfOpen)
	default:
		publishBreakerState(b.key, StateClosed)
	}
}
