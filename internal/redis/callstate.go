package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sentinal-call/internal/domain/call"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// CallStateStore caches call records for the status poll path.
type CallStateStore struct {
	client      *goredis.Client
	ttl         time.Duration
	terminalTTL time.Duration
}

const (
	callStateKeyPrefix = "call:state:"
	callStateTTL       = 5 * time.Minute
	terminalStateTTL   = 30 * time.Second
)

// NewCallStateStore creates a new call state store
func NewCallStateStore(client *goredis.Client) *CallStateStore {
	return &CallStateStore{client: client, ttl: callStateTTL, terminalTTL: terminalStateTTL}
}

func CallStateKey(callID uuid.UUID) string {
	return callStateKeyPrefix + callID.String()
}

// rank orders statuses along the graph so an older write never replaces a
// newer one.
func rank(s call.Status) int {
	switch {
	case s == call.StatusRinging:
		return 0
	case s == call.StatusOngoing:
		return 1
	case s.IsTerminal():
		return 2
	}
	return -1
}

// Stored as "<rank>|<json>"; the script compares the rank prefix.
var putStateScript = goredis.NewScript(`
	local cur = redis.call('GET', KEYS[1])
	if cur then
		local r = tonumber(string.match(cur, '^(%d+)|'))
		if r and r > tonumber(ARGV[1]) then
			return 0
		end
	end
	redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2], 'PX', ARGV[3])
	return 1
`)

// Put caches c unless a later status is already cached.
func (s *CallStateStore) Put(ctx context.Context, c call.Call) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if c.Status.IsTerminal() {
		ttl = s.terminalTTL
	}
	return putStateScript.Run(ctx, s.client, []string{CallStateKey(c.ID)},
		rank(c.Status), string(data), ttl.Milliseconds()).Err()
}

// Get returns the cached call, or false on a miss.
func (s *CallStateStore) Get(ctx context.Context, callID uuid.UUID) (call.Call, bool, error) {
	val, err := s.client.Get(ctx, CallStateKey(callID)).Result()
	if errors.Is(err, goredis.Nil) {
		return call.Call{}, false, nil
	}
	if err != nil {
		return call.Call{}, false, err
	}
	_, raw, ok := strings.Cut(val, "|")
	if !ok {
		return call.Call{}, false, nil
	}
	var c call.Call
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return call.Call{}, false, nil
	}
	return c, true, nil
}

// Remove drops the cached call.
func (s *CallStateStore) Remove(ctx context.Context, callID uuid.UUID) error {
	return s.client.Del(ctx, CallStateKey(callID)).Err()
}
