package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceStore mirrors user_call_statuses into Redis after commit. It is a
// read hint only; admission decisions are always taken by the database.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

const presenceKeyPrefix = "call:presence:" // user id -> current call id

// NewPresenceStore creates a new presence store
func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 2 * time.Hour // longest call we expect to mirror
	}
	return &PresenceStore{
		client: client,
		ttl:    ttl,
	}
}

func PresenceKey(userID uuid.UUID) string {
	return presenceKeyPrefix + userID.String()
}

// SetInCall records that both users hold callID.
func (p *PresenceStore) SetInCall(ctx context.Context, callID uuid.UUID, userIDs ...uuid.UUID) error {
	pipe := p.client.Pipeline()
	for _, id := range userIDs {
		pipe.Set(ctx, PresenceKey(id), callID.String(), p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Deletes the key only when it still points at the released call, so a
// late release never clears a newer call.
var releaseScript = goredis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Release clears the mirror for users still pointing at callID.
func (p *PresenceStore) Release(ctx context.Context, callID uuid.UUID, userIDs ...uuid.UUID) error {
	var errs []error
	for _, id := range userIDs {
		if err := releaseScript.Run(ctx, p.client, []string{PresenceKey(id)}, callID.String()).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CurrentCall returns the mirrored call id for userID.
func (p *PresenceStore) CurrentCall(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := p.client.Get(ctx, PresenceKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}
