package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"wallet-custody/models"
)

// markUsedScript flips status only while it still holds the expected value
var markUsedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'status', ARGV[2])
	return 1
end
return 0
`)

// RedisChallengeStore keeps challenges in Redis hashes that expire on their own
type RedisChallengeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisChallengeStore creates a store whose entries outlive the challenge
// TTL long enough for late replays to be reported as used or expired
func NewRedisChallengeStore(client *redis.Client, challengeTTL time.Duration) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, ttl: 2 * challengeTTL}
}

func redisChallengeKey(clientPublicKey, message string) string {
	return "custody:challenge:" + clientPublicKey + ":" + message
}

// CreateChallenge stores c with an expiry
func (s *RedisChallengeStore) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	key := redisChallengeKey(c.ClientPublicKey, c.Message)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", c.ID.String(),
			"status", string(c.Status),
			"created_at", c.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to save challenge")
	}

	return nil
}

// FindChallenge returns the stored challenge, or nil when it is unknown or evicted
func (s *RedisChallengeStore) FindChallenge(ctx context.Context, clientPublicKey, message string) (*models.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, redisChallengeKey(clientPublicKey, message)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get challenge")
	}
	if len(fields) == 0 {
		return nil, nil
	}

	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, errors.Wrap(err, "malformed challenge id")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, errors.Wrap(err, "malformed challenge timestamp")
	}

	return &models.Challenge{
		ID:              id,
		ClientPublicKey: clientPublicKey,
		Message:         message,
		Status:          models.ChallengeStatus(fields["status"]),
		CreatedAt:       createdAt,
	}, nil
}

// MarkChallengeUsed atomically flips pending to used
func (s *RedisChallengeStore) MarkChallengeUsed(ctx context.Context, c *models.Challenge) (bool, error) {
	n, err := markUsedScript.Run(ctx, s.client,
		[]string{redisChallengeKey(c.ClientPublicKey, c.Message)},
		string(models.ChallengeStatusPending), string(models.ChallengeStatusUsed),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "failed to mark challenge used")
	}

	if n == 0 {
		return false, nil
	}
	c.Status = models.ChallengeStatusUsed
	return true, nil
}
