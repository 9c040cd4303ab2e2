package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"wallet-custody/models"
)

// getTestRedis returns a client for REDIS_URL or skips the test
func getTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisChallengeStore(t *testing.T) {
	store := NewRedisChallengeStore(getTestRedis(t), 2*time.Minute)
	testChallengeStore(t, store)
}

func TestRedisChallengeStore_KeyExpires(t *testing.T) {
	client := getTestRedis(t)
	store := NewRedisChallengeStore(client, 2*time.Minute)
	ctx := context.Background()

	c := models.NewChallenge("pub-"+uuid.NewString(), "test-"+uuid.NewString())
	if err := store.CreateChallenge(ctx, c); err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	ttl, err := client.TTL(ctx, redisChallengeKey(c.ClientPublicKey, c.Message)).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 2*time.Minute || ttl > 4*time.Minute {
		t.Errorf("TTL = %v, want between 2m and 4m", ttl)
	}
}

func TestRedisChallengeStore_MarkUnknown(t *testing.T) {
	store := NewRedisChallengeStore(getTestRedis(t), time.Minute)

	c := models.NewChallenge("pub-"+uuid.NewString(), "never-stored")
	ok, err := store.MarkChallengeUsed(context.Background(), c)
	if err != nil || ok {
		t.Errorf("MarkChallengeUsed(unknown) = %v, %v; want false, nil", ok, err)
	}
}

func TestRedisChallengeKey(t *testing.T) {
	got := redisChallengeKey("02abc", "hello")
	if got != "custody:challenge:02abc:hello" {
		t.Errorf("redisChallengeKey = %q, want custody:challenge:02abc:hello", got)
	}
}
