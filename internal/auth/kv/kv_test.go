package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// storeUnderTest lets both drivers share one contract suite.
type storeUnderTest struct {
	name    string
	store   Store
	advance func(d time.Duration)
}

func newStoresUnderTest(t *testing.T) []storeUnderTest {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return []storeUnderTest{
		{
			name:  "memory",
			store: NewMemory(),
			// The memory driver uses wall-clock TTLs; tests use short sleeps.
			advance: func(d time.Duration) { time.Sleep(d) },
		},
		{
			name:    "redis",
			store:   NewRedisFromClient(client),
			advance: func(d time.Duration) { mini.FastForward(d) },
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for _, tc := range newStoresUnderTest(t) {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.store

			t.Run("put then get", func(t *testing.T) {
				require.NoError(t, s.Put(ctx, "ac:abc", "grant-payload", time.Minute))

				got, err := s.Get(ctx, "ac:abc")
				require.NoError(t, err)
				require.Equal(t, "grant-payload", got)
			})

			t.Run("get absent key", func(t *testing.T) {
				_, err := s.Get(ctx, "ac:missing")
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, s.Put(ctx, "refresh:fp1", "record", time.Minute))
				require.NoError(t, s.Delete(ctx, "refresh:fp1"))

				_, err := s.Get(ctx, "refresh:fp1")
				require.ErrorIs(t, err, ErrNotFound)

				// Deleting again is not an error.
				require.NoError(t, s.Delete(ctx, "refresh:fp1"))
			})

			t.Run("list by prefix", func(t *testing.T) {
				require.NoError(t, s.Put(ctx, "rl:signin:a@x.com:1.1.1.1", "3", time.Minute))
				require.NoError(t, s.Put(ctx, "rl:signin:a@x.com:2.2.2.2", "1", time.Minute))
				require.NoError(t, s.Put(ctx, "rl:signin:b@x.com:1.1.1.1", "9", time.Minute))

				keys, err := s.List(ctx, "rl:signin:a@x.com:")
				require.NoError(t, err)
				require.ElementsMatch(t, []string{
					"rl:signin:a@x.com:1.1.1.1",
					"rl:signin:a@x.com:2.2.2.2",
				}, keys)
			})

			t.Run("ttl expiry", func(t *testing.T) {
				require.NoError(t, s.Put(ctx, "stamp:otp:code1", "1", 30*time.Millisecond))

				tc.advance(60 * time.Millisecond)

				_, err := s.Get(ctx, "stamp:otp:code1")
				require.ErrorIs(t, err, ErrNotFound)

				keys, err := s.List(ctx, "stamp:otp:")
				require.NoError(t, err)
				require.Empty(t, keys)
			})

			t.Run("last write wins", func(t *testing.T) {
				require.NoError(t, s.Put(ctx, "otc:email:c1", "111111", time.Minute))
				require.NoError(t, s.Put(ctx, "otc:email:c1", "222222", time.Minute))

				got, err := s.Get(ctx, "otc:email:c1")
				require.NoError(t, err)
				require.Equal(t, "222222", got)
			})
		})
	}
}
