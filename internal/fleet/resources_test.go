package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/cloud/fake"
	"github.com/dropsignal/fleetpoller/internal/retry"
)

func testRetrier() *retry.Executor {
	return retry.New(retry.Config{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}, zap.NewNop())
}

func TestResourceCache_ConcurrentEnsureCreatesOnce(t *testing.T) {
	t.Parallel()

	client := fake.NewClient()
	cache := NewResourceCache(client, testRetrier(), DefaultNames(), zap.NewNop())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Ensure(context.Background(), "us-east-1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, client.Calls("CreateCluster"))
	require.Equal(t, 1, client.Calls("CreateAccessRule"))
	require.Equal(t, 1, client.Calls("RegisterTaskTemplate"))
}

func TestResourceCache_DescribeBeforeCreateSurvivesRestart(t *testing.T) {
	t.Parallel()

	client := fake.NewClient()
	first := NewResourceCache(client, testRetrier(), DefaultNames(), zap.NewNop())
	_, err := first.Ensure(context.Background(), "eu-west-1")
	require.NoError(t, err)

	// A new cache simulates a restarted process: lookups by well-known name
	// must find the existing definitions instead of recreating them.
	second := NewResourceCache(client, testRetrier(), DefaultNames(), zap.NewNop())
	_, err = second.Ensure(context.Background(), "eu-west-1")
	require.NoError(t, err)

	require.Equal(t, 1, client.Calls("CreateCluster"))
	require.Equal(t, 1, client.Calls("RegisterTaskTemplate"))
}

func TestResourceCache_TemplateCreationSerializedAcrossRegions(t *testing.T) {
	t.Parallel()

	client := fake.NewClient()
	client.TemplateDelay = 20 * time.Millisecond
	cache := NewResourceCache(client, testRetrier(), DefaultNames(), zap.NewNop())

	regions := []string{"us-east-1", "us-west-2", "eu-west-1", "eu-central-1"}
	var wg sync.WaitGroup
	for _, region := range regions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Ensure(context.Background(), region)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, len(regions), client.Calls("RegisterTaskTemplate"))
	require.Equal(t, 1, client.MaxTemplateInflight())
}

func TestResourceCache_FailureLeavesRegionUncached(t *testing.T) {
	t.Parallel()

	client := fake.NewClient()
	// More throttles than the retrier tolerates: the first Ensure fails.
	client.ThrottleFirst = map[string]int{"CreateCluster": 10}
	cache := NewResourceCache(client, testRetrier(), DefaultNames(), zap.NewNop())

	_, err := cache.Ensure(context.Background(), "us-east-1")
	require.Error(t, err)

	// Once the platform recovers a later call retries from scratch.
	client.ThrottleFirst = nil
	_, err = cache.Ensure(context.Background(), "us-east-1")
	require.NoError(t, err)
}
