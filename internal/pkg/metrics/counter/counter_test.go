package counter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountsFromHash(t *testing.T) {
	counts := countsFromHash(map[string]string{
		"2:public":     "4",
		"1:private":    "2",
		"1:validation": "1",
		"garbage":      "9",
		"x:public":     "1",
		"3:private":    "zero",
		"4:duplicate":  "0",
	})

	assert.Equal(t, []OutcomeCount{
		{MerchantID: 1, Outcome: "private", Count: 2},
		{MerchantID: 1, Outcome: "validation", Count: 1},
		{MerchantID: 2, Outcome: "public", Count: 4},
	}, counts)
}

func TestNilClientIsNoop(t *testing.T) {
	var nilCounter *DeliveryCounter
	nilCounter.RecordOutcome(context.Background(), 1, "public")

	c := NewDeliveryCounter(nil, 0)
	c.RecordOutcome(context.Background(), 1, "public")
	counts, err := c.Snapshot(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

// Runs only when CACHE_TEST_ADDR points at a reachable server.
func TestRecordOutcomeAgainstRedis(t *testing.T) {
	addr := os.Getenv("CACHE_TEST_ADDR")
	if addr == "" {
		t.Skip("CACHE_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("cache not reachable: %v", err)
	}
	defer client.Close()

	day := time.Date(2031, 1, 2, 8, 0, 0, 0, time.UTC)
	c := NewDeliveryCounter(client, time.Minute)
	c.now = func() time.Time { return day }
	defer client.Del(ctx, outcomesKey(day))

	c.RecordOutcome(ctx, 7, "public")
	c.RecordOutcome(ctx, 7, "public")
	c.RecordOutcome(ctx, 7, "validation")

	counts, err := c.Snapshot(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, []OutcomeCount{
		{MerchantID: 7, Outcome: "public", Count: 2},
		{MerchantID: 7, Outcome: "validation", Count: 1},
	}, counts)
}
