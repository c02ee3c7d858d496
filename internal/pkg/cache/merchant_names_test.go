package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/testutil/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayNameWithoutCache(t *testing.T) {
	store := memstore.New()
	m := store.AddMerchant(models.Merchant{Name: "corner-shop", DisplayName: "Corner Shop"})
	names := NewMerchantNames(nil, store.Repositories().Merchant, 0)

	assert.Equal(t, "Corner Shop", names.DisplayName(context.Background(), m.ID))
	assert.Equal(t, "", names.DisplayName(context.Background(), 999))
	names.Forget(context.Background(), m.ID)
}

// Runs only when CACHE_TEST_ADDR points at a reachable server.
func TestDisplayNameReadsThroughCache(t *testing.T) {
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

	store := memstore.New()
	m := store.AddMerchant(models.Merchant{Name: "kiosk"})
	names := NewMerchantNames(client, store.Repositories().Merchant, time.Minute)
	defer names.Forget(ctx, m.ID)

	assert.Equal(t, "kiosk", names.DisplayName(ctx, m.ID))
	cached, err := client.Get(ctx, merchantNameKey(m.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, "kiosk", cached)
}
