package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const merchantNameKeyPrefix = "receiptfox:merchant:name:"

// MerchantNames resolves merchant display names, reading through the cache
// when a client is configured.
type MerchantNames struct {
	client    *redis.Client
	merchants repository.MerchantRepository
	ttl       time.Duration
}

func NewMerchantNames(client *redis.Client, merchants repository.MerchantRepository, ttl time.Duration) *MerchantNames {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MerchantNames{client: client, merchants: merchants, ttl: ttl}
}

func merchantNameKey(merchantID uint) string {
	return fmt.Sprintf("%s%d", merchantNameKeyPrefix, merchantID)
}

// DisplayName returns "" when the merchant is unknown.
func (m *MerchantNames) DisplayName(ctx context.Context, merchantID uint) string {
	if m.client != nil {
		name, err := Get(ctx, m.client, merchantNameKey(merchantID))
		switch {
		case err == nil:
			return name
		case !errors.Is(err, redis.Nil):
			log.Debugf("[Cache] Merchant name lookup for %d failed: %v", merchantID, err)
		}
	}

	merchant, err := m.merchants.GetByID(ctx, merchantID)
	if err != nil {
		log.Warnf("[Cache] Merchant %d could not be loaded: %v", merchantID, err)
		return ""
	}
	name := merchant.Label()

	if m.client != nil {
		if err := Set(ctx, m.client, merchantNameKey(merchantID), name, m.ttl); err != nil {
			log.Debugf("[Cache] Failed to cache name of merchant %d: %v", merchantID, err)
		}
	}
	return name
}

// Forget drops the cached name, e.g. after a merchant was renamed.
func (m *MerchantNames) Forget(ctx context.Context, merchantID uint) {
	if m.client == nil {
		return
	}
	if err := Delete(ctx, m.client, merchantNameKey(merchantID)); err != nil {
		log.Debugf("[Cache] Failed to forget name of merchant %d: %v", merchantID, err)
	}
}
