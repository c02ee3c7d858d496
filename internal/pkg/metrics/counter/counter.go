package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	outcomesKeyPrefix = "receiptfox:webhook:outcomes:"
	dayLayout         = "2006-01-02"
)

// OutcomeCount is the number of deliveries of one merchant that ended with
// the same outcome on one day.
type OutcomeCount struct {
	MerchantID uint   `json:"merchant_id"`
	Outcome    string `json:"outcome"`
	Count      int64  `json:"count"`
}

// DeliveryCounter keeps per day webhook outcome counters in a Redis hash.
// A nil client turns every call into a no-op.
type DeliveryCounter struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

func NewDeliveryCounter(client *redis.Client, retention time.Duration) *DeliveryCounter {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &DeliveryCounter{
		client:    client,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func outcomesKey(day time.Time) string {
	return outcomesKeyPrefix + day.UTC().Format(dayLayout)
}

func outcomeField(merchantID uint, outcome string) string {
	return strconv.FormatUint(uint64(merchantID), 10) + ":" + outcome
}

func parseOutcomeField(field string) (uint, string, bool) {
	idPart, outcome, ok := strings.Cut(field, ":")
	if !ok || outcome == "" {
		return 0, "", false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return uint(id), outcome, true
}

// RecordOutcome increments today's counter. Failures are logged only.
func (d *DeliveryCounter) RecordOutcome(ctx context.Context, merchantID uint, outcome string) {
	if d == nil || d.client == nil {
		return
	}
	key := outcomesKey(d.now())
	pipe := d.client.TxPipeline()
	pipe.HIncrBy(ctx, key, outcomeField(merchantID, outcome), 1)
	pipe.Expire(ctx, key, d.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debugf("[Counter] Failed to count outcome %s for merchant %d: %v", outcome, merchantID, err)
	}
}

// Snapshot returns the counters of day sorted by merchant and outcome.
func (d *DeliveryCounter) Snapshot(ctx context.Context, day time.Time) ([]OutcomeCount, error) {
	if d == nil || d.client == nil {
		return []OutcomeCount{}, nil
	}
	data, err := d.client.HGetAll(ctx, outcomesKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading outcome counters: %w", err)
	}
	return countsFromHash(data), nil
}

func countsFromHash(data map[string]string) []OutcomeCount {
	counts := make([]OutcomeCount, 0, len(data))
	for field, raw := range data {
		merchantID, outcome, ok := parseOutcomeField(field)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		counts = append(counts, OutcomeCount{MerchantID: merchantID, Outcome: outcome, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].MerchantID != counts[j].MerchantID {
			return counts[i].MerchantID < counts[j].MerchantID
		}
		return counts[i].Outcome < counts[j].Outcome
	})
	return counts
}
