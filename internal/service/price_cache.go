package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/otpbay/otpbay/pkg/cache"

	"github.com/sirupsen/logrus"
)

// PriceCache keeps provider price listings in Redis for a short window so
// repeated browsing does not burn upstream quota. Failures degrade to a miss.
type PriceCache struct {
	cache  *cache.RedisCache
	ttl    time.Duration
	logger *logrus.Logger
}

func NewPriceCache(c *cache.RedisCache, ttl time.Duration, logger *logrus.Logger) *PriceCache {
	return &PriceCache{cache: c, ttl: ttl, logger: logger}
}

func priceKey(provider, country, product string) string {
	return fmt.Sprintf("prices:%s:%s:%s", provider, country, product)
}

func (p *PriceCache) Get(ctx context.Context, provider, country, product string) (json.RawMessage, bool) {
	if p == nil || p.cache == nil {
		return nil, false
	}

	value, err := p.cache.Get(ctx, priceKey(provider, country, product))
	if err != nil {
		if err != cache.ErrCacheMiss {
			p.logger.WithError(err).Warn("Price cache read failed")
		}
		return nil, false
	}

	return json.RawMessage(value), true
}

func (p *PriceCache) Set(ctx context.Context, provider, country, product string, body json.RawMessage) {
	if p == nil || p.cache == nil {
		return
	}

	if err := p.cache.Set(ctx, priceKey(provider, country, product), []byte(body), p.ttl); err != nil {
		p.logger.WithError(err).Warn("Price cache write failed")
	}
}
