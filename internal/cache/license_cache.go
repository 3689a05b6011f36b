package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appliance-license/internal/database"
	"appliance-license/internal/logging"
)

// Store is the subset of CacheService used by LicenseCache
type Store interface {
	IsHealthy() bool
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LicenseCache caches issued license rows by system serial
type LicenseCache struct {
	store Store
	ttl   time.Duration
}

// NewLicenseCache wraps store. A zero ttl uses DefaultLicenseTTL.
func NewLicenseCache(store Store, ttl time.Duration) *LicenseCache {
	if ttl <= 0 {
		ttl = DefaultLicenseTTL
	}
	return &LicenseCache{store: store, ttl: ttl}
}

// Get returns the cached row for serial. It returns ErrCacheMiss when absent
// and ErrCacheUnavailable when Redis is down.
func (lc *LicenseCache) Get(ctx context.Context, serial string) (*database.IssuedLicense, error) {
	key := IssuedLicenseKey(serial)
	data, err := lc.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var il database.IssuedLicense
	if err := json.Unmarshal([]byte(data), &il); err != nil {
		// A corrupt entry is dropped so the next lookup repopulates it.
		logging.CacheContext("get", key).WithError(err).Warn("Discarding unreadable cache entry")
		_ = lc.store.Delete(ctx, key)
		return nil, ErrCacheMiss
	}
	return &il, nil
}

// Set caches il under its system serial
func (lc *LicenseCache) Set(ctx context.Context, il *database.IssuedLicense) error {
	if il == nil || il.SystemSerial == "" {
		return fmt.Errorf("cannot cache license without system serial")
	}
	return lc.store.Set(ctx, IssuedLicenseKey(il.SystemSerial), il, lc.ttl)
}

// Invalidate drops the cached row for serial
func (lc *LicenseCache) Invalidate(ctx context.Context, serial string) error {
	err := lc.store.Delete(ctx, IssuedLicenseKey(serial))
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	return err
}

// Healthy reports whether the backing store is reachable
func (lc *LicenseCache) Healthy() bool {
	return lc.store.IsHealthy()
}
