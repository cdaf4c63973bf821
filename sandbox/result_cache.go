package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codepool/command"
)

// ResultCache is a cache-aside layer over a KeyValueStore. Backend failures
// never reach the caller: lookups degrade to a miss and stores are dropped.
type ResultCache struct {
	store    KeyValueStore
	ttl      time.Duration
	logger   *zap.Logger
	recorder Recorder
}

// NewResultCache creates a ResultCache. A nil store disables caching.
func NewResultCache(store KeyValueStore, ttl time.Duration, logger *zap.Logger, recorder Recorder) *ResultCache {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ResultCache{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		recorder: recorder,
	}
}

// CacheKey derives the content-addressed key for a (language, source) pair
func CacheKey(lang command.Language, source string) string {
	sum := sha256.Sum256([]byte(normalizeSource(source)))
	return fmt.Sprintf("compile:%s:%s", lang, hex.EncodeToString(sum[:]))
}

// normalizeSource makes line endings and trailing whitespace irrelevant to the key
func normalizeSource(source string) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	return strings.TrimRight(source, " \t\r\n")
}

// Lookup returns the cached result for the pair, marked FromCache
func (c *ResultCache) Lookup(ctx context.Context, lang command.Language, source string) (ExecutionResult, bool) {
	if c.store == nil {
		return ExecutionResult{}, false
	}

	key := CacheKey(lang, source)
	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed, treating as miss",
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: %w", ErrCacheUnavailable, err)))
		c.recorder.CacheLookup(false)
		return ExecutionResult{}, false
	}
	if !found {
		c.recorder.CacheLookup(false)
		return ExecutionResult{}, false
	}

	var result ExecutionResult
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.recorder.CacheLookup(false)
		return ExecutionResult{}, false
	}

	c.recorder.CacheLookup(true)
	result.FromCache = true
	return result, true
}

// Store saves result under the pair's key. Results carrying an infrastructure
// error are not cached.
func (c *ResultCache) Store(ctx context.Context, lang command.Language, source string, result ExecutionResult) {
	if c.store == nil || result.Error != "" {
		return
	}

	result.FromCache = false
	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("failed to encode result for cache", zap.Error(err))
		return
	}

	key := CacheKey(lang, source)
	if err := c.store.SetWithTTL(ctx, key, string(payload), c.ttl); err != nil {
		c.logger.Warn("failed to cache result",
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: %w", ErrCacheUnavailable, err)))
	}
}
