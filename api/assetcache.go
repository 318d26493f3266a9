package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const assetKeyPrefix = "assets:"

// cachedAsset is the stored form of a successful GET response.
type cachedAsset struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// AssetCache serves static assets network-first with a Redis fallback.
// Entries live under a single named generation; activating a new
// generation evicts every previous one.
type AssetCache struct {
	redis      *redis.Client
	generation string
	ttl        time.Duration
	logger     *log.Logger
}

func NewAssetCache(rdb *redis.Client, generation string, ttl time.Duration, logger *log.Logger) *AssetCache {
	return &AssetCache{redis: rdb, generation: generation, ttl: ttl, logger: logger}
}

func (a *AssetCache) key(path string) string {
	return assetKeyPrefix + a.generation + ":" + path
}

// EvictStale removes every cached asset that does not belong to the
// active generation. Called once on startup.
func (a *AssetCache) EvictStale(ctx context.Context) error {
	live := a.key("")
	iter := a.redis.Scan(ctx, 0, assetKeyPrefix+"*", 0).Iterator()
	var stale []string
	for iter.Next(ctx) {
		k := iter.Val()
		if !strings.HasPrefix(k, live) {
			stale = append(stale, k)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning asset cache: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := a.redis.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("evicting stale asset generations: %w", err)
	}
	return nil
}

func (a *AssetCache) cacheable(c echo.Context) bool {
	if c.Request().Method != http.MethodGet {
		return false
	}
	p := c.Request().URL.Path
	if strings.HasPrefix(p, "/api") || p == "/metrics" || p == "/healthz" {
		return false
	}
	return true
}

// Middleware attempts the handler first and caches successful
// responses. When the handler fails, a cached copy is served instead.
func (a *AssetCache) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.cacheable(c) {
				return next(c)
			}
			rec := &captureWriter{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec
			err := next(c)
			status := c.Response().Status
			if err == nil && status >= 200 && status < 300 {
				a.store(c.Request().Context(), c.Request().URL.Path, status, c.Response().Header().Get(echo.HeaderContentType), rec.buf.Bytes())
				return nil
			}
			if c.Response().Committed {
				return err
			}
			if a.serveCached(c) {
				return nil
			}
			return err
		}
	}
}

func (a *AssetCache) store(ctx context.Context, path string, status int, contentType string, body []byte) {
	entry := cachedAsset{Status: status, ContentType: contentType, Body: body}
	raw, merr := sonic.Marshal(entry)
	if merr != nil {
		a.logger.Errorf("Unable to encode asset cache entry, err: %s", merr)
		return
	}
	if err := a.redis.Set(ctx, a.key(path), raw, a.ttl).Err(); err != nil {
		a.logger.Errorf("Unable to store asset cache entry, err: %s", err)
	}
}

func (a *AssetCache) serveCached(c echo.Context) bool {
	ctx := c.Request().Context()
	raw, err := a.redis.Get(ctx, a.key(c.Request().URL.Path)).Bytes()
	if err != nil {
		if err != redis.Nil {
			a.logger.Errorf("Unable to read asset cache, err: %s", err)
		}
		return false
	}
	var entry cachedAsset
	if err = sonic.Unmarshal(raw, &entry); err != nil {
		a.logger.Errorf("Corrupt asset cache entry, err: %s", err)
		return false
	}
	if entry.ContentType != "" {
		c.Response().Header().Set(echo.HeaderContentType, entry.ContentType)
	}
	if err = c.Blob(entry.Status, entry.ContentType, entry.Body); err != nil {
		return false
	}
	return true
}

// captureWriter tees the response body so successful responses can be
// cached after they are written.
type captureWriter struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
