package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-registration/internal/config"
)

// NewRedisCache returns a response-cache middleware for the public
// catalogue endpoints (session and speaker listings).  Responses are
// stored whole (status, headers and body), so a cache hit
// is byte-for-byte what the handler produced.  Only 200 responses to
// the configured methods are cached; anything behind this middleware
// must serve exclusively public data, since entries are shared across
// callers.  A nil Redis client or a disabled config yields a
// pass-through.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}

			key := cacheKey(cfg, c)
			if entry, err := rdb.Get(c.Request().Context(), key).Bytes(); err == nil {
				if serveCached(c, entry) {
					return nil
				}
				// Undecodable entry: fall through and overwrite it.
			}

			rec := &responseRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}

			if rec.status == http.StatusOK && !rec.overflowed() {
				hdr := make(http.Header, len(c.Response().Header()))
				for k, vals := range c.Response().Header() {
					hdr[k] = append([]string(nil), vals...)
				}
				if entry, err := encodeEntry(rec.status, hdr, rec.body.Bytes()); err == nil {
					// The request context may already be done once the
					// response is written; store with a fresh one.
					_ = rdb.SetEx(context.Background(), key, entry, ttl).Err()
				}
			}
			return nil
		}
	}
}

// serveCached writes a stored entry to the client.  It reports false
// when the entry cannot be decoded.
func serveCached(c echo.Context, entry []byte) bool {
	status, hdr, body, ok := decodeEntry(entry)
	if !ok {
		return false
	}
	for k, vals := range hdr {
		// Echo recomputes Content-Length from the written body.
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().Header().Set("X-Cache", "HIT")
	c.Response().WriteHeader(status)
	if len(body) > 0 {
		_, _ = c.Response().Write(body)
	}
	return true
}

// responseRecorder tees the handler's output to the client while
// keeping a bounded copy for the cache.  Responses larger than the
// limit are still served in full but are not cached.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	body    bytes.Buffer
	written int64
	limit   int64
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.limit <= 0 {
		r.body.Write(b)
	} else if remain := r.limit - r.written; remain > 0 {
		if int64(len(b)) <= remain {
			r.body.Write(b)
		} else {
			r.body.Write(b[:remain])
		}
	}
	r.written += int64(len(b))
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) overflowed() bool {
	return r.limit > 0 && r.written > r.limit
}

// cacheKey derives a stable Redis key from the configured strategy.
// The route template (c.Path), not the raw URL, feeds the key, so
// catalogue entries are shared per route and query rather than per
// concrete request line.  The variable part is hashed to keep keys
// short.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{"route", c.Path()}
	case "method_route":
		parts = []string{"method", r.Method, "route", c.Path()}
	case "method_route_query":
		parts = []string{"method", r.Method, "route", c.Path(), "q", r.URL.RawQuery}
	default: // "route_query"
		parts = []string{"route", c.Path(), "q", r.URL.RawQuery}
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// Entry layout: 4-byte status, 4-byte header length, header JSON,
// then the raw body.
func encodeEntry(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodeEntry(entry []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(entry) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(entry[0:4]))
	hlen := int(binary.BigEndian.Uint32(entry[4:8]))
	if hlen < 0 || 8+hlen > len(entry) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(entry[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, entry[8+hlen:], true
}
