package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AviOnlineSec/cra/pkg/config"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Signature headers
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderKeyID     = "X-Signature-KeyId"
)

// Sign computes the hex HMAC-SHA256 of METHOD|URL|timestamp|nonce|body
func Sign(secret, method, url, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method) + "|" + url + "|" + timestamp + "|" + nonce + "|"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseTimestamp accepts RFC 3339 timestamps and unix seconds
func parseTimestamp(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, true
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}

// nonceCache remembers recently used nonces. Entries live for the whole
// timestamp window, so a replay inside it is caught unless the cache has
// already evicted the nonce to stay within its size.
type nonceCache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func newNonceCache(size int, ttl time.Duration) *nonceCache {
	if size <= 0 {
		size = 10000
	}
	return &nonceCache{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// claim records nonce and reports whether it was unused
func (n *nonceCache) claim(nonce string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, used := n.seen.Get(nonce); used {
		return false
	}
	n.seen.Add(nonce, struct{}{})
	return true
}

// SignatureMiddleware rejects requests without a valid HMAC signature. It is
// a no-op when no secret is configured. The signed URL may be the request
// URI alone or prefixed with scheme and host. A nonce is accepted once per
// timestamp window.
func SignatureMiddleware(cfg config.SignatureConfig) echo.MiddlewareFunc {
	window := 2 * cfg.MaxSkew
	if window <= 0 {
		window = 10 * time.Minute
	}
	nonces := newNonceCache(cfg.NonceCacheSize, window)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if cfg.Secret == "" {
			return next
		}
		return func(c echo.Context) error {
			log := logger.FromContext(c)
			req := c.Request()
			reject := func(reason string) error {
				prometheus.RecordAuthError("signature_" + reason)
				log.Warn("Request signature rejected", zap.String("reason", reason))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid request signature"})
			}

			sig := req.Header.Get(HeaderSignature)
			ts := req.Header.Get(HeaderTimestamp)
			nonce := req.Header.Get(HeaderNonce)
			if sig == "" || ts == "" || nonce == "" {
				return reject("missing")
			}
			if cfg.KeyID != "" && req.Header.Get(HeaderKeyID) != cfg.KeyID {
				return reject("key_id")
			}
			signedAt, ok := parseTimestamp(ts)
			if !ok {
				return reject("timestamp")
			}
			if skew := time.Since(signedAt); cfg.MaxSkew > 0 && (skew > cfg.MaxSkew || skew < -cfg.MaxSkew) {
				return reject("expired")
			}

			var body []byte
			if req.Body != nil {
				var err error
				if body, err = io.ReadAll(req.Body); err != nil {
					return reject("body")
				}
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
			if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
				// browsers cannot serialise form data into the signature
				body = []byte("{}")
			}

			urls := []string{req.RequestURI, c.Scheme() + "://" + req.Host + req.RequestURI}
			for _, u := range urls {
				expected := Sign(cfg.Secret, req.Method, u, ts, nonce, body)
				if hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
					if !nonces.claim(req.Header.Get(HeaderKeyID) + "|" + nonce) {
						return reject("replay")
					}
					return next(c)
				}
			}
			return reject("mismatch")
		}
	}
}
