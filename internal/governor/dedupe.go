package governor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/unihub-app/unihub/backend/internal/metrics"
)

// Dedupe coalesces identical in-flight requests: concurrent callers sharing
// a key receive the single pending result instead of issuing duplicates.
type Dedupe struct {
	group   singleflight.Group
	metrics *metrics.Metrics
}

// NewDedupe builds an empty dedupe layer.
func NewDedupe(m *metrics.Metrics) *Dedupe {
	return &Dedupe{metrics: m}
}

// Do runs fn once per key among concurrent callers.
func (d *Dedupe) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, shared := d.group.Do(key, fn)
	if shared {
		d.metrics.Blocked("dedupe")
	}
	return v, err
}

// RequestKey derives a dedupe key from an HTTP request shape. The body hash
// keeps distinct writes to the same path from coalescing.
func RequestKey(method, path string, body []byte) string {
	if len(body) == 0 {
		return fmt.Sprintf("%s %s", method, path)
	}
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s %s %s", method, path, hex.EncodeToString(sum[:8]))
}
