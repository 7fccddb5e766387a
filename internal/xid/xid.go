package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var counter uint64

// New returns a prefixed opaque id. A process-local counter keeps ids
// minted within the same nanosecond distinct and in creation order.
func New(prefix string) string {
	n := atomic.AddUint64(&counter, 1)
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), n)
	}
	return fmt.Sprintf("%s-%d-%d-%s", prefix, time.Now().UnixNano(), n, hex.EncodeToString(buf))
}
