package intake

import (
	"crypto/sha256"
	"strings"
	"sync"
	"time"
)

// Dedup remembers recently accepted passages so a producer resending the
// same text (an OCR loop over an unchanged screen) is submitted once per TTL.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[[sha256.Size]byte]time.Time
}

func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{ttl: ttl, seen: make(map[[sha256.Size]byte]time.Time)}
}

// Fresh reports whether text was not accepted within the TTL and records it.
// Surrounding whitespace is ignored. A zero TTL accepts everything.
func (d *Dedup) Fresh(text string, now time.Time) bool {
	if d == nil || d.ttl <= 0 {
		return true
	}
	key := sha256.Sum256([]byte(strings.TrimSpace(text)))

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now
	return true
}

// Len returns the number of remembered passages.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
