package counting

import (
	"sync"
	"time"
)

// scanDedup suppresses repeated decodes of the same code inside a window.
// Scanners fire several times while a label stays in view.
type scanDedup struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newScanDedup(window time.Duration, now func() time.Time) *scanDedup {
	return &scanDedup{window: window, now: now, seen: make(map[string]time.Time)}
}

// IsDuplicate reports whether code was seen within the window and records it otherwise
func (d *scanDedup) IsDuplicate(code string) bool {
	if code == "" || d.window <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[code]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[code] = now

	// Cleanup old entries if map gets too big
	if len(d.seen) > 256 {
		for k, v := range d.seen {
			if now.Sub(v) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	return false
}

// Forget drops a code so the next decode is accepted
func (d *scanDedup) Forget(code string) {
	d.mu.Lock()
	delete(d.seen, code)
	d.mu.Unlock()
}

func (d *scanDedup) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.mu.Unlock()
}
