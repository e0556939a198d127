// Package globaltime is the process-wide clock. Production code reads
// time through it so tests can pin "now" for window and week math.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

// UTC returns the current time normalized to UTC; all stored timestamps
// use it.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime freezes the clock at t until ResetTime is called.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
