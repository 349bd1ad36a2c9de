package model

import (
	"sync"
	"time"
)

// Flash is the status bar's transient notice: one message at a time,
// gone after its TTL.
type Flash struct {
	ttl time.Duration

	mu      sync.Mutex
	text    string
	shownAt time.Time
}

// NewFlash creates a flash holder whose messages live for ttl.
func NewFlash(ttl time.Duration) *Flash {
	return &Flash{ttl: ttl}
}

// Set replaces the current notice and restarts its lifetime.
func (f *Flash) Set(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.shownAt = time.Now()
}

// Get returns the active notice, or "" once it has aged out.
func (f *Flash) Get() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.text == "" || time.Since(f.shownAt) > f.ttl {
		return ""
	}
	return f.text
}
