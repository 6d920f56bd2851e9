package preview

import (
	"sync"
	"time"

	"github.com/instantpreview/instantpreview/internal/fingerprint"
)

// Document is one synthesized preview page.
type Document struct {
	HTML        string
	Plan        Plan
	Language    string
	Fingerprint fingerprint.Sum
	Version     uint64
	CreatedAt   time.Time
}

// Surface is the isolated place documents are rendered into. Replace swaps
// the whole document; there is no partial update.
type Surface interface {
	Replace(doc Document) (Document, error)
}

// MemorySurface keeps the current document in memory for the preview
// listener to serve.
type MemorySurface struct {
	mu      sync.RWMutex
	current Document
	has     bool
	version uint64
	subs    map[chan Document]struct{}
}

// NewMemorySurface returns an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{subs: make(map[chan Document]struct{})}
}

// Replace stores doc as the current document, assigning it the next version.
func (s *MemorySurface) Replace(doc Document) (Document, error) {
	s.mu.Lock()
	s.version++
	doc.Version = s.version
	if doc.Fingerprint.IsZero() {
		doc.Fingerprint = fingerprint.Of(doc.HTML)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.current = doc
	s.has = true
	for ch := range s.subs {
		select {
		case ch <- doc:
		default:
		}
	}
	s.mu.Unlock()
	return doc, nil
}

// Current returns the latest document, if any run has completed.
func (s *MemorySurface) Current() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.has
}

// Version returns the version of the current document, 0 before the first run.
func (s *MemorySurface) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a channel that receives every replaced document and a
// function that ends the subscription.
func (s *MemorySurface) Subscribe() (<-chan Document, func()) {
	ch := make(chan Document, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}
