package visitor

import (
	"time"

	"github.com/hostuk/visibility/internal/observability"
	"github.com/maypok86/otter"
	"github.com/spaolacci/murmur3"
)

// MemoClassifier memoizes another Classifier per distinct user agent and hint.
//
// Entries are keyed by a 64-bit Murmur3 digest so the cache does not pin
// every raw header string as a map key. The digest alone is not an identity:
// each entry keeps the inputs it was computed from, and Classify treats an
// entry whose inputs differ as a miss and overwrites it. A collision therefore
// costs one extra classification and never returns another agent's result.
type MemoClassifier struct {
	next  Classifier
	store otter.Cache[uint64, memoEntry]
	hash  func(userAgent string, hints ClientHints) uint64
}

type memoEntry struct {
	userAgent string
	hints     ClientHints
	result    Classification
}

// NewMemoClassifier wraps next with an otter cache.
// capacity: Max number of distinct user agents kept.
// ttl: Time-To-Live for each entry.
func NewMemoClassifier(next Classifier, capacity int, ttl time.Duration) (*MemoClassifier, error) {
	if next == nil {
		next = UserAgentClassifier{}
	}

	store, err := otter.MustBuilder[uint64, memoEntry](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoClassifier{next: next, store: store, hash: memoKey}, nil
}

// Classify implements Classifier.
func (m *MemoClassifier) Classify(userAgent string, hints ClientHints) Classification {
	key := m.hash(userAgent, hints)

	if e, ok := m.store.Get(key); ok && e.userAgent == userAgent && e.hints == hints {
		observability.UAMemoHits.Inc()
		return e.result
	}

	observability.UAMemoMisses.Inc()
	c := m.next.Classify(userAgent, hints)
	m.store.Set(key, memoEntry{userAgent: userAgent, hints: hints, result: c})
	return c
}

// Close stops the cache's background goroutines.
func (m *MemoClassifier) Close() {
	m.store.Close()
}

// memoKey hashes the user agent and hint with Murmur3 (64-bit). The NUL
// separator cannot appear in a header value.
func memoKey(userAgent string, hints ClientHints) uint64 {
	buf := make([]byte, 0, len(userAgent)+1+len(hints.PlatformVersion))
	buf = append(buf, userAgent...)
	buf = append(buf, 0)
	buf = append(buf, hints.PlatformVersion...)
	return murmur3.Sum64(buf)
}
