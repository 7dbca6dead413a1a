package token

import (
	"container/heap"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TTL is how long an issued token stays valid.
const TTL = 60 * time.Second

var (
	// ErrInvalidToken is returned for unknown or already consumed tokens.
	ErrInvalidToken = errors.New("invalid or missing token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Token is a single-use credential gating access to the media stream.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Store issues and consumes single-use tokens. Expiry is tracked on a
// min-heap so sweeping pops only tokens that are actually due instead
// of scanning the whole map.
type Store struct {
	mu     sync.Mutex
	tokens map[string]Token
	expiry expiryHeap

	now func() time.Time // overridable for tests
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

// Issue creates and stores a fresh single-use token valid for TTL.
// Expired tokens are swept first to bound memory.
func (s *Store) Issue() (Token, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Token{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	now := s.now()
	t := Token{
		Value:     base64.RawURLEncoding.EncodeToString(b),
		IssuedAt:  now,
		ExpiresAt: now.Add(TTL),
	}
	s.tokens[t.Value] = t
	heap.Push(&s.expiry, expiryEntry{value: t.Value, expiresAt: t.ExpiresAt})
	return t, nil
}

// ValidateAndConsume atomically checks presence and expiry and removes
// the token, enforcing single use: a second call with the same value
// always fails with ErrInvalidToken.
func (s *Store) ValidateAndConsume(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return ErrInvalidToken
	}
	// Either way the token is spent; the heap entry becomes stale and
	// is skipped on a later sweep.
	delete(s.tokens, value)
	if s.now().After(t.ExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// SweepExpired removes all tokens whose expiry has passed. Validation
// already rejects expired tokens, so this only bounds memory.
func (s *Store) SweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
}

// Len reports the number of live tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) sweepLocked() {
	now := s.now()
	for s.expiry.Len() > 0 {
		head := s.expiry[0]
		if head.expiresAt.After(now) {
			return
		}
		heap.Pop(&s.expiry)
		// Stale entries for consumed tokens are already gone from the map.
		if t, ok := s.tokens[head.value]; ok && !t.ExpiresAt.After(now) {
			delete(s.tokens, head.value)
		}
	}
}

type expiryEntry struct {
	value     string
	expiresAt time.Time
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
