// Package sessionclient is a Go client for the CampusHub API that attaches
// the current access token to every call and renews it transparently on 401.
// Concurrent 401s share one refresh round trip.
package sessionclient

import "sync"

// Tokens is the session pair held by a client.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenStore holds the current pair. Reads and replacements are atomic.
type TokenStore struct {
	mu sync.RWMutex
	t  Tokens
}

func (s *TokenStore) Get() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

func (s *TokenStore) Set(t Tokens) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

func (s *TokenStore) Clear() {
	s.Set(Tokens{})
}
