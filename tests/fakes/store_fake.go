package fakes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/systmms/mediavault/pkg/secretstore"
)

// FakeStore is an in-memory secretstore.Store that counts fetches and can
// hold them open until released.
type FakeStore struct {
	mu      sync.Mutex
	name    string
	value   string
	version int
	err     error
	gate    chan struct{}

	calls atomic.Int64
}

// NewFakeStore creates a store that returns value for any secret name
func NewFakeStore(value string) *FakeStore {
	return &FakeStore{name: "fake", value: value, version: 1}
}

// Set replaces the stored value and bumps the version
func (s *FakeStore) Set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.version++
}

// SetError makes every fetch fail with err; nil clears it
func (s *FakeStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Block holds every subsequent fetch until the returned release func is called
func (s *FakeStore) Block() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many fetches have started
func (s *FakeStore) Calls() int {
	return int(s.calls.Load())
}

// Name returns the store name
func (s *FakeStore) Name() string {
	return s.name
}

// GetSecret returns the stored value
func (s *FakeStore) GetSecret(ctx context.Context, name string) (secretstore.SecretValue, error) {
	s.calls.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return secretstore.SecretValue{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return secretstore.SecretValue{}, s.err
	}
	return secretstore.SecretValue{
		Value:     s.value,
		Version:   fmt.Sprintf("v%d", s.version),
		UpdatedAt: time.Now(),
	}, nil
}
