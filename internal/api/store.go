package api

import (
	"sync"

	"github.com/google/uuid"
)

// ResultStore keeps finished inference results by run id.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]InferResponse
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]InferResponse),
	}
}

func (s *ResultStore) Put(resp InferResponse) {
	s.mu.Lock()
	s.results[resp.ID] = resp
	s.mu.Unlock()
}

func (s *ResultStore) Get(id string) (InferResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.results[id]
	return resp, ok
}

func (s *ResultStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[id]; !ok {
		return false
	}
	delete(s.results, id)
	return true
}

func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
