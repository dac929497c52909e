package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asrkit/spellout/internal/recognizer"
)

type streamRecord struct {
	ID        string
	CreatedAt int64
	Stream    *recognizer.Stream
}

// StreamStore tracks open chunk-synchronous sessions by id.
type StreamStore struct {
	mu      sync.Mutex
	streams map[string]*streamRecord
}

func NewStreamStore() *StreamStore {
	return &StreamStore{
		streams: make(map[string]*streamRecord),
	}
}

func (s *StreamStore) Create(st *recognizer.Stream, now time.Time) *streamRecord {
	rec := &streamRecord{
		ID:        newStreamID(),
		CreatedAt: now.Unix(),
		Stream:    st,
	}
	s.mu.Lock()
	s.streams[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *StreamStore) Get(id string) (*streamRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.streams[id]
	return rec, ok
}

// Remove takes the record out of the store, returning it for final decoding.
func (s *StreamStore) Remove(id string) (*streamRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.streams[id]
	if !ok {
		return nil, false
	}
	delete(s.streams, id)
	return rec, true
}

func (s *StreamStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func newStreamID() string {
	return "stream_" + uuid.NewString()
}
