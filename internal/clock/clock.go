package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNilReader is returned when a Source is built without a time reader.
var ErrNilReader = errors.New("clock: nil time reader")

// Reader returns the authoritative time of the shared store.
type Reader interface {
	Now(ctx context.Context) (time.Time, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context) (time.Time, error)

// Now calls f(ctx).
func (f ReaderFunc) Now(ctx context.Context) (time.Time, error) {
	return f(ctx)
}

// Source reads the store clock and never reports a value lower than one it
// already returned. Readings that go backwards (store failover, replica
// promotion) are clamped to the high-water mark.
type Source struct {
	reader Reader

	mu   sync.Mutex
	high time.Time
}

// New returns a Source backed by reader.
func New(reader Reader) (*Source, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	return &Source{reader: reader}, nil
}

// Now returns the store time. Errors from the reader are returned
// unchanged so the caller can classify them.
func (s *Source) Now(ctx context.Context) (time.Time, error) {
	t, err := s.reader.Now(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return s.Observe(t), nil
}

// Observe folds a store time obtained elsewhere (for example inside a
// script reply) into the high-water mark and returns the clamped value.
func (s *Source) Observe(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Before(s.high) {
		return s.high
	}
	s.high = t
	return t
}

// HighWater returns the highest time observed so far.
func (s *Source) HighWater() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.high
}
