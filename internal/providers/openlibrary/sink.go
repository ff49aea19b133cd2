package openlibrary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal"
	"github.com/openshelf/coverage/internal/coverage"
)

// RepositorySink buffers fetched editions and flushes them to a
// Repository as JSON lines, one file per batch. Flush happens at the
// provider's batch commit boundary.
type RepositorySink struct {
	repository internal.Repository
	logger     *zap.Logger

	mu      sync.Mutex
	buffer  []sinkEntry
	batches int
}

type sinkEntry struct {
	Identifier coverage.Identifier `json:"identifier"`
	Edition    Edition             `json:"edition"`
}

type SinkOption func(*RepositorySink)

func WithSinkLogger(logger *zap.Logger) SinkOption {
	return func(s *RepositorySink) {
		s.logger = logger
	}
}

func NewRepositorySink(repository internal.Repository, opts ...SinkOption) *RepositorySink {
	s := &RepositorySink{
		repository: repository,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("openlibrary.sink")
	return s
}

func (s *RepositorySink) Apply(ctx context.Context, item coverage.Identifier, edition Edition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, sinkEntry{Identifier: item, Edition: edition})
	return nil
}

// Flush writes the buffered editions as editions-<n>.jsonl and clears
// the buffer. An empty buffer writes nothing.
func (s *RepositorySink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range s.buffer {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}

	key := fmt.Sprintf("editions-%06d.jsonl", s.batches)
	if err := s.repository.Write(ctx, key, &buf); err != nil {
		return err
	}

	s.logger.Info("flushed editions",
		zap.String("key", key),
		zap.Int("editions", len(s.buffer)),
	)
	s.batches++
	s.buffer = s.buffer[:0]
	return nil
}
