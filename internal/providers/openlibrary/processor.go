package openlibrary

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/openshelf/coverage/internal/coverage"
)

const defaultBaseURL = "https://openlibrary.org"

// IdentifierTypeISBN is the only identifier type this processor can
// cover.
const IdentifierTypeISBN = "ISBN"

// Edition is the slice of the Open Library edition payload the sink
// receives.
type Edition struct {
	Title         string   `json:"title"`
	Publishers    []string `json:"publishers"`
	PublishDate   string   `json:"publish_date"`
	NumberOfPages int      `json:"number_of_pages"`
	Detail        string   `json:"error,omitempty"`
}

// BibliographicSink receives fetched metadata. Sinks that also
// implement Flush get a call at every batch commit boundary.
type BibliographicSink interface {
	Apply(ctx context.Context, item coverage.Identifier, edition Edition) error
}

// Flusher is the optional commit hook for sinks that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

type Option func(*Processor)

func WithBaseURL(baseURL string) Option {
	return func(p *Processor) {
		p.client.SetBaseURL(baseURL)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor covers ISBN identifiers with bibliographic metadata from
// Open Library.
type Processor struct {
	client *resty.Client
	sink   BibliographicSink
	logger *zap.Logger
}

var (
	_ coverage.Processor      = (*Processor)(nil)
	_ coverage.BatchFinalizer = (*Processor)(nil)
)

func New(sink BibliographicSink, opts ...Option) (*Processor, error) {
	if sink == nil {
		return nil, fmt.Errorf("openlibrary: a sink is required")
	}

	p := &Processor{
		client: resty.New().SetBaseURL(defaultBaseURL),
		sink:   sink,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("openlibrary")
	return p, nil
}

func (p *Processor) ProcessItem(ctx context.Context, item coverage.Identifier) error {
	if item.Type != IdentifierTypeISBN {
		return coverage.PersistentFailure(item,
			fmt.Sprintf("cannot cover identifier type %q", item.Type))
	}

	var edition Edition
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&edition).
		SetPathParam("isbn", item.Value).
		Get("/isbn/{isbn}.json")
	if err != nil {
		// Transport errors are worth retrying.
		return coverage.TransientFailure(item, err.Error())
	}

	switch {
	case resp.StatusCode() >= 500:
		return coverage.TransientFailure(item,
			fmt.Sprintf("Open Library returned %d", resp.StatusCode()))
	case resp.StatusCode() >= 400:
		return coverage.PersistentFailure(item,
			fmt.Sprintf("Open Library returned %d", resp.StatusCode()))
	}

	p.logger.Debug("fetched edition",
		zap.Stringer("item", item),
		zap.String("title", edition.Title),
	)

	if err := p.sink.Apply(ctx, item, edition); err != nil {
		return coverage.TransientFailure(item, err.Error())
	}
	return nil
}

// FinalizeBatch flushes the sink, when it buffers.
func (p *Processor) FinalizeBatch(ctx context.Context) error {
	if flusher, ok := p.sink.(Flusher); ok {
		return flusher.Flush(ctx)
	}
	return nil
}
