package coverage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchSize is used when a Config carries a non-positive batch size.
const DefaultBatchSize = 100

// Processor does the work of covering one item: fetch from the vendor,
// apply the payload, whatever the concern requires. A nil return is a
// success. A *Failure is a classified per-item outcome. Any other error is
// a fault in the run itself and aborts it.
type Processor interface {
	ProcessItem(ctx context.Context, item Identifier) error
}

// BatchProcessor may be implemented by processors that benefit from
// batch-level vendor APIs. Results align with items by index; a missing
// result means the processor ignored the item, which the scheduler records
// as a transient failure.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, items []Identifier) ([]error, error)
}

// BatchFinalizer is invoked exactly once per non-empty batch, for
// commit-boundary side effects such as flushing an index. No outcome is
// persisted for a batch whose finalizer fails; its items stay uncovered
// and are retried on the next run.
type BatchFinalizer interface {
	FinalizeBatch(ctx context.Context) error
}

// CounterSource may be implemented by processors that keep a cursor of
// their own, such as a vendor feed page. The value is read after every
// committed batch and lands on the Timestamp.
type CounterSource interface {
	Counter() int64
}

// Config is the immutable per-provider configuration. It is set once at
// construction and never mutated afterward.
type Config struct {
	// ServiceName names the provider in Timestamps and logs, e.g.
	// "OpenLibrary Bibliographic Coverage Provider".
	ServiceName string

	// DataSource is the canonical source coverage is attributed to.
	DataSource string

	// Operation distinguishes multiple coverage concerns sharing one data
	// source. May be empty.
	Operation string

	// Collection this provider runs for. When set, the catalog query is
	// restricted to identifiers held by this collection.
	Collection string

	// CollectionScoped selects the per-collection policy: records must
	// carry this provider's collection to count as covering. When false, a
	// single record with no collection satisfies every collection.
	CollectionScoped bool

	// IdentifierTypes restricts coverage to these identifier types. Empty
	// means every type.
	IdentifierTypes []string

	// BatchSize caps how many items are pulled per batch step. Falls back
	// to DefaultBatchSize when non-positive.
	BatchSize int

	// Cutoff, when non-zero, treats records written before it as stale;
	// their items are reprocessed regardless of status.
	Cutoff time.Time

	// RegisteredOnly drains previously-registered work only, skipping
	// identifiers that have no record at all.
	RegisteredOnly bool
}

// serviceName qualifies the service name with the operation, so two
// concerns on one data source get distinct Timestamp rows.
func (c Config) serviceName() string {
	if c.Operation == "" {
		return c.ServiceName
	}
	return fmt.Sprintf("%s (%s)", c.ServiceName, c.Operation)
}

// recordCollection is the collection written on (and required of) coverage
// records: the provider's collection under the per-collection policy,
// none under the global policy.
func (c Config) recordCollection() string {
	if c.CollectionScoped {
		return c.Collection
	}
	return ""
}

// LockKey identifies the single-writer key for this configuration.
func (c Config) LockKey() string {
	return fmt.Sprintf("coverage:%s:%s:%s", c.DataSource, c.Operation, c.recordCollection())
}

// Provider is the coverage engine: it sweeps the catalog in bounded
// batches, hands items to the injected Processor, classifies and persists
// outcomes, and keeps the service Timestamp current. One Provider instance
// serves one (data source, operation, collection) key.
type Provider struct {
	cfg        Config
	records    RecordStore
	catalog    Catalog
	timestamps TimestampStore
	processor  Processor
	locker     Locker
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Provider)

func WithRecordStore(records RecordStore) Option {
	return func(p *Provider) {
		p.records = records
	}
}

func WithCatalog(catalog Catalog) Option {
	return func(p *Provider) {
		p.catalog = catalog
	}
}

func WithTimestampStore(timestamps TimestampStore) Option {
	return func(p *Provider) {
		p.timestamps = timestamps
	}
}

func WithProcessor(processor Processor) Option {
	return func(p *Provider) {
		p.processor = processor
	}
}

func WithLocker(locker Locker) Option {
	return func(p *Provider) {
		p.locker = locker
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClock overrides the time source. Tests use this to write
// deterministic record timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("coverage: Config.ServiceName is required")
	}
	if cfg.DataSource == "" {
		return nil, fmt.Errorf("coverage: Config.DataSource is required")
	}
	if cfg.CollectionScoped && cfg.Collection == "" {
		return nil, fmt.Errorf("coverage: collection-scoped provider %q needs a collection", cfg.ServiceName)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	p := &Provider{
		cfg:    cfg,
		locker: NoopLocker{},
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.records == nil {
		return nil, fmt.Errorf("coverage: provider %q needs a RecordStore", cfg.ServiceName)
	}
	if p.catalog == nil {
		return nil, fmt.Errorf("coverage: provider %q needs a Catalog", cfg.ServiceName)
	}
	if p.timestamps == nil {
		return nil, fmt.Errorf("coverage: provider %q needs a TimestampStore", cfg.ServiceName)
	}
	if p.processor == nil {
		return nil, fmt.Errorf("coverage: provider %q needs a Processor", cfg.ServiceName)
	}

	p.logger = p.logger.Named("coverage").With(zap.String("service", cfg.serviceName()))
	return p, nil
}

func (p *Provider) Config() Config {
	return p.cfg
}

// ServiceName is the operation-qualified name used as the Timestamp key.
func (p *Provider) ServiceName() string {
	return p.cfg.serviceName()
}

// Timestamp returns this provider's run bookkeeping, or nil before the
// first run.
func (p *Provider) Timestamp(ctx context.Context) (*Timestamp, error) {
	return p.timestamps.LookupTimestamp(ctx, p.cfg.serviceName(), ServiceTypeCoverageProvider, p.cfg.Collection)
}

// Run performs one scheduled invocation: a two-phase sweep over the
// catalog, with the final Progress written to the Timestamp row. Faults
// inside the sweep are captured on the Timestamp and do not surface here;
// the returned error covers only lock acquisition and the inability to
// record the run at all.
func (p *Provider) Run(ctx context.Context) (Progress, error) {
	release, err := p.locker.Acquire(ctx, p.cfg.LockKey())
	if err != nil {
		return Progress{}, fmt.Errorf("acquiring %s: %w", p.cfg.LockKey(), err)
	}
	defer release()

	progress := p.sweep(ctx)
	if err := p.stamp(ctx, progress); err != nil {
		return progress, fmt.Errorf("recording run for %s: %w", p.cfg.serviceName(), err)
	}
	p.logger.Info("run complete", zap.String("achievements", progress.Achievements()))
	return progress, nil
}

// sweep runs the two phases in order: first cover identifiers that have
// never been attempted, then retry transient failures and registered
// items. New catalog entries therefore cannot be starved by a backlog of
// flaky items.
func (p *Provider) sweep(ctx context.Context) Progress {
	phases := []StatusSet{PreviouslyAttempted, DefaultCountAsCovered}

	progress := Progress{Start: p.now()}
	for _, countAsCovered := range phases {
		// Each phase starts from the top of the catalog with a clear
		// finish marker.
		progress.Finish = time.Time{}
		progress.Offset = 0

		for {
			next, err := p.runOnce(ctx, progress, countAsCovered)
			if err != nil {
				p.logger.Error("uncaught error in batch step", zap.Error(err))
				next = progress
				next.Exception = err.Error()
				next.Finish = p.now()
			}
			progress = next

			// Write the work done so far; the next batch step might fail.
			if err := p.stamp(ctx, progress); err != nil {
				p.logger.Error("writing timestamp", zap.Error(err))
			}

			if progress.Exception != "" || progress.Complete() {
				break
			}
		}

		if progress.Exception != "" {
			// Fatal for this run, soft or not. The next scheduled tick
			// starts over; completed batches are already durable.
			break
		}
	}
	return progress
}

// runOnce pulls one batch of uncovered items and processes it, returning
// the advanced Progress. It always either advances, sets Finish, or
// returns an error; the caller relies on that to terminate the phase.
func (p *Provider) runOnce(ctx context.Context, progress Progress, countAsCovered StatusSet) (Progress, error) {
	batch, err := p.catalog.NeedingCoverage(ctx, Query{
		DataSource:      p.cfg.DataSource,
		Operation:       p.cfg.Operation,
		Collection:      p.cfg.recordCollection(),
		MemberOf:        p.cfg.Collection,
		CountAsCovered:  countAsCovered,
		Cutoff:          p.cfg.Cutoff,
		IdentifierTypes: p.cfg.IdentifierTypes,
		RegisteredOnly:  p.cfg.RegisteredOnly,
		Offset:          progress.Offset,
		Limit:           p.cfg.BatchSize,
	})
	if err != nil {
		return progress, fmt.Errorf("querying items that need coverage: %w", err)
	}

	if len(batch) == 0 {
		progress.Finish = p.now()
		return progress, nil
	}

	p.logger.Info("covering batch",
		zap.Int("items", len(batch)),
		zap.Int("offset", progress.Offset),
		zap.Strings("count_as_covered", countAsCovered.Strings()),
	)

	counts, outcomes, err := p.classifyBatch(ctx, batch)
	if err != nil {
		return progress, err
	}

	// The finalizer commits the batch's side effects first; only then are
	// outcomes made durable. A finalize failure leaves every item in the
	// batch uncovered for the next run.
	if finalizer, ok := p.processor.(BatchFinalizer); ok {
		if err := finalizer.FinalizeBatch(ctx); err != nil {
			return progress, fmt.Errorf("finalizing batch: %w", err)
		}
	}

	for _, o := range outcomes {
		if _, _, err := p.records.Upsert(ctx, o.item, o.spec); err != nil {
			return progress, fmt.Errorf("persisting coverage for %s: %w", o.item, err)
		}
	}

	if cs, ok := p.processor.(CounterSource); ok {
		progress.Counter = cs.Counter()
	}

	progress.Successes += counts.successes
	progress.TransientFailures += counts.transient
	progress.PersistentFailures += counts.persistent

	// Outcomes whose status does not count as covered will reappear in the
	// next query; bump the offset past them. Covered outcomes vanish from
	// the query on their own.
	if !countAsCovered.Contains(StatusSuccess) {
		progress.Offset += counts.successes
	}
	if !countAsCovered.Contains(StatusTransientFailure) {
		progress.Offset += counts.transient
	}
	if !countAsCovered.Contains(StatusPersistentFailure) {
		progress.Offset += counts.persistent
	}
	return progress, nil
}

type batchCounts struct {
	successes  int
	transient  int
	persistent int
}

// outcome pairs an item with its classified record write, held until the
// batch finalizer has committed.
type outcome struct {
	item Identifier
	spec UpsertSpec
}

// classifyBatch runs the processor over one batch and classifies every
// result; nothing is persisted here. The three returned counts always
// sum to the batch size.
func (p *Provider) classifyBatch(ctx context.Context, items []Identifier) (batchCounts, []outcome, error) {
	results, err := p.results(ctx, items)
	if err != nil {
		return batchCounts{}, nil, err
	}

	var counts batchCounts
	outcomes := make([]outcome, 0, len(items))
	now := p.now()
	for i, item := range items {
		var result error
		if i < len(results) {
			result = results[i]
		} else {
			p.logger.Warn("item ignored by processor", zap.Stringer("item", item))
			result = TransientFailure(item, "Was ignored by coverage provider.")
		}

		spec := UpsertSpec{
			DataSource: p.cfg.DataSource,
			Operation:  p.cfg.Operation,
			Collection: p.cfg.recordCollection(),
			Timestamp:  now,
		}

		switch {
		case result == nil:
			spec.Status = StatusSuccess
			counts.successes++
		default:
			failure, ok := AsFailure(result)
			if !ok {
				// Not a per-item outcome; fatal for the run.
				return batchCounts{}, nil, result
			}
			spec.Status = failure.status()
			spec.Exception = failure.Message
			if failure.Transient {
				counts.transient++
				p.logger.Warn("transient failure", zap.Stringer("item", item), zap.String("exception", failure.Message))
			} else {
				counts.persistent++
				p.logger.Error("persistent failure", zap.Stringer("item", item), zap.String("exception", failure.Message))
			}
		}
		outcomes = append(outcomes, outcome{item: item, spec: spec})
	}

	p.logger.Info("batch processed",
		zap.Int("successes", counts.successes),
		zap.Int("transient_failures", counts.transient),
		zap.Int("persistent_failures", counts.persistent),
	)
	return counts, outcomes, nil
}

// results invokes the processor, batch-wise when supported, item-wise
// otherwise. Per-item failures come back as *Failure values in the slice;
// any other error aborts the run.
func (p *Provider) results(ctx context.Context, items []Identifier) ([]error, error) {
	if batcher, ok := p.processor.(BatchProcessor); ok {
		return batcher.ProcessBatch(ctx, items)
	}

	results := make([]error, 0, len(items))
	for _, item := range items {
		err := p.processor.ProcessItem(ctx, item)
		if err != nil {
			if _, ok := AsFailure(err); !ok {
				return nil, err
			}
		}
		results = append(results, err)
	}
	return results, nil
}

// stamp overwrites this provider's Timestamp row with the state of the
// given Progress. A zero finish is defaulted to now so the row always has
// wall-clock bounds.
func (p *Provider) stamp(ctx context.Context, progress Progress) error {
	finish := progress.Finish
	if finish.IsZero() {
		finish = p.now()
	}
	return p.timestamps.Stamp(ctx, Timestamp{
		Service:      p.cfg.serviceName(),
		ServiceType:  ServiceTypeCoverageProvider,
		Collection:   p.cfg.Collection,
		Start:        progress.Start,
		Finish:       finish,
		Achievements: progress.Achievements(),
		Counter:      progress.Counter,
		Exception:    progress.Exception,
	})
}
