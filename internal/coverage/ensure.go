package coverage

import (
	"context"
	"fmt"
)

// CanCover reports whether the given identifier passes this provider's
// identifier-type filter.
func (p *Provider) CanCover(item Identifier) bool {
	if len(p.cfg.IdentifierTypes) == 0 {
		return true
	}
	for _, t := range p.cfg.IdentifierTypes {
		if t == item.Type {
			return true
		}
	}
	return false
}

// EnsureCoverage covers one specific item on demand, outside the scheduled
// sweep. An existing record is honored unless it is registered, stale
// relative to the cutoff, or force is set.
func (p *Provider) EnsureCoverage(ctx context.Context, item Identifier, force bool) (Record, error) {
	existing, err := p.records.Lookup(ctx, item, p.cfg.DataSource, p.cfg.Operation, p.cfg.recordCollection())
	if err != nil {
		return Record{}, err
	}
	if existing != nil && !force && !p.shouldUpdate(*existing) {
		return *existing, nil
	}

	_, outcomes, err := p.classifyBatch(ctx, []Identifier{item})
	if err != nil {
		return Record{}, fmt.Errorf("covering %s: %w", item, err)
	}
	if finalizer, ok := p.processor.(BatchFinalizer); ok {
		if err := finalizer.FinalizeBatch(ctx); err != nil {
			return Record{}, fmt.Errorf("finalizing batch: %w", err)
		}
	}
	for _, o := range outcomes {
		if _, _, err := p.records.Upsert(ctx, o.item, o.spec); err != nil {
			return Record{}, fmt.Errorf("persisting coverage for %s: %w", o.item, err)
		}
	}

	record, err := p.records.Lookup(ctx, item, p.cfg.DataSource, p.cfg.Operation, p.cfg.recordCollection())
	if err != nil {
		return Record{}, err
	}
	if record == nil {
		return Record{}, fmt.Errorf("covering %s left no record behind", item)
	}
	return *record, nil
}

// shouldUpdate decides whether existing coverage still stands. Registered
// records always need the work done; otherwise only a cutoff can age a
// record out.
func (p *Provider) shouldUpdate(record Record) bool {
	if record.Status == StatusRegistered {
		return true
	}
	if p.cfg.Cutoff.IsZero() {
		return false
	}
	return record.Timestamp.Before(p.cfg.Cutoff)
}
