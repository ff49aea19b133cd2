package coverage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RegisterOptions tunes registration. The zero value registers against the
// provider's canonical data source and collection policy.
type RegisterOptions struct {
	// DataSource attributes the registration to a source other than the
	// provider's canonical one.
	DataSource string

	// Collection to record the registration under. Ignored unless the
	// provider is collection-scoped; a globally-counting provider never
	// needs a collection on its records.
	Collection string

	// Autocreate permits creating the overriding data source if it does
	// not exist yet.
	Autocreate bool

	// Force resets existing, already-attempted records back to registered
	// so they are picked up again.
	Force bool
}

// Register declares intent to cover one identifier. It is idempotent: an
// existing record is returned unchanged, whatever its status.
func (p *Provider) Register(ctx context.Context, item Identifier, opts RegisterOptions) (Record, bool, error) {
	created, skipped, err := p.BulkRegister(ctx, []Identifier{item}, opts)
	if err != nil {
		return Record{}, false, err
	}

	if len(created) > 0 {
		p.logger.Info("registered", zap.Stringer("item", item))
		return created[0], true, nil
	}

	wasRegistered := len(skipped) == 0
	existing, err := p.records.Lookup(ctx, item, p.registrationSource(opts), p.cfg.Operation, p.registrationCollection(opts))
	if err != nil {
		return Record{}, false, err
	}
	if existing == nil {
		return Record{}, false, fmt.Errorf("registration of %s left no record behind", item)
	}
	return *existing, wasRegistered, nil
}

// BulkRegister declares intent to cover many identifiers at once. It
// returns the freshly registered records and the identifiers that were
// ignored because they already had one.
func (p *Provider) BulkRegister(ctx context.Context, items []Identifier, opts RegisterOptions) ([]Record, []Identifier, error) {
	if len(items) == 0 {
		return nil, nil, nil
	}

	return p.records.BulkUpsert(ctx, items, UpsertSpec{
		DataSource:       p.registrationSource(opts),
		Operation:        p.cfg.Operation,
		Collection:       p.registrationCollection(opts),
		Status:           StatusRegistered,
		Timestamp:        p.now(),
		Force:            opts.Force,
		AutocreateSource: opts.Autocreate,
	})
}

func (p *Provider) registrationSource(opts RegisterOptions) string {
	if opts.DataSource != "" {
		return opts.DataSource
	}
	return p.cfg.DataSource
}

func (p *Provider) registrationCollection(opts RegisterOptions) string {
	if !p.cfg.CollectionScoped {
		return ""
	}
	if opts.Collection != "" {
		return opts.Collection
	}
	return p.cfg.Collection
}
