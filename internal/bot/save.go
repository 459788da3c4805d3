package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/botsync/internal/record"
	"github.com/roach88/botsync/internal/schema"
	"github.com/roach88/botsync/internal/store"
)

// errInvalidDropped marks an invalid record that Save skips.
var errInvalidDropped = errors.New("invalid record dropped")

// Validate checks r against the bot's schema, ignoring the raw payload.
// A bot without a schema accepts everything.
func (o *Orchestrator) Validate(ctx context.Context, r record.Record) ([]schema.Violation, error) {
	if o.cfg.SchemaName == "" {
		return nil, nil
	}
	text, err := record.MarshalJSON(r.Without(record.RawDataField))
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	violations, err := o.validator.Validate(o.cfg.SchemaName, text)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return violations, nil
}

// check validates r and returns *RecordInvalid when it fails and strict is set.
// With strict unset an invalid record yields errInvalidDropped.
func (o *Orchestrator) check(ctx context.Context, r record.Record, strict bool) error {
	violations, err := o.Validate(ctx, r)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	if strict {
		return &RecordInvalid{Schema: o.cfg.SchemaName, Violations: violations}
	}
	return errInvalidDropped
}

// persist encodes r and upserts it by primary key.
func (o *Orchestrator) persist(ctx context.Context, r record.Record, dropRaw bool) error {
	row, err := record.EncodeForStorage(r, record.EncodeOptions{DropRaw: dropRaw})
	if err != nil {
		return fmt.Errorf("prepare record: %w", err)
	}
	if err := o.store.InsertOrUpdate(ctx, o.cfg.Table, []string{o.cfg.PrimaryKey}, row); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Save stores r if it is valid and reports whether it was stored. An invalid
// record is dropped, or rejected with *RecordInvalid when the bot raises on
// invalid records.
func (o *Orchestrator) Save(ctx context.Context, r record.Record) (bool, error) {
	err := o.check(ctx, r, o.cfg.RaiseOnInvalid)
	if errors.Is(err, errInvalidDropped) {
		o.logger.Debug("invalid record dropped", "id", r[o.cfg.PrimaryKey])
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := o.persist(ctx, r, false); err != nil {
		return false, err
	}
	return true, nil
}

// SaveStrict stores r, rejecting any invalid record with *RecordInvalid.
func (o *Orchestrator) SaveStrict(ctx context.Context, r record.Record) (bool, error) {
	if err := o.check(ctx, r, true); err != nil {
		return false, err
	}
	if err := o.persist(ctx, r, false); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether a record with the given identifier is stored.
func (o *Orchestrator) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := o.store.TableExists(ctx, o.cfg.Table)
	if err != nil || !ok {
		return false, err
	}
	key := store.QuoteIdent(o.cfg.PrimaryKey)
	rows, err := o.store.Select(ctx,
		fmt.Sprintf("%s FROM %s WHERE %s = ? LIMIT 1", key, store.QuoteIdent(o.cfg.Table), key), id)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return len(rows) > 0, nil
}

// Export passes every stored record, decoded and without nulls, to fn.
// Stops at the first error from fn.
func (o *Orchestrator) Export(ctx context.Context, fn func(record.Record) error) error {
	ok, err := o.store.TableExists(ctx, o.cfg.Table)
	if err != nil || !ok {
		return err
	}
	rows, err := o.store.Select(ctx, "* FROM "+store.QuoteIdent(o.cfg.Table))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, row := range rows {
		if err := fn(record.DecodeFromStorage(row, record.DecodeOptions{DropNulls: true})); err != nil {
			return err
		}
	}
	return nil
}

// RawPayload reads the archived raw payload for id.
func (o *Orchestrator) RawPayload(ctx context.Context, id string) ([]byte, error) {
	if o.raw == nil {
		return nil, fmt.Errorf("raw payload %s: no raw store configured", id)
	}
	return o.raw.Read(id, o.cfg.RawFormat)
}
