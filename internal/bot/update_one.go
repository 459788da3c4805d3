package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/botsync/internal/record"
)

// UpdateOptions control UpdateOne.
type UpdateOptions struct {
	// SuppressErrors marks an externally triggered update: permitted hours
	// are ignored, and the result or error is written as JSON to the
	// diagnostics writer instead of being returned.
	SuppressErrors bool
}

// UpdateOne fetches, processes, validates and stores the record for id.
// It returns the stamped record, or nil when the source had nothing.
//
// Failures are returned as *UpdateError and abort conditions as is. With
// SuppressErrors every failure, aborts included, is written to the
// diagnostics writer as {"error": {...}} and (nil, nil) is returned.
func (o *Orchestrator) UpdateOne(ctx context.Context, id string, opts UpdateOptions) (record.Record, error) {
	rec, err := o.updateOne(ctx, id, opts)
	if err == nil {
		if opts.SuppressErrors && rec != nil {
			if werr := o.writeRecord(rec); werr != nil {
				return rec, werr
			}
		}
		return rec, nil
	}

	if opts.SuppressErrors {
		o.logger.Warn("update failed", "id", id, "error", err)
		return nil, o.writeError(id, err)
	}
	if IsAbort(err) {
		return nil, err
	}
	return nil, &UpdateError{ID: id, Err: err}
}

func (o *Orchestrator) updateOne(ctx context.Context, id string, opts UpdateOptions) (record.Record, error) {
	if !opts.SuppressErrors {
		if err := o.checkWindow(); err != nil {
			return nil, err
		}
	}

	fetchedAt := o.now()
	raw, err := o.source.FetchDatum(ctx, id, FetchOptions{IgnoreOutOfHours: opts.SuppressErrors})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	processed, err := o.source.ProcessDatum(ctx, raw)
	if err != nil {
		return nil, err
	}
	if processed == nil {
		return nil, nil
	}

	rec := processed.Without(record.RawDataField)
	rec[o.cfg.PrimaryKey] = id
	if rec[record.RetrievedAtField] == nil {
		rec[record.RetrievedAtField] = fetchedAt
	}

	if err := o.check(ctx, rec, true); err != nil {
		return nil, err
	}

	full := rec.Clone()
	full[record.RawDataField] = string(raw)
	if o.cfg.SaveRawOnFilesystem {
		if err := o.raw.Save(raw, id, o.cfg.RawFormat); err != nil {
			return nil, fmt.Errorf("archive raw payload: %w", err)
		}
	}
	if err := o.persist(ctx, full, o.cfg.SaveRawOnFilesystem); err != nil {
		return nil, err
	}

	o.logger.Debug("record updated", "id", id)
	return rec, nil
}

// writeRecord writes rec as one JSON line to the diagnostics writer.
func (o *Orchestrator) writeRecord(rec record.Record) error {
	data, err := record.MarshalJSON(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := o.diag.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

type errorDetails struct {
	Message string `json:"message"`
	Klass   string `json:"klass"`
	UID     string `json:"uid"`
}

// writeError writes {"error": {"message", "klass", "uid"}} to the diagnostics writer.
func (o *Orchestrator) writeError(id string, cause error) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	payload := map[string]errorDetails{
		"error": {Message: cause.Error(), Klass: errorClass(cause), UID: id},
	}
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if _, err := o.diag.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}
