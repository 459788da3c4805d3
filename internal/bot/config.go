package bot

import (
	"fmt"

	"github.com/roach88/botsync/internal/record"
)

// DefaultTable is the record table used when Config.Table is empty.
const DefaultTable = "ocdata"

// Config describes one bot. It is copied into the Orchestrator at
// construction and never changes afterwards.
//
// Defaults:
//   - PrimaryKey: "uid"
//   - Table: "ocdata"
//   - SchemaName: "" (no validation)
//   - RaiseOnInvalid: false (Save drops invalid records)
//   - UseAlphaSearch: false (incremental search)
//   - SaveRawOnFilesystem: false (raw payload kept in the data column)
//   - RawFormat: "" (no file extension)
//   - MaxConsecutiveMisses: 0 (incremental search disabled)
type Config struct {
	// Name identifies the bot in logs and run reports.
	Name string

	PrimaryKey string
	Table      string
	SchemaName string

	RaiseOnInvalid      bool
	UseAlphaSearch      bool
	SaveRawOnFilesystem bool
	RawFormat           string

	// MaxConsecutiveMisses ends incremental search after this many
	// identifiers in a row return nothing.
	MaxConsecutiveMisses int
}

// WithDefaults returns c with empty fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.PrimaryKey == "" {
		c.PrimaryKey = record.DefaultPrimaryKey
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	return c
}

func (c Config) validate() error {
	if c.MaxConsecutiveMisses < 0 {
		return fmt.Errorf("max consecutive misses must not be negative, got %d", c.MaxConsecutiveMisses)
	}
	if c.PrimaryKey == record.RawDataField || c.PrimaryKey == record.RetrievedAtField {
		return fmt.Errorf("primary key %q is reserved", c.PrimaryKey)
	}
	return nil
}
