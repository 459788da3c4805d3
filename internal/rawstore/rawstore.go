// Package rawstore archives raw fetched payloads on the filesystem.
//
// Each identifier maps to a fixed path under <root>/data/. The identifier is
// reduced to its letters and digits (the clean id), and up to five of its
// characters, skipping leading zeros, become one-character directories:
//
//	LocationFor("12a-b/3456", "html") => <root>/data/1/2/a/b/3/12ab3456.html
//	LocationFor("001234", "html")     => <root>/data/1/2/3/4/001234.html
//
// Content is stored and returned byte for byte.
package rawstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// shardDepth is the maximum number of directory levels derived from an identifier.
const shardDepth = 5

// ErrEmptyIdentifier is returned when an identifier has no letters or digits left after cleaning.
var ErrEmptyIdentifier = errors.New("identifier has no alphanumeric characters")

// Store archives raw payloads below a root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root. Nothing is created until the first write.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the configured root directory.
func (s *Store) Root() string {
	return s.root
}

// CleanID converts identifier to text and removes every rune that is not a letter or digit.
// Identifiers are NFC-normalized first so equivalent spellings share a path.
func CleanID(identifier any) string {
	text := norm.NFC.String(fmt.Sprint(identifier))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, text)
}

// LocationFor returns the archive path for identifier, creating its directories.
// format, when non-empty, is appended to the file name as an extension.
func (s *Store) LocationFor(identifier any, format string) (string, error) {
	dir, name, err := s.split(identifier, format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create raw data directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// Save writes content to the archive path of identifier.
func (s *Store) Save(content []byte, identifier any, format string) error {
	path, err := s.LocationFor(identifier, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write raw data: %w", err)
	}
	return nil
}

// Read returns the archived content of identifier.
func (s *Store) Read(identifier any, format string) ([]byte, error) {
	dir, name, err := s.split(identifier, format)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read raw data: %w", err)
	}
	return content, nil
}

// split computes the shard directory and file name without touching the filesystem.
func (s *Store) split(identifier any, format string) (dir, name string, err error) {
	clean := CleanID(identifier)
	if clean == "" {
		return "", "", fmt.Errorf("raw data location for %q: %w", fmt.Sprint(identifier), ErrEmptyIdentifier)
	}

	shard := []rune(strings.TrimLeft(clean, "0"))
	if len(shard) > shardDepth {
		shard = shard[:shardDepth]
	}

	parts := make([]string, 0, len(shard)+2)
	parts = append(parts, s.root, "data")
	for _, r := range shard {
		parts = append(parts, string(r))
	}

	name = clean
	if format != "" {
		name += "." + format
	}
	return filepath.Join(parts...), name, nil
}
