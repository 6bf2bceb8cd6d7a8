// Package kb holds the read-only record store (diagnostic log lines keyed by
// account) and document store (knowledge-base articles) used during triage.
package kb

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// Account is one record-store entry as it appears in a seed file.
type Account struct {
	ID   string   `yaml:"id"`
	Logs []string `yaml:"logs"`
}

type seedFile struct {
	Accounts []Account `yaml:"accounts"`
	Articles []string  `yaml:"articles"`
}

// Store is an in-memory record and document store. It is immutable after
// Load and safe for concurrent readers.
type Store struct {
	keys     []string            // normalized account IDs in seed order
	logs     map[string][]string // normalized account ID -> log lines
	articles []string
	lowered  []string // lower-cased articles, parallel to articles
}

// Seeded returns a Store built from the embedded seed data.
func Seeded() (*Store, error) {
	return Load(bytes.NewReader(seedYAML))
}

// LoadFile reads a YAML seed file from disk.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes a YAML seed document.
func Load(r io.Reader) (*Store, error) {
	var sf seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	s := &Store{
		keys:     make([]string, 0, len(sf.Accounts)),
		logs:     make(map[string][]string, len(sf.Accounts)),
		articles: make([]string, 0, len(sf.Articles)),
		lowered:  make([]string, 0, len(sf.Articles)),
	}

	for i, a := range sf.Accounts {
		id := Normalize(a.ID)
		if id == "" {
			return nil, fmt.Errorf("account %d: empty id", i)
		}
		if _, dup := s.logs[id]; dup {
			return nil, fmt.Errorf("account %q: duplicate id", id)
		}
		s.keys = append(s.keys, id)
		s.logs[id] = append([]string(nil), a.Logs...)
	}

	for _, art := range sf.Articles {
		if strings.TrimSpace(art) == "" {
			continue
		}
		s.articles = append(s.articles, art)
		s.lowered = append(s.lowered, strings.ToLower(art))
	}

	return s, nil
}

// Lookup returns the log lines for an account identifier, applying the
// normalization and fallback rules of Resolve. A miss returns an empty slice.
func (s *Store) Lookup(_ context.Context, id string) ([]string, error) {
	key, ok := Resolve(s.keys, id)
	if !ok {
		return []string{}, nil
	}
	lines := s.logs[key]
	out := make([]string, len(lines))
	copy(out, lines)
	return out, nil
}

// Search returns every article containing term as a case-insensitive
// substring, in store order.
func (s *Store) Search(_ context.Context, term string) ([]string, error) {
	q := strings.ToLower(term)
	out := []string{}
	for i, body := range s.lowered {
		if strings.Contains(body, q) {
			out = append(out, s.articles[i])
		}
	}
	return out, nil
}

// Accounts returns the normalized account IDs in seed order.
func (s *Store) Accounts() []string {
	return append([]string(nil), s.keys...)
}

// ArticleCount reports how many articles are loaded.
func (s *Store) ArticleCount() int { return len(s.articles) }
