// Package uuid generates and validates crawl ids.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

var _ crawler.IDGenerator = Generator{}

// Generator creates random (v4) UUID strings.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv4 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// Normalize parses a caller-supplied crawl id and returns its canonical
// lowercase hyphenated form.
func Normalize(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("crawl id %q: %w", raw, err)
	}
	return id.String(), nil
}
