// Package ontology resolves disease titles to ontology codes and walks the code hierarchy.
// Evaluators consume it through the synchronous domain.OntologyService; remote backends are
// wrapped by CachedService.
package ontology

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trial-eligibility-mcp-server/internal/domain"
)

// Concept is one entry of an ontology file.
type Concept struct {
	Code     string   `yaml:"code" json:"code"`
	Title    string   `yaml:"title" json:"title"`
	Synonyms []string `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
	Parents  []string `yaml:"parents,omitempty" json:"parents,omitempty"`
}

type conceptFile struct {
	Concepts []Concept `yaml:"concepts"`
}

// StaticService is an in-memory ontology. It is immutable after construction.
type StaticService struct {
	byTitle map[string]string
	parents map[string][]string
}

// NewStatic indexes concepts. Titles and synonyms are matched case-insensitively; a title
// claimed by two codes is rejected.
func NewStatic(concepts []Concept) (*StaticService, error) {
	s := &StaticService{
		byTitle: make(map[string]string),
		parents: make(map[string][]string),
	}
	for i, c := range concepts {
		code := strings.TrimSpace(c.Code)
		if code == "" {
			return nil, fmt.Errorf("concept %d has no code", i)
		}
		if _, dup := s.parents[code]; dup {
			return nil, fmt.Errorf("duplicate concept code %s", code)
		}
		s.parents[code] = append([]string(nil), c.Parents...)

		for _, title := range append([]string{c.Title}, c.Synonyms...) {
			key := normalizeTitle(title)
			if key == "" {
				continue
			}
			if other, taken := s.byTitle[key]; taken && other != code {
				return nil, fmt.Errorf("title %q maps to both %s and %s", title, other, code)
			}
			s.byTitle[key] = code
		}
	}
	return s, nil
}

// LoadStatic reads an ontology YAML file.
func LoadStatic(path string) (*StaticService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ontology %s: %w", path, err)
	}
	s, err := ParseStatic(data)
	if err != nil {
		return nil, fmt.Errorf("parsing ontology %s: %w", path, err)
	}
	return s, nil
}

// ParseStatic builds a StaticService from YAML of the form {concepts: [{code, title, parents}]}.
func ParseStatic(data []byte) (*StaticService, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file conceptFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return NewStatic(file.Concepts)
}

// Len returns the number of concepts.
func (s *StaticService) Len() int {
	return len(s.parents)
}

// ResolveCode implements domain.OntologyService.
func (s *StaticService) ResolveCode(title string) (string, bool) {
	code, ok := s.byTitle[normalizeTitle(title)]
	return code, ok
}

// AncestorsOf implements domain.OntologyService. The result is breadth-first, nearest
// ancestors first, without duplicates and without code itself.
func (s *StaticService) AncestorsOf(code string) []string {
	seen := map[string]bool{code: true}
	queue := append([]string(nil), s.parents[code]...)
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, s.parents[next]...)
	}
	return out
}

// Resolve implements Lookup.
func (s *StaticService) Resolve(_ context.Context, title string) (string, error) {
	code, ok := s.ResolveCode(title)
	if !ok {
		return "", fmt.Errorf("%w: title %q", domain.ErrNotFound, title)
	}
	return code, nil
}

// Ancestors implements Lookup.
func (s *StaticService) Ancestors(_ context.Context, code string) ([]string, error) {
	if _, ok := s.parents[code]; !ok {
		return nil, fmt.Errorf("%w: code %s", domain.ErrNotFound, code)
	}
	return s.AncestorsOf(code), nil
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
