// Package parser holds the C5 payload-parser capability contract and a
// registry for auto-detect/by-name lookup, generalizing
// other_examples/kxddry-rag-text-search's small single-method
// domain.Chunker interface (one capability, many interchangeable
// implementations) into the three-method shape SPEC_FULL.md §4.5 step 1
// needs: declared content type, a cheap applicability probe, and the parse
// call itself.
package parser

import (
	"github.com/xlab2016/space-db-public/internal/apperr"
)

// ContentFragment is one ordered unit of a ParsedResource.
type ContentFragment struct {
	Metadata  map[string]any
	Content   string
	Type      string
	ParentKey string
	Order     int
}

// ParsedResource is the transient product of a single Parse call.
type ParsedResource struct {
	Metadata     map[string]any
	ResourceID   string
	ResourceType string
	Fragments    []ContentFragment
}

// Parser is a pure function (payload, resourceId, metadata) -> ParsedResource,
// paired with a declared content type and an applicability probe.
type Parser interface {
	// ContentType names the parser for explicit (non-auto) selection.
	ContentType() string

	// CanParse reports whether this parser can meaningfully handle payload.
	CanParse(payload []byte) bool

	// Parse transforms payload into an ordered fragment list.
	Parse(payload []byte, resourceID string, metadata map[string]any) (*ParsedResource, error)
}

// Registry holds parsers in registration order and implements the
// auto-detect/by-name lookup spec §4.5 step 1 describes.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds a Registry containing parsers in the given order;
// order matters for auto-detection, since the first parser whose CanParse
// returns true wins.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// Register appends a parser, making it the last auto-detect candidate.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Resolve selects a parser. If contentType is "" or "auto", it probes
// registered parsers in order and returns the first match. Otherwise it
// looks up the named parser and verifies CanParse.
func (r *Registry) Resolve(contentType string, payload []byte) (Parser, error) {
	if contentType == "" || contentType == "auto" {
		for _, p := range r.parsers {
			if p.CanParse(payload) {
				return p, nil
			}
		}
		return nil, apperr.New(apperr.ParserNotApplicable, "no registered parser can handle this payload")
	}

	for _, p := range r.parsers {
		if p.ContentType() == contentType {
			if !p.CanParse(payload) {
				return nil, apperr.New(apperr.ParserNotApplicable, "parser "+contentType+" cannot handle this payload")
			}
			return p, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "no parser registered for content type "+contentType)
}
