// Package owl implements the §4.6.3 OWL/RDF parser: an XML document with
// an `rdf:RDF` root containing `owl:*` descendants, emitting four fragment
// kinds (ontology, class, property, individual) in that fixed order. No
// RDF/OWL library appears anywhere in the example pack, so this is built
// directly on encoding/xml using the generic recursive-node idiom (a node
// type that captures its own attributes, char data, and arbitrary
// children) common to Go code that has to walk a heterogeneous XML tree
// whose exact shape isn't known at compile time.
package owl

import (
	"encoding/xml"
	"strings"

	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/parser"
)

const contentType = "owl"

// node is a generic recursive XML element: its own attributes, any direct
// character data, and its children, also as nodes.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n node) attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (n node) child(local string) (node, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			return c, true
		}
	}
	return node{}, false
}

func (n node) children(local string) []node {
	var out []node
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			out = append(out, c)
		}
	}
	return out
}

func (n node) text(local string) string {
	c, ok := n.child(local)
	if !ok {
		return ""
	}
	return strings.TrimSpace(c.Content)
}

// localName returns the substring of a URI following the last '/' or '#'.
func localName(uri string) string {
	if i := strings.LastIndexAny(uri, "/#"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

var propertyKinds = map[string]bool{
	"ObjectProperty":            true,
	"DatatypeProperty":          true,
	"AnnotationProperty":        true,
	"FunctionalProperty":        true,
	"InverseFunctionalProperty": true,
	"TransitiveProperty":        true,
	"SymmetricProperty":         true,
}

// Parser parses OWL/RDF XML documents.
type Parser struct{}

// New builds an OWL/RDF parser.
func New() *Parser { return &Parser{} }

func (p *Parser) ContentType() string { return contentType }

// CanParse reports whether payload is an XML document rooted at rdf:RDF.
func (p *Parser) CanParse(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	var root node
	if err := xml.Unmarshal(payload, &root); err != nil {
		return false
	}
	return root.XMLName.Local == "RDF"
}

func (p *Parser) Parse(payload []byte, resourceID string, metadata map[string]any) (*parser.ParsedResource, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "payload is empty")
	}

	var root node
	if err := xml.Unmarshal(payload, &root); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, err, "invalid OWL/RDF XML payload")
	}
	if root.XMLName.Local != "RDF" {
		return nil, apperr.New(apperr.InvalidInput, "root element is not rdf:RDF")
	}

	var ontologies, classes, properties, individuals []node
	for _, c := range root.Nodes {
		switch {
		case c.XMLName.Local == "Ontology":
			ontologies = append(ontologies, c)
		case c.XMLName.Local == "Class":
			classes = append(classes, c)
		case propertyKinds[c.XMLName.Local]:
			properties = append(properties, c)
		case c.XMLName.Local == "NamedIndividual":
			individuals = append(individuals, c)
		}
	}

	var fragments []parser.ContentFragment
	for _, o := range ontologies {
		fragments = append(fragments, ontologyFragment(o, len(fragments)))
	}
	for _, c := range classes {
		fragments = append(fragments, classFragment(c, len(fragments)))
	}
	for _, pr := range properties {
		fragments = append(fragments, propertyFragment(pr, len(fragments)))
	}
	for _, ind := range individuals {
		fragments = append(fragments, individualFragment(ind, len(fragments)))
	}

	return &parser.ParsedResource{
		ResourceID:   resourceID,
		ResourceType: contentType,
		Metadata:     metadata,
		Fragments:    fragments,
	}, nil
}

func resourceOf(n node) string {
	about, _ := n.attr("about")
	return about
}

func ontologyFragment(n node, order int) parser.ContentFragment {
	label := n.text("label")
	comment := n.text("comment")
	version := n.text("versionInfo")

	return parser.ContentFragment{
		Content:   strings.TrimSpace(label + " " + comment),
		Type:      "owl_ontology",
		ParentKey: resourceOf(n),
		Order:     order,
		Metadata: map[string]any{
			"label":       label,
			"comment":     comment,
			"versionInfo": version,
		},
	}
}

func classFragment(n node, order int) parser.ContentFragment {
	about := resourceOf(n)
	label := n.text("label")
	if label == "" {
		label = localName(about)
	}

	definition := n.text("definition")
	if definition == "" {
		definition = n.text("comment")
	}

	var subClassOf []string
	for _, s := range n.children("subClassOf") {
		if res, ok := s.attr("resource"); ok {
			subClassOf = append(subClassOf, localName(res))
		}
	}

	var sameAs []string
	for _, s := range n.children("sameAs") {
		if res, ok := s.attr("resource"); ok {
			sameAs = append(sameAs, localName(res))
		}
	}

	guid := n.text("guid")

	content := label
	if definition != "" {
		content = label + ": " + definition
	}

	return parser.ContentFragment{
		Content:   content,
		Type:      "owl_class",
		ParentKey: about,
		Order:     order,
		Metadata: map[string]any{
			"label":      label,
			"definition": definition,
			"subClassOf": subClassOf,
			"sameAs":     sameAs,
			"guid":       guid,
		},
	}
}

func propertyFragment(n node, order int) parser.ContentFragment {
	about := resourceOf(n)
	label := n.text("label")
	if label == "" {
		label = localName(about)
	}

	var domain, rng string
	if d, ok := n.child("domain"); ok {
		if res, ok := d.attr("resource"); ok {
			domain = localName(res)
		}
	}
	if r, ok := n.child("range"); ok {
		if res, ok := r.attr("resource"); ok {
			rng = localName(res)
		}
	}

	return parser.ContentFragment{
		Content:   label,
		Type:      "owl_property",
		ParentKey: about,
		Order:     order,
		Metadata: map[string]any{
			"label":  label,
			"kind":   n.XMLName.Local,
			"domain": domain,
			"range":  rng,
		},
	}
}

func individualFragment(n node, order int) parser.ContentFragment {
	about := resourceOf(n)
	label := n.text("label")
	if label == "" {
		label = localName(about)
	}

	var types []string
	for _, t := range n.children("type") {
		if res, ok := t.attr("resource"); ok {
			types = append(types, localName(res))
		}
	}

	return parser.ContentFragment{
		Content:   label,
		Type:      "owl_individual",
		ParentKey: about,
		Order:     order,
		Metadata: map[string]any{
			"label": label,
			"types": types,
		},
	}
}
