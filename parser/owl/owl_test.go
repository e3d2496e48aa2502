package owl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlab2016/space-db-public/internal/apperr"
)

const samplePayload = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns:rdfs="http://www.w3.org/2000/01/rdf-schema#"
         xmlns:owl="http://www.w3.org/2002/07/owl#"
         xmlns:skos="http://www.w3.org/2004/02/skos/core#">
  <owl:Ontology rdf:about="http://example.org/onto">
    <rdfs:label>Example Ontology</rdfs:label>
    <rdfs:comment>A test ontology</rdfs:comment>
    <owl:versionInfo>1.0</owl:versionInfo>
  </owl:Ontology>
  <owl:Class rdf:about="http://example.org/onto#Animal">
    <rdfs:label>Animal</rdfs:label>
    <skos:definition>A living organism</skos:definition>
  </owl:Class>
  <owl:Class rdf:about="http://example.org/onto#Dog">
    <rdfs:label>Dog</rdfs:label>
    <rdfs:subClassOf rdf:resource="http://example.org/onto#Animal"/>
  </owl:Class>
  <owl:ObjectProperty rdf:about="http://example.org/onto#hasOwner">
    <rdfs:label>hasOwner</rdfs:label>
    <rdfs:domain rdf:resource="http://example.org/onto#Dog"/>
    <rdfs:range rdf:resource="http://example.org/onto#Person"/>
  </owl:ObjectProperty>
  <owl:NamedIndividual rdf:about="http://example.org/onto#Rex">
    <rdfs:label>Rex</rdfs:label>
    <rdf:type rdf:resource="http://example.org/onto#Dog"/>
  </owl:NamedIndividual>
</rdf:RDF>`

func TestCanParse(t *testing.T) {
	p := New()
	assert.True(t, p.CanParse([]byte(samplePayload)))
	assert.False(t, p.CanParse([]byte(`<not-rdf/>`)))
	assert.False(t, p.CanParse(nil))
}

func TestParse_EmitsFourFragmentKindsInOrder(t *testing.T) {
	p := New()
	result, err := p.Parse([]byte(samplePayload), "r1", nil)
	require.NoError(t, err)
	require.Len(t, result.Fragments, 5)

	assert.Equal(t, "owl_ontology", result.Fragments[0].Type)
	assert.Equal(t, "owl_class", result.Fragments[1].Type)
	assert.Equal(t, "owl_class", result.Fragments[2].Type)
	assert.Equal(t, "owl_property", result.Fragments[3].Type)
	assert.Equal(t, "owl_individual", result.Fragments[4].Type)

	for i, f := range result.Fragments {
		assert.Equal(t, i, f.Order)
	}
}

func TestParse_ClassPrefersDefinitionOverComment(t *testing.T) {
	p := New()
	result, err := p.Parse([]byte(samplePayload), "r1", nil)
	require.NoError(t, err)

	animal := result.Fragments[1]
	assert.Equal(t, "Animal", animal.Metadata["label"])
	assert.Equal(t, "A living organism", animal.Metadata["definition"])
}

func TestParse_SubClassOfResolvesLocalName(t *testing.T) {
	p := New()
	result, err := p.Parse([]byte(samplePayload), "r1", nil)
	require.NoError(t, err)

	dog := result.Fragments[2]
	assert.Equal(t, []string{"Animal"}, dog.Metadata["subClassOf"])
}

func TestParse_PropertyDomainAndRange(t *testing.T) {
	p := New()
	result, err := p.Parse([]byte(samplePayload), "r1", nil)
	require.NoError(t, err)

	prop := result.Fragments[3]
	assert.Equal(t, "Dog", prop.Metadata["domain"])
	assert.Equal(t, "Person", prop.Metadata["range"])
	assert.Equal(t, "ObjectProperty", prop.Metadata["kind"])
}

func TestParse_IndividualTypes(t *testing.T) {
	p := New()
	result, err := p.Parse([]byte(samplePayload), "r1", nil)
	require.NoError(t, err)

	rex := result.Fragments[4]
	assert.Equal(t, []string{"Dog"}, rex.Metadata["types"])
}

func TestParse_InvalidXMLFailsWithInvalidInput(t *testing.T) {
	p := New()
	_, err := p.Parse([]byte(`<not-closed>`), "r1", nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestParse_NonRDFRootFailsWithInvalidInput(t *testing.T) {
	p := New()
	_, err := p.Parse([]byte(`<html></html>`), "r1", nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "owl", New().ContentType())
}
