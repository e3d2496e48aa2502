package jsonparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlab2016/space-db-public/internal/apperr"
)

func TestCanParse(t *testing.T) {
	p := New()
	assert.True(t, p.CanParse([]byte(`{"a":1}`)))
	assert.True(t, p.CanParse([]byte(`[1,2,3]`)))
	assert.False(t, p.CanParse([]byte(`not json`)))
	assert.False(t, p.CanParse([]byte(`"just a string"`)))
	assert.False(t, p.CanParse(nil))
}

func TestParse_InvalidJSONFailsWithInvalidInput(t *testing.T) {
	p := New()
	_, err := p.Parse([]byte(`{invalid`), "r1", nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestParse_EmptyPayload(t *testing.T) {
	p := New()
	_, err := p.Parse(nil, "r1", nil)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

// Seed scenario 2: JSON parsing.
func TestParse_NestedObjectScenario(t *testing.T) {
	p := New()
	bio := "Software engineer with passion for AI"
	payload := `{"user":{"name":"Alice","bio":"` + bio + `"}}`

	result, err := p.Parse([]byte(payload), "r1", nil)
	require.NoError(t, err)
	require.Len(t, result.Fragments, 3)

	root := result.Fragments[0]
	assert.Equal(t, "json_object", root.Type)
	assert.Equal(t, 1, root.Metadata["property_count"])

	user := result.Fragments[1]
	assert.Equal(t, "json_object", user.Type)
	assert.Equal(t, 2, user.Metadata["property_count"])
	assert.Equal(t, "root.user", user.ParentKey)

	bioFragment := result.Fragments[2]
	assert.Equal(t, "json_value", bioFragment.Type)
	assert.Equal(t, bio, bioFragment.Content)
	assert.Equal(t, len(bio), bioFragment.Metadata["length"])
	assert.Equal(t, "root.user.bio", bioFragment.ParentKey)

	for i, f := range result.Fragments {
		assert.Equal(t, i, f.Order)
	}
}

func TestParse_ArraysEmitWhenIncluded(t *testing.T) {
	p := New()
	payload := `{"items":[1,2,3,4,5,6]}`

	result, err := p.Parse([]byte(payload), "r1", nil)
	require.NoError(t, err)

	var sawArray bool
	for _, f := range result.Fragments {
		if f.Type == "json_array" {
			sawArray = true
			assert.Equal(t, 6, f.Metadata["array_length"])
		}
	}
	assert.True(t, sawArray)
}

func TestParse_ArraysSkippedWhenExcluded(t *testing.T) {
	p := &Parser{MaxDepth: 10, IncludeArrays: false}
	payload := `{"items":[1,2,3]}`

	result, err := p.Parse([]byte(payload), "r1", nil)
	require.NoError(t, err)
	for _, f := range result.Fragments {
		assert.NotEqual(t, "json_array", f.Type)
	}
}

func TestParse_DepthLimitStopsSilently(t *testing.T) {
	p := &Parser{MaxDepth: 1, IncludeArrays: true}
	payload := `{"a":{"b":{"c":"a string longer than twenty characters"}}}`

	result, err := p.Parse([]byte(payload), "r1", nil)
	require.NoError(t, err)

	for _, f := range result.Fragments {
		assert.NotEqual(t, "root.a.b.c", f.ParentKey)
	}
	// the root and "a" objects are still emitted (depth 0 and 1)
	assert.GreaterOrEqual(t, len(result.Fragments), 1)
}

func TestParse_ShortStringsAreInlinedOnly(t *testing.T) {
	p := New()
	payload := `{"name":"Alice"}`

	result, err := p.Parse([]byte(payload), "r1", nil)
	require.NoError(t, err)
	require.Len(t, result.Fragments, 1)
	assert.Equal(t, "json_object", result.Fragments[0].Type)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "json", New().ContentType())
}
