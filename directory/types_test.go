package directory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Area 52":      "area-52",
		"Kil'jaeden":   "kiljaeden",
		"The Vanguard": "the-vanguard",
		"  Stormrage ": "stormrage",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestToyCollection_IDs(t *testing.T) {
	var c ToyCollection
	require.NoError(t, json.Unmarshal([]byte(`{"toys":[
		{"toy":{"id":42}},
		{"toy":{"id":"7"}},
		{"toy":{"id":7.5}},
		{"toy":{}},
		{"toy":{"id":7}}
	]}`), &c))
	assert.Equal(t, []int64{42, 7}, c.IDs())
}

func TestToyCollection_IDsOutOfRange(t *testing.T) {
	var c ToyCollection
	require.NoError(t, json.Unmarshal([]byte(`{"toys":[
		{"toy":{"id":1e300}},
		{"toy":{"id":-1e300}},
		{"toy":{"id":9223372036854775808}},
		{"toy":{"id":12}}
	]}`), &c))
	assert.Equal(t, []int64{12}, c.IDs())
}

func TestCollectionsIndex_NoToysLink(t *testing.T) {
	var idx CollectionsIndex
	require.NoError(t, json.Unmarshal([]byte(`{"pets":{"href":"x"}}`), &idx))
	assert.Nil(t, idx.Toys)
}
