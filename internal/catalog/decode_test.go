package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

func TestDecodeNodesAcceptsBothShapes(t *testing.T) {
	t.Parallel()

	bare := []byte(`[
		{"shortName":"CDMS","ivoIdentifier":"ivo://vamdc/cdms","tapEndpoint":"https://cdms.example/tap/","topics":["molecules"]},
		{"shortName":"NoTap","ivoIdentifier":"ivo://vamdc/none","tapEndpoint":""}
	]`)
	nodes, err := DecodeNodes(bare)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "https://cdms.example/tap/", nodes[0].Address)

	wrapped := []byte(`{"data":[{"shortName":"JPL","ivoIdentifier":"ivo://vamdc/jpl","tapEndpoint":"https://jpl.example/tap/"}]}`)
	nodes, err = DecodeNodes(wrapped)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "JPL", nodes[0].ShortName)

	_, err = DecodeNodes([]byte(`{"data":`))
	require.Error(t, err)
}

func TestDecodeSpeciesMergesAcrossNodes(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"ivo://vamdc/jpl": [
			{"InChIKey":"UGFAIRIUMAVXCW-UHFFFAOYSA-N","name":"carbon monoxide","speciesType":"molecule","charge":0,"massNumber":28,"lastSeenDateTime":"a||b"}
		],
		"ivo://vamdc/cdms": [
			{"InChIKey":"ugfairiumavxcw-uhfffaoysa-n","name":"CO","speciesType":"molecule"},
			{"InChIKey":"XEEYBQQBJWHFJM-UHFFFAOYSA-N","name":"Fe","speciesType":"atom","charge":null}
		]
	}`)
	species, err := DecodeSpecies(payload)
	require.NoError(t, err)
	require.Len(t, species, 2)

	co := species[0]
	assert.Equal(t, "UGFAIRIUMAVXCW-UHFFFAOYSA-N", co.InChIKey)
	assert.Equal(t, vamdc.ClassMolecular, co.Class)
	assert.Equal(t, []string{"ivo://vamdc/cdms", "ivo://vamdc/jpl"}, co.Nodes)

	fe := species[1]
	assert.Equal(t, vamdc.ClassAtomic, fe.Class)
	assert.Equal(t, 0, fe.Charge)
}
