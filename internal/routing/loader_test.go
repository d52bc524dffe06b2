package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "relay/pkg/errors"
)

func TestLoad(t *testing.T) {
	doc := []byte(`{
		"defaultPipeline": "pl_default",
		"routes": {
			"blob:raw/": "pl_ingest",
			"type:emergency": "pl_emergency",
			"cel:parameters.priority == \"high\"": "pl_priority"
		}
	}`)

	table, err := Load(doc)
	require.NoError(t, err)

	assert.Equal(t, "pl_default", table.DefaultPipeline)
	require.Len(t, table.Rules, 3)
}

func TestLoad_RuleOrderIsDeterministic(t *testing.T) {
	doc := []byte(`{
		"defaultPipeline": "pl_default",
		"routes": {
			"blob:raw/b/": "pl_b",
			"blob:raw/a/": "pl_a",
			"blob:raw/c/": "pl_c"
		}
	}`)

	first, err := Load(doc)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		table, err := Load(doc)
		require.NoError(t, err)
		for j := range first.Rules {
			assert.Equal(t, first.Rules[j].Pipeline, table.Rules[j].Pipeline)
		}
	}

	assert.Equal(t, "pl_a", first.Rules[0].Pipeline)
	assert.Equal(t, "pl_b", first.Rules[1].Pipeline)
	assert.Equal(t, "pl_c", first.Rules[2].Pipeline)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "invalid json",
			doc:  `{not json`,
		},
		{
			name: "missing default pipeline",
			doc:  `{"routes": {"type:a": "pl_a"}}`,
		},
		{
			name: "empty pipeline name",
			doc:  `{"defaultPipeline": "pl_d", "routes": {"type:a": ""}}`,
		},
		{
			name: "unknown route kind",
			doc:  `{"defaultPipeline": "pl_d", "routes": {"regex:a.*": "pl_a"}}`,
		},
		{
			name: "invalid cel expression",
			doc:  `{"defaultPipeline": "pl_d", "routes": {"cel:not valid!!!": "pl_a"}}`,
		},
		{
			name: "non-boolean cel expression",
			doc:  `{"defaultPipeline": "pl_d", "routes": {"cel:eventType": "pl_a"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.ErrConfig))
		})
	}
}
