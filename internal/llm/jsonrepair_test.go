package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliopilot/foliopilot/internal/errs"
)

func TestParseLooseStrict(t *testing.T) {
	v, err := ParseLoose(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)
}

func TestParseLooseStripsFences(t *testing.T) {
	v, err := ParseLoose("Here is the result: ```json {\"a\":1} ``` thanks")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)
}

func TestParseLooseUnclosedFence(t *testing.T) {
	v, err := ParseLoose("```json\n{\"a\": 2}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2.0}, v)
}

func TestParseLooseSlicesBrackets(t *testing.T) {
	v, err := ParseLoose(`The answer is {"price": 42.5, "currency": "USD"} according to my data.`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"price": 42.5, "currency": "USD"}, v)
}

func TestParseLooseSlicesArray(t *testing.T) {
	v, err := ParseLoose(`Results: [1, 2, 3] done`)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, v)
}

func TestParseLooseFailureKeepsRaw(t *testing.T) {
	_, err := ParseLoose("I cannot answer that.")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.BadModelOutput))
	assert.Equal(t, "I cannot answer that.", errs.RawOf(err))
}
