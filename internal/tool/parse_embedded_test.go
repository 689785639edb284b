package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmbeddedCalls_ParsesTypedParameters(t *testing.T) {
	content := `
	<function_calls>
	  <invoke name="add">
	    <parameter name="a" string="false">2</parameter>
	    <parameter name="b" string="false">3</parameter>
	  </invoke>
	  <invoke name="ping">
	    <parameter name="x" string="true">hello</parameter>
	  </invoke>
	</function_calls>
	`

	calls, ok := ParseEmbeddedCalls(content)
	require.True(t, ok)
	require.Len(t, calls, 2)
	assert.Equal(t, "add", calls[0].Name)
	assert.EqualValues(t, 2, calls[0].Arguments["a"])
	assert.EqualValues(t, 3, calls[0].Arguments["b"])
	assert.Equal(t, "ping", calls[1].Name)
	assert.Equal(t, "hello", calls[1].Arguments["x"])
}

func TestParseEmbeddedCalls_AcceptsFunctioncallsVariantOpeningTag(t *testing.T) {
	content := `
	<functioncalls>
	  <invoke name="creatememory">
	    <parameter name="content" string="true">Name is Eddy</parameter>
	  </invoke>
	</function_calls>
	`

	calls, ok := ParseEmbeddedCalls(content)
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "Name is Eddy", calls[0].Arguments["content"])
}

func TestParseEmbeddedCalls_RejectsMixedProse(t *testing.T) {
	content := `
	I found this:
	<function_calls>
	  <invoke name="search_web">
	    <parameter name="query" string="true">LangChain</parameter>
	  </invoke>
	</function_calls>
	Let me know if you want more.
	`

	_, ok := ParseEmbeddedCalls(content)
	assert.False(t, ok)
}
