package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracer_ReturnsNonNilTracerFromGlobalProvider(t *testing.T) {
	tr := Tracer("ken.test")
	assert.NotNil(t, tr)
}
