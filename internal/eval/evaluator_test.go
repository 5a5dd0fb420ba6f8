package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEvaluator(t *testing.T) {
	// Full evaluation needs the pkl binary and resolvable schemas, which
	// CI does not guarantee. Construction alone is cheap and covers the
	// wiring.
	e := NewEvaluator(t.TempDir())
	assert.NotNil(t, e)
}
