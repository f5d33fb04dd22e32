// allocator/allocator_test.go
package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderQuantityProportionalSizing(t *testing.T) {
	t.Parallel()

	// 19% of 10000 = 1900, at $50 a share -> 38 shares.
	assert.Equal(t, int64(38), OrderQuantity(10000, 10000, 50, 19))
}

func TestOrderQuantityCappedByCash(t *testing.T) {
	t.Parallel()

	// Target is 38 shares but cash only funds 10.
	assert.Equal(t, int64(10), OrderQuantity(10000, 500, 50, 19))
}

func TestOrderQuantityRejectsSubShare(t *testing.T) {
	t.Parallel()

	// 19% of 100 = 19, below one $50 share.
	assert.Equal(t, int64(0), OrderQuantity(100, 100, 50, 19))
	// Enough equity but no cash.
	assert.Equal(t, int64(0), OrderQuantity(10000, 10, 50, 19))
}

func TestOrderQuantityDegenerateInputs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), OrderQuantity(0, 1000, 50, 19))
	assert.Equal(t, int64(0), OrderQuantity(-5, 1000, 50, 19))
	assert.Equal(t, int64(0), OrderQuantity(10000, 1000, 0, 19))
	assert.Equal(t, int64(0), OrderQuantity(10000, 1000, 50, 0))
}
