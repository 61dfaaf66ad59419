package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/carina28/horovod/fusion"
)

func TestSplitElementsHomogeneous(t *testing.T) {
	sp := splitElements(10, 3, true)
	assert.Equal(t, 3, sp.perRank)
	assert.Equal(t, 1, sp.remainder)
	assert.Equal(t, 2, sp.rootRank)

	// Fewer elements than peers: everything is remainder.
	sp = splitElements(2, 4, true)
	assert.Equal(t, 0, sp.perRank)
	assert.Equal(t, 2, sp.remainder)
}

func TestSplitElementsNonHomogeneous(t *testing.T) {
	sp := splitElements(10, 3, false)
	assert.Equal(t, 0, sp.perRank)
	assert.Equal(t, 10, sp.remainder)
	assert.Equal(t, 0, sp.rootRank)
}

// For any element count and peer count, the padded count is the least
// multiple of local_size x atomic_unit that covers it, and the padded fused
// split has no remainder: per_rank x L == N'.
func TestPropertyPaddedSplitArithmetic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 1<<20).Draw(rt, "elements")
		l := rapid.IntRange(1, 16).Draw(rt, "localSize")

		padded := padElements(n, l)
		div := l * fusion.AtomicUnit
		if padded < n || padded%div != 0 || padded-n >= div {
			rt.Fatalf("padElements(%d, %d) = %d", n, l, padded)
		}

		sp := splitElements(padded, l, true)
		if sp.remainder != 0 {
			rt.Fatalf("padded split left remainder %d", sp.remainder)
		}
		if sp.perRank*l != padded {
			rt.Fatalf("per_rank %d x %d != %d", sp.perRank, l, padded)
		}
	})
}

// For any unpadded count, the split always accounts for every element:
// per_rank x L + remainder == N.
func TestPropertySplitCoversAllElements(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 1<<20).Draw(rt, "elements")
		l := rapid.IntRange(1, 16).Draw(rt, "localSize")
		homogeneous := rapid.Bool().Draw(rt, "homogeneous")

		sp := splitElements(n, l, homogeneous)
		if sp.perRank*l+sp.remainder != n {
			rt.Fatalf("split of %d over %d lost elements: %+v", n, l, sp)
		}
		if !homogeneous && (sp.perRank != 0 || sp.rootRank != 0) {
			rt.Fatalf("non-homogeneous split must route through rank 0: %+v", sp)
		}
	})
}
