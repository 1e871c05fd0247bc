package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollingMatchesBatch(t *testing.T) {
	vals := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5}
	r := NewRolling(4)
	for i, v := range vals {
		r.Push(v)
		if i >= 3 {
			assert.InDelta(t, SMA(vals[:i+1], 4), r.Mean(), 1e-9)
			assert.InDelta(t, StdDev(vals[:i+1], 4), r.StdDev(), 1e-9)
			assert.Equal(t, vals[i-3], r.Oldest())
		}
	}
	assert.True(t, r.Full())
	assert.Equal(t, 4, r.Len())

	mid, up, low := r.Bands(2)
	assert.InDelta(t, up-mid, mid-low, 1e-9)
}

func TestEMASeededWithSMA(t *testing.T) {
	e := NewEMA(3)
	e.Update(1)
	e.Update(2)
	assert.False(t, e.Ready())
	assert.InDelta(t, 2.0, e.Update(3), 1e-9)
	assert.True(t, e.Ready())
	// k = 0.5
	assert.InDelta(t, 3.0, e.Update(4), 1e-9)
}

func TestRSI(t *testing.T) {
	r := NewRSI(3)
	assert.True(t, math.IsNaN(r.Update(10)))
	r.Update(11)
	r.Update(12)
	assert.Equal(t, 100.0, r.Update(13))

	down := NewRSI(3)
	for _, v := range []float64{10, 9, 8, 7} {
		down.Update(v)
	}
	assert.InDelta(t, 0.0, down.Value(), 1e-9)

	mixed := NewRSI(2)
	for _, v := range []float64{10, 11, 10} {
		mixed.Update(v)
	}
	assert.InDelta(t, 50.0, mixed.Value(), 1e-9)
}

func TestSMAShortInput(t *testing.T) {
	assert.True(t, math.IsNaN(SMA([]float64{1}, 2)))
	assert.True(t, math.IsNaN(StdDev(nil, 0)))
}
