package selfstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry("statsd")
	a := r.Register("lines_dropped")
	b := r.Register("lines_dropped")
	a.Incr(2)
	assert.EqualValues(t, 2, b.Get())
}

func TestSamplesSnapshot(t *testing.T) {
	r := NewRegistry("statsd")
	r.Register("packets_received").Incr(7)
	r.Register("bytes_received").Set(120)

	batch := r.Samples("statspipe", 1700000000)
	require.Len(t, batch, 2)

	// Sorted by stat name for stable output.
	assert.Equal(t, "bytes_received", batch[0].Name())
	assert.InDelta(t, 120.0, batch[0].Values.Fields()["count"], 1e-9)
	assert.Equal(t, "packets_received", batch[1].Name())
	assert.InDelta(t, 7.0, batch[1].Values.Fields()["count"], 1e-9)
	assert.Equal(t, "statsd", batch[0].Metadata["module"])
	assert.Equal(t, 1700000000.0, batch[0].Timestamp)
}
