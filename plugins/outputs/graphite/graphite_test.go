package graphite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/testutil"
)

func TestSerializeFields(t *testing.T) {
	g := &Graphite{GlobalPrefix: "stats", Log: testutil.Logger{}}
	require.NoError(t, g.Init())

	var buf bytes.Buffer
	g.serialize(&buf, statspipe.Sample{
		Bucket: "counters",
		Values: statspipe.Fields(map[string]float64{
			"rate":  0.6,
			"count": 6,
		}),
		Timestamp: 1700000000.25,
		Metadata:  map[string]string{"name": "requests", "env": "prod"},
	})

	assert.Equal(t,
		"stats.counters.requests.count;env=prod 6 1700000000\n"+
			"stats.counters.requests.rate;env=prod 0.6 1700000000\n",
		buf.String())
}

func TestSerializeScalar(t *testing.T) {
	g := &Graphite{Log: testutil.Logger{}}
	require.NoError(t, g.Init())

	var buf bytes.Buffer
	g.serialize(&buf, statspipe.Sample{
		Bucket:    "gauges",
		Values:    statspipe.Scalar(47),
		Timestamp: 1700000000,
		Metadata:  map[string]string{"name": "temp"},
	})

	assert.Equal(t, "gauges.temp 47 1700000000\n", buf.String())
}
