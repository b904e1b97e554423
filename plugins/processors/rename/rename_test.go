package rename

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/testutil"
)

func newSample(name string, tags map[string]string) statspipe.Sample {
	metadata := map[string]string{"name": name}
	for k, v := range tags {
		metadata[k] = v
	}
	return statspipe.Sample{
		Bucket:    "counters",
		Values:    statspipe.Fields(map[string]float64{"count": 1}),
		Timestamp: 1700000000,
		Metadata:  metadata,
	}
}

func TestPrefixPostfix(t *testing.T) {
	r := &Rename{Prefix: "stats", Postfix: "prod", Log: testutil.Logger{}}
	require.NoError(t, r.Init())

	out := r.Apply(newSample("requests", nil))
	assert.Equal(t, "stats_requests_prod", out[0].Metadata["name"])
}

func TestReplaceChar(t *testing.T) {
	r := &Rename{ReplaceChar: "_", Log: testutil.Logger{}}
	require.NoError(t, r.Init())

	out := r.Apply(newSample("a", nil))
	assert.Equal(t, "a", out[0].Metadata["name"])

	sample := newSample("x", nil)
	sample.Metadata["name"] = "web.latency-ms"
	out = r.Apply(sample)
	assert.Equal(t, "web_latency_ms", out[0].Metadata["name"])
}

func TestHostTrim(t *testing.T) {
	r := &Rename{HostTrim: []string{".example.com"}, Log: testutil.Logger{}}
	require.NoError(t, r.Init())

	out := r.Apply(newSample("requests", map[string]string{"host": "web3.example.com"}))
	assert.Equal(t, "web3", out[0].Metadata["host"])
}

func TestTagReplace(t *testing.T) {
	r := &Rename{
		Replace: []replaceOpts{{Tag: "env", Old: "prd", New: "production"}},
		Log:     testutil.Logger{},
	}
	require.NoError(t, r.Init())

	out := r.Apply(
		newSample("a", map[string]string{"env": "prd"}),
		newSample("b", map[string]string{"env": "dev"}),
	)
	assert.Equal(t, "production", out[0].Metadata["env"])
	assert.Equal(t, "dev", out[1].Metadata["env"])
}
