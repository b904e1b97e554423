package statsd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sizeSelector buckets every key into "small" (< 5) or "big".
var sizeSelector = SelectorFunc(func(map[string]string) (BucketClassifier, bool) {
	return ClassifierFunc(func(v float64) (string, bool) {
		if v < 5 {
			return "small", true
		}
		return "big", true
	}), true
})

func TestHistogramSingleLabelClassifier(t *testing.T) {
	s, em := newTestStatsd(t)
	s.Selector = sizeSelector
	recv := 1700000000.0

	for _, v := range []string{"1", "2", "3", "7", "9"} {
		s.handleLine(recv, "lat:"+v+"|h")
	}
	s.flush(10, recv)

	samples := em.Find("histograms", "lat")
	require.Len(t, samples, 2)
	byLabel := make(map[string]map[string]float64)
	for _, sample := range samples {
		byLabel[sample.Metadata["histogram"]] = sample.Values.Fields()
	}

	small := byLabel["small"]
	require.NotNil(t, small)
	assert.InDelta(t, 3.0, small["count"], epsilon)
	assert.InDelta(t, 0.3, small["count_ps"], epsilon)
	assert.InDelta(t, 1.0, small["lower"], epsilon)
	assert.InDelta(t, 3.0, small["upper"], epsilon)
	assert.InDelta(t, 6.0, small["sum"], epsilon)
	assert.InDelta(t, 14.0, small["sum_squares"], epsilon)
	assert.InDelta(t, 2.0, small["mean"], epsilon)
	assert.InDelta(t, 1.0, small["stdev"], epsilon)

	big := byLabel["big"]
	require.NotNil(t, big)
	assert.InDelta(t, 2.0, big["count"], epsilon)
	assert.InDelta(t, 7.0, big["lower"], epsilon)
	assert.InDelta(t, 9.0, big["upper"], epsilon)
}

func TestHistogramMultiLabelPredicates(t *testing.T) {
	s, em := newTestStatsd(t)
	s.Selector = SelectorFunc(func(map[string]string) (BucketClassifier, bool) {
		return PredicateSet{
			{Label: "all", Match: func(float64) bool { return true }},
			{Label: "small", Match: func(v float64) bool { return v < 5 }},
		}, true
	})
	recv := 1700000000.0

	s.handleLine(recv, "lat:3|h")
	s.handleLine(recv, "lat:8|h")
	s.flush(10, recv)

	samples := em.Find("histograms", "lat")
	require.Len(t, samples, 2)
	byLabel := make(map[string]map[string]float64)
	for _, sample := range samples {
		byLabel[sample.Metadata["histogram"]] = sample.Values.Fields()
	}
	assert.InDelta(t, 2.0, byLabel["all"]["count"], epsilon)
	assert.InDelta(t, 1.0, byLabel["small"]["count"], epsilon)
}

func TestHistogramSelectorDeclinesKey(t *testing.T) {
	s, em := newTestStatsd(t)
	s.Selector = SelectorFunc(func(metadata map[string]string) (BucketClassifier, bool) {
		if metadata["name"] == "tracked" {
			return ClassifierFunc(func(float64) (string, bool) { return "ok", true }), true
		}
		return nil, false
	})
	recv := 1700000000.0

	s.handleLine(recv, "tracked:1|h")
	s.handleLine(recv, "untracked:1|h")
	s.flush(10, recv)

	assert.Len(t, em.Find("histograms", "tracked"), 1)
	assert.Empty(t, em.Find("histograms", "untracked"))
	assert.EqualValues(t, 1, s.selectorMiss.Get())
}

func TestHistogramWithoutSelectorDropsSamples(t *testing.T) {
	s, em := newTestStatsd(t)
	recv := 1700000000.0

	s.handleLine(recv, "lat:3|h")
	s.flush(10, recv)

	assert.Empty(t, em.Samples())
	assert.EqualValues(t, 1, s.selectorMiss.Get())
}

func TestHistogramBucketsResetAcrossFlushes(t *testing.T) {
	s, em := newTestStatsd(t)
	s.Selector = sizeSelector
	recv := 1700000000.0

	s.handleLine(recv, "lat:2|h")
	s.flush(10, recv)

	// Only the counters reset; the key and its classifier survive, and an
	// idle bucket is not re-emitted.
	em.Reset()
	s.flush(20, recv+10)
	assert.Empty(t, em.Find("histograms", "lat"))

	s.handleLine(recv+15, "lat:4|h")
	s.flush(30, recv+20)
	samples := em.Find("histograms", "lat")
	require.Len(t, samples, 1)
	fields := samples[0].Values.Fields()
	assert.InDelta(t, 1.0, fields["count"], epsilon)
	assert.InDelta(t, 4.0, fields["lower"], epsilon)
	assert.InDelta(t, 4.0, fields["upper"], epsilon)
}

func TestPredicateSetNoMatch(t *testing.T) {
	ps := PredicateSet{
		{Label: "neg", Match: func(v float64) bool { return v < 0 }},
	}
	assert.Nil(t, ps.Buckets(math.Pi))
	assert.Equal(t, []string{"neg"}, ps.Buckets(-1))
}
