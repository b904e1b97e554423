package statsd

import (
	"math"
	"sort"
	"strconv"

	"github.com/statspipe/statspipe"
)

// flush materializes the aggregation tables into samples and hands them to
// the emitter. monotonic and wall are both in seconds; the interval between
// flushes comes from the monotonic clock so wall adjustments can't skew
// rates. Counters, sets, timers and histograms keep their keys and reset
// their accumulators; gauges are emitted as-is. Keys silent for longer than
// their kind's timeout are evicted without emission.
func (s *Statsd) flush(monotonic, wall float64) {
	interval := monotonic - s.prevFlush

	batch := make([]statspipe.Sample, 0, len(s.counters)+len(s.gauges)+len(s.sets)+len(s.timers))
	batch = s.flushCounters(batch, interval, wall)
	batch = s.flushGauges(batch, wall)
	batch = s.flushSets(batch, wall)
	batch = s.flushTimers(batch, interval, wall)
	batch = s.flushHistograms(batch, interval, wall)

	if !s.IgnoreInternalStats {
		batch = append(batch, s.stats.Samples(internalStatsBucket, wall)...)
	}

	if len(batch) > 0 {
		s.em.Emit(batch)
	}
	s.prevFlush = monotonic
}

func (s *Statsd) flushCounters(batch []statspipe.Sample, interval, wall float64) []statspipe.Sample {
	for key, st := range s.counters {
		if wall-st.lastRecv > s.CountersTimeout.Seconds() {
			delete(s.counters, key)
			continue
		}
		values := map[string]float64{"count": st.value}
		if interval > 0 {
			values["rate"] = st.value / interval
		}
		batch = s.appendSample(batch, s.CountersBucket, statspipe.Fields(values), timestampFor(st.clientTS, wall), st.metadata)
		st.value = 0
	}
	return batch
}

func (s *Statsd) flushGauges(batch []statspipe.Sample, wall float64) []statspipe.Sample {
	for key, st := range s.gauges {
		if wall-st.lastRecv > s.GaugesTimeout.Seconds() {
			delete(s.gauges, key)
			continue
		}
		batch = s.appendSample(batch, s.GaugesBucket, statspipe.Scalar(st.value), timestampFor(st.clientTS, wall), st.metadata)
	}
	return batch
}

func (s *Statsd) flushSets(batch []statspipe.Sample, wall float64) []statspipe.Sample {
	for key, st := range s.sets {
		if wall-st.lastRecv > s.SetsTimeout.Seconds() {
			delete(s.sets, key)
			continue
		}
		values := map[string]float64{"count": float64(len(st.values))}
		batch = s.appendSample(batch, s.SetsBucket, statspipe.Fields(values), timestampFor(st.clientTS, wall), st.metadata)
		st.values = make(map[string]struct{})
	}
	return batch
}

func (s *Statsd) flushTimers(batch []statspipe.Sample, interval, wall float64) []statspipe.Sample {
	for key, st := range s.timers {
		if wall-st.lastRecv > s.TimersTimeout.Seconds() {
			delete(s.timers, key)
			continue
		}
		ts := timestampFor(st.clientTS, wall)

		if len(st.values) == 0 {
			// Live but idle key: report emptiness, skip the statistics.
			values := map[string]float64{"count": 0, "count_ps": 0}
			batch = s.appendSample(batch, s.TimersBucket, statspipe.Fields(values), ts, st.metadata)
			continue
		}

		sort.Float64s(st.values)
		n := len(st.values)
		for _, p := range s.PercentileThresholds {
			k := n
			if p < 100 {
				k = int(math.Floor(p * float64(n) / 100))
				if k < 1 {
					k = 1
				}
			}
			values := prefixStats(st.values[:k], interval)
			metadata := copyMetadata(st.metadata)
			metadata["percentile"] = formatThreshold(p)
			batch = s.appendSample(batch, s.TimersBucket, statspipe.Fields(values), ts, metadata)
		}
		st.values = st.values[:0]
	}
	return batch
}

func (s *Statsd) flushHistograms(batch []statspipe.Sample, interval, wall float64) []statspipe.Sample {
	for key, st := range s.histograms {
		if wall-st.lastRecv > s.HistogramsTimeout.Seconds() {
			delete(s.histograms, key)
			continue
		}
		ts := timestampFor(st.clientTS, wall)
		for label, b := range st.buckets {
			if b.n == 0 {
				continue
			}
			count := float64(b.n)
			mean := b.sum / count
			values := map[string]float64{
				"count":       count,
				"lower":       b.min,
				"upper":       b.max,
				"sum":         b.sum,
				"sum_squares": b.sumSquares,
				"mean":        mean,
			}
			if interval > 0 {
				values["count_ps"] = count / interval
			}
			if b.n > 1 {
				values["stdev"] = math.Sqrt((b.sumSquares - 2*mean*b.sum + count*mean*mean) / (count - 1))
			}
			metadata := copyMetadata(st.metadata)
			metadata["histogram"] = label
			batch = s.appendSample(batch, s.HistogramsBucket, statspipe.Fields(values), ts, metadata)

			// The label set survives the flush; only the counters reset.
			*b = histogramBucket{}
		}
	}
	return batch
}

// prefixStats computes the timer statistics over a sorted prefix.
func prefixStats(prefix []float64, interval float64) map[string]float64 {
	k := len(prefix)
	var sum, sumSquares float64
	for _, v := range prefix {
		sum += v
		sumSquares += v * v
	}
	count := float64(k)
	mean := sum / count
	values := map[string]float64{
		"count":       count,
		"lower":       prefix[0],
		"upper":       prefix[k-1],
		"sum":         sum,
		"sum_squares": sumSquares,
		"mean":        mean,
	}
	if interval > 0 {
		values["count_ps"] = count / interval
	}
	if k > 1 {
		values["stdev"] = math.Sqrt((sumSquares - 2*mean*sum + count*mean*mean) / (count - 1))
	}
	return values
}

// appendSample routes one derived sample to its destination bucket. A
// reserved "bucket" tag overrides the kind's default and is stripped from
// the emitted metadata.
func (s *Statsd) appendSample(batch []statspipe.Sample, bucket string, values statspipe.SampleValues, ts float64, metadata map[string]string) []statspipe.Sample {
	out := copyMetadata(metadata)
	if override, ok := out["bucket"]; ok {
		bucket = override
		delete(out, "bucket")
	}
	return append(batch, statspipe.Sample{
		Bucket:    bucket,
		Values:    values,
		Timestamp: ts,
		Metadata:  out,
	})
}

func timestampFor(clientTS, wall float64) float64 {
	if clientTS != 0 {
		return clientTS
	}
	return wall
}

func formatThreshold(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}
