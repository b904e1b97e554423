// Package selfstat keeps process-internal counters (received packets, dropped
// lines, ...) and turns them into regular samples so the pipeline reports on
// itself through the same sinks it feeds.
package selfstat

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/statspipe/statspipe"
)

// Stat is a single internal counter.
type Stat interface {
	Name() string
	Incr(v int64)
	Set(v int64)
	Get() int64
}

// Registry holds the stats of one component. Each component owns its own
// registry; there is no process-wide one.
type Registry struct {
	component string

	mu    sync.Mutex
	stats map[string]*stat
}

// NewRegistry creates a registry for the named component, e.g. "statsd".
func NewRegistry(component string) *Registry {
	return &Registry{
		component: component,
		stats:     make(map[string]*stat),
	}
}

// Register returns the named counter, creating it on first use.
func (r *Registry) Register(name string) Stat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[name]; ok {
		return s
	}
	s := &stat{name: name}
	r.stats[name] = s
	return s
}

// Samples snapshots every counter as a sample in the given bucket, tagged with
// the owning component.
func (r *Registry) Samples(bucket string, timestamp float64) []statspipe.Sample {
	r.mu.Lock()
	names := make([]string, 0, len(r.stats))
	for name := range r.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	batch := make([]statspipe.Sample, 0, len(names))
	for _, name := range names {
		batch = append(batch, statspipe.Sample{
			Bucket:    bucket,
			Values:    statspipe.Fields(map[string]float64{"count": float64(r.stats[name].Get())}),
			Timestamp: timestamp,
			Metadata: map[string]string{
				"name":   name,
				"module": r.component,
			},
		})
	}
	r.mu.Unlock()
	return batch
}

type stat struct {
	name string
	v    int64
}

func (s *stat) Name() string  { return s.name }
func (s *stat) Incr(v int64)  { atomic.AddInt64(&s.v, v) }
func (s *stat) Set(v int64)   { atomic.StoreInt64(&s.v, v) }
func (s *stat) Get() int64    { return atomic.LoadInt64(&s.v) }
