package prometheus

import (
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/outputs"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Prometheus serves the last flushed value of every series on a scrape
// endpoint. Series not updated within the expiration timeout disappear.
type Prometheus struct {
	Listen string `toml:"listen"`
	Path   string `toml:"path"`

	// Expiration drops series that stop being written.
	Expiration config.Duration `toml:"expiration"`

	Log statspipe.Logger `toml:"-"`

	mu     sync.Mutex
	series map[string]*series
	server *http.Server
}

type series struct {
	name        string
	labelKeys   []string
	labelValues []string
	value       float64
	updated     time.Time
}

func (p *Prometheus) Init() error {
	if p.Log == nil {
		p.Log = logger.New("outputs.prometheus")
	}
	p.series = make(map[string]*series)
	return nil
}

func (p *Prometheus) Connect() error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(p); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", p.Listen)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/"+strings.TrimPrefix(p.Path, "/"), promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	p.server = &http.Server{Handler: mux}

	go func() {
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			p.Log.Errorf("Scrape endpoint failed: %s", err.Error())
		}
	}()
	p.Log.Infof("Serving metrics on %q", listener.Addr().String())
	return nil
}

func (p *Prometheus) Close() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}

func (p *Prometheus) Write(batch []statspipe.Sample) error {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sample := range batch {
		labelKeys, labelValues := labels(sample.Metadata)
		if v, ok := sample.Values.Scalar(); ok {
			p.store(sanitize(sample.Bucket+"_"+sample.Name()), labelKeys, labelValues, v, now)
			continue
		}
		for field, v := range sample.Values.Fields() {
			p.store(sanitize(sample.Bucket+"_"+sample.Name()+"_"+field), labelKeys, labelValues, v, now)
		}
	}
	return nil
}

func (p *Prometheus) store(name string, labelKeys, labelValues []string, v float64, now time.Time) {
	key := name + "|" + strings.Join(labelKeys, ",") + "|" + strings.Join(labelValues, ",")
	p.series[key] = &series{
		name:        name,
		labelKeys:   labelKeys,
		labelValues: labelValues,
		value:       v,
		updated:     now,
	}
}

// Describe sends nothing; the collector is unchecked because the set of
// series follows whatever the pipeline emits.
func (p *Prometheus) Describe(chan<- *prometheus.Desc) {}

func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	cutoff := time.Now().Add(-time.Duration(p.Expiration))
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, s := range p.series {
		if s.updated.Before(cutoff) {
			delete(p.series, key)
			continue
		}
		desc := prometheus.NewDesc(s.name, "", s.labelKeys, nil)
		metric, err := prometheus.NewConstMetric(desc, prometheus.UntypedValue, s.value, s.labelValues...)
		if err != nil {
			p.Log.Debugf("Skipping series %s: %s", s.name, err.Error())
			continue
		}
		ch <- metric
	}
}

func labels(metadata map[string]string) (keys, values []string) {
	keys = make([]string, 0, len(metadata))
	for k := range metadata {
		if k == "name" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values = make([]string, 0, len(keys))
	sanitized := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, metadata[k])
		sanitized = append(sanitized, sanitize(k))
	}
	return sanitized, values
}

func sanitize(name string) string {
	return invalidNameChars.ReplaceAllString(name, "_")
}

func init() {
	outputs.Add("prometheus", func() statspipe.Output {
		return &Prometheus{
			Listen:     ":9090",
			Path:       "metrics",
			Expiration: config.Duration(60 * time.Second),
		}
	})
}
