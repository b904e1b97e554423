// Package testutil holds helpers shared by plugin tests.
package testutil

import (
	"sync"

	"github.com/statspipe/statspipe"
)

// Emitter captures every emitted batch for inspection.
type Emitter struct {
	mu      sync.Mutex
	samples []statspipe.Sample
}

func (e *Emitter) Emit(batch []statspipe.Sample) {
	e.mu.Lock()
	e.samples = append(e.samples, batch...)
	e.mu.Unlock()
}

// Samples returns everything captured so far.
func (e *Emitter) Samples() []statspipe.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]statspipe.Sample, len(e.samples))
	copy(out, e.samples)
	return out
}

// Reset discards the captured samples.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.samples = nil
	e.mu.Unlock()
}

// Find returns the captured samples with the given bucket and metric name.
func (e *Emitter) Find(bucket, name string) []statspipe.Sample {
	var out []statspipe.Sample
	for _, s := range e.Samples() {
		if s.Bucket == bucket && s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// Logger is a statspipe.Logger that swallows everything.
type Logger struct{}

func (Logger) Errorf(string, ...interface{}) {}
func (Logger) Error(...interface{})          {}
func (Logger) Warnf(string, ...interface{})  {}
func (Logger) Warn(...interface{})           {}
func (Logger) Infof(string, ...interface{})  {}
func (Logger) Info(...interface{})           {}
func (Logger) Debugf(string, ...interface{}) {}
func (Logger) Debug(...interface{})          {}
