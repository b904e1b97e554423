// Package agent wires inputs, processors and outputs together and owns the
// lifecycle: start listeners, poll inputs, fan samples out onto per-output
// buffers, and wind everything down on shutdown.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/logger"
)

type Agent struct {
	cfg *config.Config
	log statspipe.Logger
	clk clock.Clock
}

func New(cfg *config.Config) *Agent {
	return &Agent{
		cfg: cfg,
		log: logger.New("agent"),
		clk: clock.New(),
	}
}

// Run blocks until ctx is cancelled. On cancellation the service inputs are
// stopped (which triggers their final flush), the buffers are drained with a
// bounded timeout, and the outputs closed.
func (a *Agent) Run(ctx context.Context) error {
	for _, p := range a.cfg.Processors {
		if err := p.Init(); err != nil {
			return fmt.Errorf("initializing processor: %w", err)
		}
	}
	for _, in := range a.cfg.Inputs {
		if err := in.Init(); err != nil {
			return fmt.Errorf("initializing input: %w", err)
		}
	}

	buffers := make([]*buffer, 0, len(a.cfg.Outputs))
	var writers sync.WaitGroup
	for _, out := range a.cfg.Outputs {
		if err := out.Init(); err != nil {
			return fmt.Errorf("initializing output: %w", err)
		}
		if err := out.Connect(); err != nil {
			return fmt.Errorf("connecting output: %w", err)
		}
		b := newBuffer(a.cfg.Agent.BufferLimit, a.log)
		buffers = append(buffers, b)
		writers.Add(1)
		go func(out statspipe.Output, b *buffer) {
			defer writers.Done()
			for batch := range b.ch {
				if err := out.Write(batch); err != nil {
					a.log.Errorf("Writing batch failed: %s", err.Error())
				}
			}
		}(out, b)
	}

	em := &emitter{processors: a.cfg.Processors, buffers: buffers}

	var services []statspipe.ServiceInput
	var polled []statspipe.Input
	for _, in := range a.cfg.Inputs {
		if svc, ok := in.(statspipe.ServiceInput); ok {
			if err := svc.Start(em); err != nil {
				return fmt.Errorf("starting service input: %w", err)
			}
			services = append(services, svc)
			continue
		}
		polled = append(polled, in)
	}

	ticker := a.clk.Ticker(time.Duration(a.cfg.Agent.FlushTime))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			for _, in := range polled {
				if err := in.Gather(em); err != nil {
					a.log.Errorf("Gathering input failed: %s", err.Error())
				}
			}
		}
	}

	// Final flushes land in the buffers before they close.
	for _, svc := range services {
		svc.Stop()
	}
	for _, b := range buffers {
		close(b.ch)
	}

	drained := make(chan struct{})
	go func() {
		writers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Duration(a.cfg.Agent.DrainTimeout)):
		a.log.Warnf("Outputs did not drain within %s", time.Duration(a.cfg.Agent.DrainTimeout))
	}

	for _, out := range a.cfg.Outputs {
		if err := out.Close(); err != nil {
			a.log.Errorf("Closing output failed: %s", err.Error())
		}
	}
	return nil
}

// emitter runs batches through the processors and fans them out.
type emitter struct {
	processors []statspipe.Processor
	buffers    []*buffer
}

func (e *emitter) Emit(batch []statspipe.Sample) {
	for _, p := range e.processors {
		batch = p.Apply(batch...)
	}
	for _, b := range e.buffers {
		b.push(batch)
	}
}

// buffer is the bounded queue in front of one output. Above the high-water
// mark the oldest batch is dropped and counted; ingestion never blocks on a
// slow sink.
type buffer struct {
	ch    chan []statspipe.Sample
	log   statspipe.Logger
	mu    sync.Mutex
	drops int64
}

func newBuffer(limit int, log statspipe.Logger) *buffer {
	return &buffer{
		ch:  make(chan []statspipe.Sample, limit),
		log: log,
	}
}

func (b *buffer) push(batch []statspipe.Sample) {
	for {
		select {
		case b.ch <- batch:
			return
		default:
		}
		select {
		case <-b.ch:
			b.mu.Lock()
			b.drops++
			drops := b.drops
			b.mu.Unlock()
			if drops == 1 || drops%100 == 0 {
				b.log.Warnf("Output buffer full, dropped %d batches so far", drops)
			}
		default:
		}
	}
}

// Drops reports how many batches this buffer has discarded.
func (b *buffer) Drops() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}
