package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/testutil"
)

func makeBatch(n int) []statspipe.Sample {
	batch := make([]statspipe.Sample, n)
	for i := range batch {
		batch[i] = statspipe.Sample{
			Bucket:   "counters",
			Values:   statspipe.Fields(map[string]float64{"count": 1}),
			Metadata: map[string]string{"name": "x"},
		}
	}
	return batch
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	b := newBuffer(2, testutil.Logger{})

	first := makeBatch(1)
	second := makeBatch(2)
	third := makeBatch(3)
	b.push(first)
	b.push(second)
	b.push(third)

	assert.EqualValues(t, 1, b.Drops())

	// The oldest batch went; the two newest survive in order.
	got := <-b.ch
	assert.Len(t, got, 2)
	got = <-b.ch
	assert.Len(t, got, 3)
}

func TestBufferKeepsAllBelowLimit(t *testing.T) {
	b := newBuffer(4, testutil.Logger{})
	for i := 0; i < 4; i++ {
		b.push(makeBatch(1))
	}
	assert.EqualValues(t, 0, b.Drops())
	assert.Len(t, b.ch, 4)
}

type doublingProcessor struct{}

func (doublingProcessor) Init() error { return nil }
func (doublingProcessor) Apply(in ...statspipe.Sample) []statspipe.Sample {
	return append(in, in...)
}

func TestEmitterAppliesProcessorsAndFansOut(t *testing.T) {
	b1 := newBuffer(4, testutil.Logger{})
	b2 := newBuffer(4, testutil.Logger{})
	em := &emitter{
		processors: []statspipe.Processor{doublingProcessor{}},
		buffers:    []*buffer{b1, b2},
	}

	em.Emit(makeBatch(1))

	require.Len(t, b1.ch, 1)
	require.Len(t, b2.ch, 1)
	assert.Len(t, <-b1.ch, 2)
	assert.Len(t, <-b2.ch, 2)
}
