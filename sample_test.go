package statspipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarValues(t *testing.T) {
	v := Scalar(47)
	got, ok := v.Scalar()
	assert.True(t, ok)
	assert.Equal(t, 47.0, got)
	assert.Equal(t, map[string]float64{"value": 47}, v.Fields())
}

func TestFieldValues(t *testing.T) {
	v := Fields(map[string]float64{"count": 6, "rate": 0.6})
	_, ok := v.Scalar()
	assert.False(t, ok)
	assert.Equal(t, map[string]float64{"count": 6, "rate": 0.6}, v.Fields())
}
