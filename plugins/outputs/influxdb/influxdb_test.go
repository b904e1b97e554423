package influxdb

import (
	"testing"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statspipe/statspipe"
)

func TestEncodeSample(t *testing.T) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Millisecond)
	encodeSample(&enc, statspipe.Sample{
		Bucket: "counters",
		Values: statspipe.Fields(map[string]float64{
			"rate":  0.6,
			"count": 6,
		}),
		Timestamp: 1700000000,
		Metadata:  map[string]string{"name": "requests", "env": "prod"},
	})
	require.NoError(t, enc.Err())
	assert.Equal(t,
		"counters,env=prod,name=requests count=6,rate=0.6 1700000000000\n",
		string(enc.Bytes()))
}

func TestEncodeScalarSample(t *testing.T) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Millisecond)
	encodeSample(&enc, statspipe.Sample{
		Bucket:    "gauges",
		Values:    statspipe.Scalar(47),
		Timestamp: 1700000000.5,
		Metadata:  map[string]string{"name": "temp"},
	})
	require.NoError(t, enc.Err())
	assert.Equal(t,
		"gauges,name=temp value=47 1700000000500\n",
		string(enc.Bytes()))
}

func TestInitNeedsHosts(t *testing.T) {
	i := &InfluxDB{}
	assert.Error(t, i.Init())
}
