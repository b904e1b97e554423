package elasticsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/statspipe/statspipe"
)

func TestDocument(t *testing.T) {
	doc := document(statspipe.Sample{
		Bucket: "counters",
		Values: statspipe.Fields(map[string]float64{
			"count": 6,
			"rate":  0.6,
		}),
		Timestamp: 1510138888.102,
		Metadata:  map[string]string{"name": "requests", "env": "prod"},
	})

	assert.Equal(t, "requests", doc["name"])
	assert.Equal(t, "prod", doc["env"])
	assert.Equal(t, 6.0, doc["count"])
	assert.Equal(t, 0.6, doc["rate"])
	// Space-separated with millisecond precision and no zone, the one form
	// the default index template parses.
	assert.Equal(t, "2017-11-08 11:01:28.102", doc["timestamp"])
}

func TestInitNeedsURLs(t *testing.T) {
	e := &Elasticsearch{}
	assert.Error(t, e.Init())
}
