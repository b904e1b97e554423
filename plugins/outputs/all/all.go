// Package all registers every output plugin.
package all

import (
	_ "github.com/statspipe/statspipe/plugins/outputs/elasticsearch"
	_ "github.com/statspipe/statspipe/plugins/outputs/graphite"
	_ "github.com/statspipe/statspipe/plugins/outputs/influxdb"
	_ "github.com/statspipe/statspipe/plugins/outputs/prometheus"
)
