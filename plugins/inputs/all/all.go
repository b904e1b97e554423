// Package all registers every input plugin.
package all

import (
	_ "github.com/statspipe/statspipe/plugins/inputs/docker"
	_ "github.com/statspipe/statspipe/plugins/inputs/statsd"
	_ "github.com/statspipe/statspipe/plugins/inputs/system"
)
