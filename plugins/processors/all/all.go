// Package all registers every processor plugin.
package all

import (
	_ "github.com/statspipe/statspipe/plugins/processors/rename"
)
