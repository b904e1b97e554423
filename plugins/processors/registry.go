package processors

import "github.com/statspipe/statspipe"

// Creator builds a fresh processor with its defaults applied.
type Creator func() statspipe.Processor

// Processors maps config table names to processor constructors.
var Processors = make(map[string]Creator)

// Add registers a processor constructor under the given name.
func Add(name string, creator Creator) {
	Processors[name] = creator
}
