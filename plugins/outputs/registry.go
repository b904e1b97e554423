package outputs

import "github.com/statspipe/statspipe"

// Creator builds a fresh output with its defaults applied.
type Creator func() statspipe.Output

// Outputs maps config table names to output constructors.
var Outputs = make(map[string]Creator)

// Add registers an output constructor under the given name.
func Add(name string, creator Creator) {
	Outputs[name] = creator
}
