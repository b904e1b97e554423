package inputs

import "github.com/statspipe/statspipe"

// Creator builds a fresh input with its defaults applied.
type Creator func() statspipe.Input

// Inputs maps config table names to input constructors.
var Inputs = make(map[string]Creator)

// Add registers an input constructor under the given name.
func Add(name string, creator Creator) {
	Inputs[name] = creator
}
