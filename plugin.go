package statspipe

// Emitter receives batches of finished samples. The agent's implementation
// runs them through the configured processors and fans them out onto the
// per-output buffers.
type Emitter interface {
	Emit(batch []Sample)
}

// Input is a plugin that produces samples when polled by the agent.
type Input interface {
	// Init validates options and applies defaults.
	Init() error

	// Gather materializes the input's current state into samples.
	Gather(em Emitter) error
}

// ServiceInput is an input that runs on its own (listeners, servers). Service
// inputs flush themselves on their own schedule; the agent does not poll them.
type ServiceInput interface {
	Input

	// Start begins the service. The emitter remains valid until Stop returns.
	Start(em Emitter) error

	// Stop aborts any pending receive, runs one final flush and returns once
	// the service has wound down.
	Stop()
}

// Output is a sink for samples.
type Output interface {
	Init() error
	Connect() error
	Write(batch []Sample) error
	Close() error
}

// Processor transforms samples between inputs and outputs.
type Processor interface {
	Init() error
	Apply(in ...Sample) []Sample
}

// Logger is the logging interface handed to plugins.
type Logger interface {
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Warnf(format string, args ...interface{})
	Warn(args ...interface{})
	Infof(format string, args ...interface{})
	Info(args ...interface{})
	Debugf(format string, args ...interface{})
	Debug(args ...interface{})
}
