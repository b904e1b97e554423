package statspipe

// Sample is one finished record handed from an input to the sinks. Timestamps
// are seconds since the Unix epoch with millisecond resolution.
type Sample struct {
	Bucket    string
	Values    SampleValues
	Timestamp float64
	Metadata  map[string]string
}

// Name returns the metric identifier carried in the reserved "name" tag.
func (s Sample) Name() string {
	return s.Metadata["name"]
}

// SampleValues is either a single scalar (gauges) or a map of named
// statistics (everything else). Sinks switch on the shape.
type SampleValues struct {
	scalar   float64
	fields   map[string]float64
	isScalar bool
}

// Scalar wraps a bare value.
func Scalar(v float64) SampleValues {
	return SampleValues{scalar: v, isScalar: true}
}

// Fields wraps a map of named statistics.
func Fields(fields map[string]float64) SampleValues {
	return SampleValues{fields: fields}
}

// Scalar returns the bare value and whether the sample carries one.
func (v SampleValues) Scalar() (float64, bool) {
	return v.scalar, v.isScalar
}

// Fields returns the statistics map, or a single-entry {"value": v} map for
// scalar samples so sinks that only deal in fields don't need a second path.
func (v SampleValues) Fields() map[string]float64 {
	if v.isScalar {
		return map[string]float64{"value": v.scalar}
	}
	return v.fields
}
