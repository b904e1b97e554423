package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that unmarshals from TOML either as a duration
// string ("10s", "1m30s") or as a bare number of seconds.
type Duration time.Duration

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(value interface{}) error {
	switch v := value.(type) {
	case int64:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			// Plain numbers in quotes are taken as seconds, too.
			secs, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return err
			}
			parsed = time.Duration(secs * float64(time.Second))
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("unsupported duration value %v", value)
	}
	return nil
}

// Seconds returns the duration in seconds.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}
