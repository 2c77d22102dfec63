package common

import (
	"fmt"
	"time"
)

// Duration accepts either a Go duration string ("750ms", "30s") or a plain
// number of milliseconds in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var intValue int64
	if err := unmarshal(&intValue); err == nil {
		if intValue < 0 {
			return fmt.Errorf("duration must not be negative: %d", intValue)
		}
		*d = Duration(time.Duration(intValue) * time.Millisecond)
		return nil
	}
	var stringValue string
	if err := unmarshal(&stringValue); err == nil {
		duration, err := time.ParseDuration(stringValue)
		if err != nil {
			return fmt.Errorf("invalid duration format '%s': %v", stringValue, err)
		}
		if duration < 0 {
			return fmt.Errorf("duration must not be negative: %s", stringValue)
		}
		*d = Duration(duration)
		return nil
	}

	return fmt.Errorf("cannot unmarshal duration value")
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return SonicCfg.Marshal(time.Duration(d).String())
}

// WithDefault returns the duration value if it's positive, otherwise returns the default value.
func (d Duration) WithDefault(defaultVal time.Duration) time.Duration {
	if d > 0 {
		return time.Duration(d)
	}
	return defaultVal
}
