package config

import (
	"fmt"
	"reflect"
	"time"
)

// Duration is a time.Duration written as "30s" or "5m" in TOML and env vars.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

var durationType = reflect.TypeOf(Duration(0))

// durationHook converts strings and plain numbers (nanoseconds) into
// Duration while viper decodes into Config.
func durationHook() func(from, to reflect.Type, data any) (any, error) {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			var d Duration
			err := d.UnmarshalText([]byte(v))
			return d, err
		case time.Duration:
			return Duration(v), nil
		case int:
			return Duration(v), nil
		case int64:
			return Duration(v), nil
		}
		return data, nil
	}
}
