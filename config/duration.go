package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "500ms" style strings from JSON,
// YAML and TOML. Bare numbers are taken as nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText renders d in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a duration string, accepting a "d" suffix for days.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts a duration string or a nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML accepts a duration string or a nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got line %d", node.Line)
	}
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	return d.UnmarshalText([]byte(node.Value))
}

// UnmarshalTOML accepts a duration string or a nanosecond count.
func (d *Duration) UnmarshalTOML(v any) error {
	return d.set(v)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case float64:
		*d = Duration(int64(v))
	case int64:
		*d = Duration(v)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v (%T)", raw, raw)
	}
	return nil
}

// parseDuration parses durations that may include days (e.g., "14d")
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return v, nil
}
