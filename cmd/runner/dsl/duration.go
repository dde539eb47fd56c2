package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a DSL duration: either an ISO-8601 string ("PT30S") or an
// object with days/hours/minutes/seconds/milliseconds fields.
type Duration struct {
	Days         int `json:"days,omitempty" yaml:"days,omitempty"`
	Hours        int `json:"hours,omitempty" yaml:"hours,omitempty"`
	Minutes      int `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	Seconds      int `json:"seconds,omitempty" yaml:"seconds,omitempty"`
	Milliseconds int `json:"milliseconds,omitempty" yaml:"milliseconds,omitempty"`
}

// UnmarshalYAML accepts both the scalar ISO-8601 form and the object form
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseISODuration(node.Value)
		if err != nil {
			return err
		}
		*d = *parsed
		return nil
	}

	type plain Duration
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(p)
	return nil
}

// ToTimeDuration converts to a time.Duration
func (d *Duration) ToTimeDuration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second +
		time.Duration(d.Milliseconds)*time.Millisecond
}

// IsZero reports whether all fields are zero
func (d *Duration) IsZero() bool {
	return d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0 && d.Milliseconds == 0
}

// ParseISODuration parses an ISO-8601 duration of the PnDTnHnMnS form.
// Years and months are rejected: they have no fixed length.
func ParseISODuration(s string) (*Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return nil, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	d := &Duration{}
	inTime := false
	components := 0

	for len(s) > 0 {
		if s[0] == 'T' {
			inTime = true
			s = s[1:]
			continue
		}

		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}
		if i == 0 || i == len(s) {
			return nil, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}

		value, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ISO-8601 duration %q: %w", orig, err)
		}
		unit := s[i]
		s = s[i+1:]

		switch {
		case unit == 'D' && !inTime:
			d.Days += int(value)
		case unit == 'H' && inTime:
			d.Hours += int(value)
		case unit == 'M' && inTime:
			d.Minutes += int(value)
		case unit == 'S' && inTime:
			d.Seconds += int(value)
			d.Milliseconds += int((value - float64(int(value))) * 1000)
		case unit == 'W' && !inTime:
			d.Days += int(value) * 7
		default:
			return nil, fmt.Errorf("unsupported ISO-8601 designator %q in %q", string(unit), orig)
		}
		components++
	}

	if components == 0 {
		return nil, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}

	return d, nil
}
