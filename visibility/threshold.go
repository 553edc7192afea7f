package visibility

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Threshold is a single trigger ratio or an ordered list of them. The zero
// value is unspecified. Shape is preserved: ScalarThreshold(0.5) and
// ListThreshold(0.5) are different thresholds.
type Threshold struct {
	values []float64
	list   bool
}

// ScalarThreshold is a single ratio.
func ScalarThreshold(v float64) Threshold {
	return Threshold{values: []float64{v}}
}

// ListThreshold is an ordered list of ratios.
func ListThreshold(vs ...float64) Threshold {
	return Threshold{values: append([]float64{}, vs...), list: true}
}

// IsZero reports an unspecified threshold.
func (t Threshold) IsZero() bool { return !t.list && len(t.values) == 0 }

// IsList reports the list shape.
func (t Threshold) IsList() bool { return t.list }

// Values returns a copy of the ratios.
func (t Threshold) Values() []float64 {
	return append([]float64(nil), t.values...)
}

// Validate checks every ratio is within [0,1].
func (t Threshold) Validate() error {
	for _, v := range t.values {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("visibility: threshold %v out of [0,1]", v)
		}
	}
	return nil
}

// canonical renders t deterministically. Floats use the shortest
// representation that round-trips.
func (t Threshold) canonical() string {
	if !t.list {
		if len(t.values) == 0 {
			return "null"
		}
		return strconv.FormatFloat(t.values[0], 'g', -1, 64)
	}
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (t Threshold) String() string { return t.canonical() }

// MarshalJSON encodes a number, an array, or null.
func (t Threshold) MarshalJSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return []byte(t.canonical()), nil
}

// UnmarshalJSON accepts a number, an array of numbers, or null.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*t = Threshold{}
		return nil
	case strings.HasPrefix(s, "["):
		var vs []float64
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("visibility: threshold: %w", err)
		}
		*t = ListThreshold(vs...)
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("visibility: threshold: %w", err)
		}
		*t = ScalarThreshold(v)
	}
	return t.Validate()
}

// UnmarshalYAML accepts a scalar, a sequence of scalars, or null.
func (t *Threshold) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*t = Threshold{}
			return nil
		}
		var v float64
		if err := value.Decode(&v); err != nil {
			return fmt.Errorf("visibility: threshold line %d: %w", value.Line, err)
		}
		*t = ScalarThreshold(v)
	case yaml.SequenceNode:
		var vs []float64
		if err := value.Decode(&vs); err != nil {
			return fmt.Errorf("visibility: threshold line %d: %w", value.Line, err)
		}
		*t = ListThreshold(vs...)
	default:
		return fmt.Errorf("visibility: threshold line %d: want number or list", value.Line)
	}
	return t.Validate()
}

// MarshalYAML mirrors UnmarshalYAML.
func (t Threshold) MarshalYAML() (any, error) {
	switch {
	case t.list:
		return t.Values(), nil
	case len(t.values) == 1:
		return t.values[0], nil
	}
	return nil, nil
}
