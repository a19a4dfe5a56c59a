package query

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

var paramName = regexp.MustCompile(`^@\w+$`)

// Null is the explicit SQL NULL bound for JSON null parameters.
type Null struct{}

func (Null) String() string { return "NULL" }

// Param is a named, typed statement parameter. Name carries the leading "@".
type Param struct {
	Name  string
	Value any
}

// Bare returns the name without its "@".
func (p Param) Bare() string { return strings.TrimPrefix(p.Name, "@") }

// ConvertParams types loosely decoded JSON values. The result is sorted by name.
func ConvertParams(raw map[string]any) ([]Param, error) {
	out := make([]Param, 0, len(raw))
	for key, value := range raw {
		name := strings.TrimSpace(key)
		if !strings.HasPrefix(name, "@") {
			name = "@" + name
		}
		if !paramName.MatchString(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParam, key)
		}
		out = append(out, Param{Name: name, Value: ConvertValue(value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for i := 1; i < len(out); i++ {
		if strings.EqualFold(out[i-1].Name, out[i].Name) {
			return nil, fmt.Errorf("%w: %q given twice", ErrInvalidParam, out[i].Name)
		}
	}
	return out, nil
}

// ConvertValue types one loosely decoded JSON value: strings and booleans pass through, numbers
// become int64 when exact and float64 otherwise, nil becomes Null, anything else is stringified.
func ConvertValue(v any) any {
	switch x := v.(type) {
	case nil:
		return Null{}
	case string, bool, int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return preferInt(f)
	case float64:
		return preferInt(x)
	case float32:
		return preferInt(float64(x))
	default:
		if data, err := json.Marshal(x); err == nil {
			return string(data)
		}
		return fmt.Sprint(x)
	}
}

// preferInt returns an int64 when f holds an exact integer inside the range floats represent exactly.
func preferInt(f float64) any {
	const exact = 1 << 53
	if f == math.Trunc(f) && f >= -exact && f <= exact {
		return int64(f)
	}
	return f
}
