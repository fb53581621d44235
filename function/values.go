package function

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Reserved keys in Values.
const (
	ScaleToFitKey = "scaleToFit"
	RandomSeedKey = "randomSeed"
	PresetKey     = "preset"
)

// ScaleToFit is the preview-only target box a render should fit into.
type ScaleToFit struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Values maps parameter names to their current values.
type Values map[string]any

// Clone returns a shallow copy. A nil Values clones to an empty map.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Apply returns a copy of v with every update merged in order, later
// updates overriding earlier ones. v itself is left untouched, so a
// caller can swap the result in as one step.
func (v Values) Apply(updates ...Values) Values {
	out := v.Clone()
	for _, u := range updates {
		for k, val := range u {
			out[k] = val
		}
	}
	return out
}

// Float returns the numeric value for key or def when absent or not numeric.
func (v Values) Float(key string, def float64) float64 {
	f, ok := toFloat(v[key])
	if !ok {
		return def
	}
	return f
}

// Int returns the numeric value for key rounded to the nearest int.
func (v Values) Int(key string, def int) int {
	f, ok := toFloat(v[key])
	if !ok {
		return def
	}
	return int(math.Round(f))
}

// String returns the string value for key or def.
func (v Values) String(key string, def string) string {
	switch s := v[key].(type) {
	case string:
		return s
	case nil:
		return def
	default:
		return fmt.Sprint(s)
	}
}

// Bool returns the boolean value for key or def.
func (v Values) Bool(key string, def bool) bool {
	switch b := v[key].(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// ScaleToFit returns the scale-to-fit box. It accepts both the struct
// form set by the host and the map form produced by decoding JSON.
func (v Values) ScaleToFit() (ScaleToFit, bool) {
	switch s := v[ScaleToFitKey].(type) {
	case ScaleToFit:
		return s, true
	case *ScaleToFit:
		if s == nil {
			return ScaleToFit{}, false
		}
		return *s, true
	case map[string]any:
		w, okW := toFloat(s["width"])
		h, okH := toFloat(s["height"])
		if !okW || !okH {
			return ScaleToFit{}, false
		}
		return ScaleToFit{Width: w, Height: h}, true
	default:
		return ScaleToFit{}, false
	}
}

// Seed returns the random seed carried by v.
func (v Values) Seed() (string, bool) {
	raw, ok := v[RandomSeedKey]
	if !ok || raw == nil {
		return "", false
	}
	s := fmt.Sprint(raw)
	return s, s != ""
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
