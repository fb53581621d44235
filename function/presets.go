package function

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultPreset is the synthetic preset that restores every param default.
const DefaultPreset = "default"

var ErrPresetNotFound = errors.New("preset not found")

// PresetNames lists the selectable presets of def, DefaultPreset first.
func PresetNames(def Definition) []string {
	names := make([]string, 0, len(def.Presets)+1)
	names = append(names, DefaultPreset)
	declared := make([]string, 0, len(def.Presets))
	for name := range def.Presets {
		if name != DefaultPreset {
			declared = append(declared, name)
		}
	}
	sort.Strings(declared)
	return append(names, declared...)
}

// ResolvePreset returns the concrete partial values selected by preset.
// Keys that are not declared params are dropped.
func ResolvePreset(def Definition, preset string) (Values, error) {
	if custom, ok := def.Presets[preset]; ok {
		out := make(Values, len(custom))
		for k, v := range custom {
			if def.Params.Has(k) {
				out[k] = v
			}
		}
		return out, nil
	}
	if preset == DefaultPreset {
		return Defaults(def), nil
	}
	return nil, fmt.Errorf("%w: %s has no preset %q", ErrPresetNotFound, def.Name, preset)
}
