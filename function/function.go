package function

// EngineID names a rendering engine, e.g. "canvas" or "wasm".
type EngineID string

// Param declares one parameter of a design function.
type Param struct {
	Name    string
	Type    string
	Default any
	Options []any
	Min     *float64
	Max     *float64
	Step    *float64
	Label   string
}

// Params is the ordered parameter declaration list of a function.
type Params []Param

// Lookup returns the declaration for name.
func (p Params) Lookup(name string) (Param, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return Param{}, false
}

// Has reports whether name is declared.
func (p Params) Has(name string) bool {
	_, ok := p.Lookup(name)
	return ok
}

// Names returns the parameter names in declaration order.
func (p Params) Names() []string {
	names := make([]string, len(p))
	for i, param := range p {
		names[i] = param.Name
	}
	return names
}

// Settings carries the engine binding and randomness flag of a function.
type Settings struct {
	Engine     EngineID
	UsesRandom bool
}

// Definition is a discovered design function.
type Definition struct {
	Name     string
	Handler  any
	Params   Params
	Presets  map[string]Values
	Settings Settings
}

// CanScale reports whether the function declares both sizing params,
// which makes it eligible for scale-to-fit previews.
func (d Definition) CanScale() bool {
	return d.Params.Has("width") && d.Params.Has("height")
}

// Defaults returns a Values holding the default of every declared param.
func Defaults(def Definition) Values {
	v := make(Values, len(def.Params))
	for _, p := range def.Params {
		v[p.Name] = p.Default
	}
	return v
}

// RunRequest is one invocation of a design function.
type RunRequest struct {
	Function string `json:"function"`
	Values   Values `json:"values"`
	Preview  bool   `json:"preview"`
}

// RunHandle is what a run reports back: the values actually used,
// including any engine-resolved random seed, and where an exported
// artifact was stored.
type RunHandle struct {
	Values   Values `json:"values"`
	Location string `json:"location,omitempty"`
}

// Seed returns the resolved random seed of the run, if any.
func (h RunHandle) Seed() (string, bool) {
	return h.Values.Seed()
}

func (d Definition) clone() Definition {
	out := d
	out.Params = append(Params(nil), d.Params...)
	if d.Presets != nil {
		out.Presets = make(map[string]Values, len(d.Presets))
		for name, values := range d.Presets {
			out.Presets[name] = values.Clone()
		}
	}
	return out
}
