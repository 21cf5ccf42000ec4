package task

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

// Scope resolves ${name} placeholders against stacked variable layers.
// Later layers shadow earlier ones: task variables, then loop variables,
// then recipient fields.
type Scope struct {
	layers []map[string]string
}

// NewScope builds a scope from layers in increasing precedence.
func NewScope(layers ...map[string]string) Scope {
	return Scope{layers: layers}
}

// With returns a copy of the scope with layer added on top.
func (s Scope) With(layer map[string]string) Scope {
	layers := make([]map[string]string, 0, len(s.layers)+1)
	layers = append(layers, s.layers...)
	layers = append(layers, layer)
	return Scope{layers: layers}
}

// Lookup finds name in the highest-precedence layer that defines it.
func (s Scope) Lookup(name string) (string, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if v, ok := s.layers[i][name]; ok {
			return v, true
		}
	}
	return "", false
}

// Resolve substitutes every placeholder in text. Any unresolved name is a
// DefinitionError listing all missing names.
func (s Scope) Resolve(text string) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	missing := map[string]struct{}{}
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := s.Lookup(name)
		if !ok {
			missing[name] = struct{}{}
			return m
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", &DefinitionError{Message: "unresolved placeholder(s) " + strings.Join(names, ", ") + " in " + quote(text)}
	}
	return out, nil
}

// Placeholders lists the placeholder names used in text, in order of appearance.
func Placeholders(text string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return names
}

// Texts returns every placeholder-bearing string of the step.
func (s Step) Texts() []string {
	switch a := s.Action.(type) {
	case TypeText:
		return []string{a.Text}
	case Press:
		return a.Keys
	case Upload:
		return []string{a.Path}
	case Screenshot:
		return []string{a.Name}
	case FocusApp:
		return []string{a.Window}
	}
	return nil
}

// CheckResolvable verifies that every placeholder in steps resolves in scope.
func CheckResolvable(steps []Step, scope Scope) error {
	for _, st := range steps {
		for _, text := range st.Texts() {
			if _, err := scope.Resolve(text); err != nil {
				de := err.(*DefinitionError)
				de.Path = "step " + st.Name()
				return de
			}
		}
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}
