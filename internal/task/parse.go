package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionError reports malformed task or recipient data. It always
// surfaces before any UI interaction begins.
type DefinitionError struct {
	Path    string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Path == "" {
		return "definition error: " + e.Message
	}
	return fmt.Sprintf("definition error: %s: %s", e.Path, e.Message)
}

func defErr(path, format string, args ...interface{}) *DefinitionError {
	return &DefinitionError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Load reads, parses and validates the task file at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve task directory: %w", err)
	}
	def.BaseDir = abs
	return def, nil
}

// Parse decodes and validates a task definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		var de *DefinitionError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, &DefinitionError{Message: err.Error()}
	}

	for i := range def.Steps {
		def.Steps[i].Index = i
	}
	for name, steps := range def.Lists {
		for i := range steps {
			steps[i].Index = i
		}
		def.Lists[name] = steps
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ResolvePath joins a relative path onto base.
func ResolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// Path resolves a path from the task file against the task's directory.
func (d *Definition) Path(p string) string {
	return ResolvePath(d.BaseDir, p)
}

// UnmarshalYAML decodes a step mapping with exactly one action key and
// the optional common keys label, optional and retries.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return defErr(position(node), "step must be a mapping")
	}

	var action Action
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]

		switch {
		case key.Value == "label" && val.Kind == yaml.ScalarNode:
			s.Label = val.Value
			continue
		case key.Value == "optional":
			if err := val.Decode(&s.Optional); err != nil {
				return defErr(position(key), "optional must be a boolean")
			}
			continue
		case key.Value == "retries":
			var n int
			if err := val.Decode(&n); err != nil || n < 0 {
				return defErr(position(key), "retries must be a non-negative integer")
			}
			s.Retries = &n
			continue
		}

		if action != nil {
			return defErr(position(key), "step has more than one action (%s and %s)", action.Kind(), key.Value)
		}
		a, err := decodeAction(Kind(key.Value), val)
		if err != nil {
			return err
		}
		action = a
	}

	if action == nil && s.Label != "" {
		action = Label{Name: s.Label}
	}
	if action == nil {
		return defErr(position(node), "step has no action")
	}
	s.Action = action
	if l, ok := action.(Label); ok && s.Label == "" {
		s.Label = l.Name
	}
	return nil
}

func decodeAction(kind Kind, val *yaml.Node) (Action, error) {
	at := position(val) + ": " + string(kind)
	scalar := val.Kind == yaml.ScalarNode && val.Tag != "!!null"

	switch kind {
	case KindLocateClick:
		return decodeAs[LocateClick](at, val)
	case KindClick:
		return decodeAs[Click](at, val)
	case KindMove:
		return decodeAs[Move](at, val)
	case KindDragDrop:
		return decodeAs[DragDrop](at, val)
	case KindTypeText:
		if scalar {
			return TypeText{Text: val.Value}, nil
		}
		return decodeAs[TypeText](at, val)
	case KindPress:
		switch {
		case scalar:
			return Press{Keys: splitKeys(val.Value)}, nil
		case val.Kind == yaml.SequenceNode:
			var keys []string
			if err := decodeInto(at, val, &keys); err != nil {
				return nil, err
			}
			return Press{Keys: keys}, nil
		}
		return decodeAs[Press](at, val)
	case KindWait:
		if scalar {
			var sec float64
			if err := decodeInto(at, val, &sec); err != nil {
				return nil, err
			}
			return Wait{Sec: sec}, nil
		}
		return decodeAs[Wait](at, val)
	case KindUploadFile, KindUploadDir:
		var a Upload
		if scalar {
			a.Path = val.Value
		} else if err := decodeInto(at, val, &a); err != nil {
			return nil, err
		}
		a.Dir = kind == KindUploadDir
		return a, nil
	case KindAssertPresent, KindAssertAbsent:
		var a Assert
		if err := decodeInto(at, val, &a); err != nil {
			return nil, err
		}
		a.Absent = kind == KindAssertAbsent
		return a, nil
	case KindScreenshot:
		if scalar {
			return Screenshot{Name: val.Value}, nil
		}
		return decodeAs[Screenshot](at, val)
	case KindFocusApp:
		if scalar {
			return FocusApp{Window: val.Value}, nil
		}
		return decodeAs[FocusApp](at, val)
	case KindEnsureLoggedIn:
		return decodeAs[EnsureLoggedIn](at, val)
	case KindGotoStep:
		if scalar {
			return Goto{Target: val.Value}, nil
		}
		return decodeAs[Goto](at, val)
	case KindLabel:
		if scalar {
			return Label{Name: val.Value}, nil
		}
		return decodeAs[Label](at, val)
	case KindForEachRecipient:
		return ForEachRecipient{}, nil
	}
	return nil, defErr(position(val), "unknown step kind %q", kind)
}

func decodeAs[T Action](at string, val *yaml.Node) (Action, error) {
	var a T
	if err := decodeInto(at, val, &a); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeInto(at string, val *yaml.Node, out interface{}) error {
	if val.Kind == yaml.ScalarNode && val.Tag == "!!null" {
		return nil
	}
	if err := val.Decode(out); err != nil {
		return defErr(at, "%v", err)
	}
	return nil
}

// splitKeys turns "ctrl+shift+v" into [ctrl shift v].
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, "+") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func position(n *yaml.Node) string {
	return fmt.Sprintf("line %d", n.Line)
}
