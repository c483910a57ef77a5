package workflow

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Layer is one parsed configuration layer. A nil Root means the layer is
// absent and everything is inherited.
type Layer struct {
	Name string
	Root *yaml.Node
}

// DefaultLayer returns the built-in layer every resolution starts from.
func DefaultLayer() Layer {
	layer, err := ParseYAMLLayer("builtin", defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("workflow: built-in defaults are invalid: %v", err))
	}
	return layer
}

// ParseYAMLLayer parses a YAML document into a layer.
func ParseYAMLLayer(name string, data []byte) (Layer, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Layer{}, fmt.Errorf("%w %s: %v", ErrInvalidLayer, name, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return Layer{Name: name}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Layer{}, fmt.Errorf("%w %s: top level must be a mapping", ErrInvalidLayer, name)
	}
	return Layer{Name: name, Root: root}, nil
}

// ParseTOMLLayer parses a TOML document into a layer. TOML tables carry no key
// order, so states first introduced by a TOML layer are ordered by name.
func ParseTOMLLayer(name string, data []byte) (Layer, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Layer{}, fmt.Errorf("%w %s: %v", ErrInvalidLayer, name, err)
	}
	if len(raw) == 0 {
		return Layer{Name: name}, nil
	}
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return Layer{}, fmt.Errorf("%w %s: %v", ErrInvalidLayer, name, err)
	}
	return ParseYAMLLayer(name, encoded)
}

// Resolve merges the built-in layer with the given overrides (shared first,
// then per-project) and validates the result. Objects merge key by key,
// arrays and scalars replace.
func Resolve(overrides ...Layer) (*Config, error) {
	builtin := DefaultLayer()
	merged := builtin.Root
	for _, layer := range overrides {
		if layer.Root == nil {
			continue
		}
		merged = mergeNodes(merged, layer.Root)
	}

	builtinRoles, _, err := decodeRoles(childNode(builtin.Root, "roles"), nil)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(merged, builtinRoles)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type rawWorkflow struct {
	Initial      string                 `yaml:"initial"`
	ReviewPolicy ReviewPolicy           `yaml:"reviewPolicy"`
	States       map[string]StateConfig `yaml:"states"`
}

type rawTimeouts struct {
	GitPullMs          int `yaml:"gitPullMs"`
	ProviderMs         int `yaml:"providerMs"`
	StaleWorkerMinutes int `yaml:"staleWorkerMinutes"`
}

func decode(root *yaml.Node, builtinRoles map[string]RoleConfig) (*Config, error) {
	roles, disabled, err := decodeRoles(childNode(root, "roles"), builtinRoles)
	if err != nil {
		return nil, err
	}

	var wf rawWorkflow
	if node := childNode(root, "workflow"); node != nil {
		if err := node.Decode(&wf); err != nil {
			return nil, fmt.Errorf("%w: workflow: %v", ErrInvalidLayer, err)
		}
	}

	var timeouts rawTimeouts
	if node := childNode(root, "timeouts"); node != nil {
		if err := node.Decode(&timeouts); err != nil {
			return nil, fmt.Errorf("%w: timeouts: %v", ErrInvalidLayer, err)
		}
	}

	order := mappingKeys(childNode(childNode(root, "workflow"), "states"))
	return &Config{
		Roles:    roles,
		Disabled: disabled,
		Workflow: Workflow{
			Initial:      wf.Initial,
			ReviewPolicy: wf.ReviewPolicy,
			States:       wf.States,
			Order:        order,
		},
		Timeouts: Timeouts{
			GitPull:     time.Duration(timeouts.GitPullMs) * time.Millisecond,
			Provider:    time.Duration(timeouts.ProviderMs) * time.Millisecond,
			StaleWorker: time.Duration(timeouts.StaleWorkerMinutes) * time.Minute,
		},
	}, nil
}

// decodeRoles handles the "disabled"/false shorthand and fills fields missing
// from a re-enabled role from the built-in definition of the same id.
func decodeRoles(node *yaml.Node, builtin map[string]RoleConfig) (map[string]RoleConfig, []string, error) {
	roles := make(map[string]RoleConfig)
	var disabled []string
	if node == nil {
		return roles, nil, nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		value := node.Content[i+1]

		if value.Kind == yaml.ScalarNode {
			switch strings.ToLower(strings.TrimSpace(value.Value)) {
			case "disabled", "false", "off", "no":
				disabled = append(disabled, id)
				continue
			case "true", "enabled", "on", "yes":
				base, ok := builtin[id]
				if !ok {
					return nil, nil, fmt.Errorf("%w: roles.%s: cannot enable unknown role without a definition", ErrInvalidLayer, id)
				}
				base.ID = id
				roles[id] = base
				continue
			default:
				return nil, nil, fmt.Errorf("%w: roles.%s: unsupported value %q", ErrInvalidLayer, id, value.Value)
			}
		}

		var rc RoleConfig
		if err := value.Decode(&rc); err != nil {
			return nil, nil, fmt.Errorf("%w: roles.%s: %v", ErrInvalidLayer, id, err)
		}
		if base, ok := builtin[id]; ok {
			rc = inheritRole(rc, base)
		}
		rc.ID = id
		roles[id] = rc
	}
	return roles, disabled, nil
}

func inheritRole(rc RoleConfig, base RoleConfig) RoleConfig {
	if len(rc.Levels) == 0 {
		rc.Levels = base.Levels
	}
	if rc.DefaultLevel == "" {
		rc.DefaultLevel = base.DefaultLevel
	}
	if rc.Models == nil {
		rc.Models = base.Models
	}
	if rc.MaxWorkers == nil {
		rc.MaxWorkers = base.MaxWorkers
	}
	if len(rc.CompletionResults) == 0 {
		rc.CompletionResults = base.CompletionResults
	}
	return rc
}

func mergeNodes(base *yaml.Node, overlay *yaml.Node) *yaml.Node {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}
	if base.Kind != yaml.MappingNode || overlay.Kind != yaml.MappingNode {
		return overlay
	}

	out := &yaml.Node{Kind: yaml.MappingNode, Tag: base.Tag, Style: base.Style}
	out.Content = make([]*yaml.Node, len(base.Content), len(base.Content)+len(overlay.Content))
	copy(out.Content, base.Content)

	for i := 0; i+1 < len(overlay.Content); i += 2 {
		key, value := overlay.Content[i], overlay.Content[i+1]
		idx := keyIndex(out, key.Value)
		if value.Tag == "!!null" {
			// An explicit null removes the inherited entry.
			if idx >= 0 {
				out.Content = append(out.Content[:idx], out.Content[idx+2:]...)
			}
			continue
		}
		if idx >= 0 {
			out.Content[idx+1] = mergeNodes(out.Content[idx+1], value)
			continue
		}
		out.Content = append(out.Content, key, value)
	}
	return out
}

func keyIndex(mapping *yaml.Node, key string) int {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func childNode(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	if idx := keyIndex(mapping, key); idx >= 0 {
		return mapping.Content[idx+1]
	}
	return nil
}

func mappingKeys(mapping *yaml.Node) []string {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keys = append(keys, mapping.Content[i].Value)
	}
	return keys
}
