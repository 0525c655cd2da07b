package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artificer-dev/artificer/pkg/models"
)

// Manifest is the YAML descriptor of one curated tool. The Python source it
// names lives next to it in the tools directory. Parameters are declared
// explicitly here rather than recovered from the source by reflection.
type Manifest struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Category     string         `yaml:"category"`
	Tags         []string       `yaml:"tags"`
	Entrypoint   string         `yaml:"entrypoint"`
	Source       string         `yaml:"source"`
	Params       ManifestParams `yaml:"params"`
	ReturnSchema map[string]any `yaml:"return_schema"`
	Requirements []string       `yaml:"requirements"`
}

// ManifestParams declares a tool's parameter schema: required names in call
// order, optional names with their defaults.
type ManifestParams struct {
	Required []manifestParam `yaml:"required"`
	Optional map[string]any  `yaml:"optional"`
}

// manifestParam accepts both the object form `- name: query` and the bare
// string form `- query`.
type manifestParam struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

func (p *manifestParam) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Name = value.Value
		p.Type = ""
		return nil
	}
	type alias manifestParam
	var a alias
	if err := value.Decode(&a); err != nil {
		return err
	}
	*p = manifestParam(a)
	return nil
}

// loadManifestDir scans dir for *.yaml/*.yml manifests and returns the tools
// that loaded cleanly plus a name → reason map for the ones that did not.
// A missing directory is created empty rather than treated as an error; a
// broken manifest or missing source records the tool unavailable and the
// scan continues.
func loadManifestDir(dir string) ([]*models.Tool, map[string]string, error) {
	unavailable := make(map[string]string)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create tools directory %s: %w", dir, err)
		}
		return nil, unavailable, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tools directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var tools []*models.Tool
	for _, name := range names {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		tool, err := loadManifest(dir, name)
		if err != nil {
			key := stem
			if tool != nil && tool.Name != "" {
				key = tool.Name
			}
			unavailable[key] = err.Error()
			continue
		}
		tools = append(tools, tool)
	}
	return tools, unavailable, nil
}

// loadManifest parses one manifest file and reads its Python source.
// On failure the returned tool may be non-nil but partially filled; callers
// use its Name (when present) to key the unavailable entry.
func loadManifest(dir, file string) (*models.Tool, error) {
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %v", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %v", err)
	}

	tool := &models.Tool{Name: m.Name}
	if m.Name == "" {
		return tool, fmt.Errorf("manifest is missing a tool name")
	}
	if m.Source == "" {
		return tool, fmt.Errorf("manifest is missing a source file")
	}

	code, err := os.ReadFile(filepath.Join(dir, m.Source))
	if err != nil {
		return tool, fmt.Errorf("source file %s: %v", m.Source, err)
	}

	schema, err := schemaJSON(m.ReturnSchema)
	if err != nil {
		return tool, fmt.Errorf("return_schema is not serializable: %v", err)
	}

	required := make([]models.ParamSpec, len(m.Params.Required))
	for i, p := range m.Params.Required {
		required[i] = models.ParamSpec{Name: p.Name, Type: p.Type}
	}

	tool.Description = m.Description
	tool.Category = m.Category
	tool.Tags = m.Tags
	tool.RequiredParams = required
	tool.OptionalParams = m.Params.Optional
	tool.ReturnSchema = schema
	tool.Code = string(code)
	tool.Entrypoint = m.Entrypoint
	tool.Requirements = m.Requirements
	tool.Active = true
	return tool, nil
}

func schemaJSON(schema map[string]any) (json.RawMessage, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
