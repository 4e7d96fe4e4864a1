package servicedef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// definitionSchema validates service definition files before they enter the
// registry, so a typo in a YAML file fails loudly instead of producing a
// half-configured service type.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "probe", "rotation"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "category": {"type": "string"},
    "probe": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"enum": ["http_head", "oauth_introspect", "balance", "sql_ping"]},
        "endpoint": {"type": "string"}
      }
    },
    "rotation": {
      "type": "object",
      "required": ["supported"],
      "properties": {
        "supported": {"type": "boolean"},
        "secretPrefix": {"type": "string"},
        "secretLength": {"type": "integer", "minimum": 0}
      }
    },
    "defaults": {
      "type": "object",
      "properties": {
        "requestsPerMinute": {"type": "integer", "minimum": 0},
        "maxConcurrent": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// LoadDir loads every *.yaml / *.yml definition in dir into the registry.
// Returns the number of definitions loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read service definition directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("invalid service definition %s: %w", entry.Name(), err)
		}
		if err := r.Register(def); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// LoadFile parses and validates a single service definition file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	return Parse(data)
}

// Parse validates raw YAML against the definition schema and decodes it.
func Parse(data []byte) (Definition, error) {
	// Schema validation happens on the JSON form of the document.
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	jsonData, err := json.Marshal(normalize(raw))
	if err != nil {
		return Definition{}, fmt.Errorf("failed to convert to JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return Definition{}, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return Definition{}, fmt.Errorf("schema validation failed: %s", strings.Join(problems, "; "))
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("failed to decode definition: %w", err)
	}
	return def, nil
}

// normalize converts yaml.v3's map[string]interface{} trees into forms
// encoding/json can marshal (YAML may produce map[interface{}]interface{}
// for nested maps).
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = normalize(item)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = normalize(item)
		}
		return s
	default:
		return v
	}
}
