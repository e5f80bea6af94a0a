package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML distinguishes "no default key present" from "default key
// present with a null value": the former means the attr is required, the
// latter means the attr's default is JSON null.
func (a *AttrSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("attr spec must be a mapping, got %v", node.Kind)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		val := node.Content[i+1]
		if key.Value != "default" {
			continue
		}
		var v interface{}
		if err := val.Decode(&v); err != nil {
			return err
		}
		a.Default = v
		a.HasDefault = true
	}
	return nil
}

// LoadSchemaSpecFile reads and parses a YAML schema document from path.
func LoadSchemaSpecFile(path string) (SchemaSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SchemaSpec{}, fmt.Errorf("read schema file %s: %w", path, err)
	}
	return LoadSchemaSpecBytes(data)
}

// LoadSchemaSpecBytes parses a YAML schema document from raw bytes.
func LoadSchemaSpecBytes(data []byte) (SchemaSpec, error) {
	var spec SchemaSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return SchemaSpec{}, fmt.Errorf("parse schema yaml: %w", err)
	}
	return spec, nil
}
