package corpus

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

type document struct {
	Languages []Language `yaml:"languages"`
}

// Builtin returns the default corpus shipped with the binary.
func Builtin() (*Registry, error) {
	reg, err := Parse(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("builtin corpus: %w", err)
	}
	return reg, nil
}

// Load reads a corpus definition from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a YAML corpus document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse corpus YAML: %w", err)
	}
	return NewRegistry(doc.Languages)
}
