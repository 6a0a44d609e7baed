package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteFile writes a scenario to a YAML file
func WriteFile(s *Scenario, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// ReadFile reads a scenario from a YAML (or JSON) file and normalizes it.
func ReadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	s.Normalize()

	return &s, nil
}
