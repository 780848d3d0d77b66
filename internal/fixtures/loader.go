package fixtures

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the locations/cameras fixture file at path.
// Mirrors the teacher's plain os.ReadFile + yaml.Unmarshal loading
// style (see cmd/server/main.go's inline config read).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixtures: read %s: %w", path, err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("fixtures: parse %s: %w", path, err)
	}

	if len(reg.Locations) == 0 {
		return nil, fmt.Errorf("fixtures: %s declares no locations", path)
	}

	reg.index()
	return &reg, nil
}
